// Package schedule wraps cron expression handling for the maintenance
// sweep.
package schedule

import (
	"fmt"
	"time"

	"github.com/hashicorp/cronexpr"
)

// NextRunAfter returns the first time the cron expression fires after
// the given instant.
func NextRunAfter(cron string, after time.Time) (time.Time, error) {
	expr, err := cronexpr.Parse(cron)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	next := expr.Next(after)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("cron expression %q never fires", cron)
	}
	return next, nil
}

// NextRunTimesAfter returns the next N run times after a specific time.
// It returns an error if the cron expression is invalid or if n is
// less than 1.
func NextRunTimesAfter(cron string, after time.Time, n int) ([]time.Time, error) {
	if n <= 0 {
		return nil, fmt.Errorf("count must be greater than 0")
	}
	expr, err := cronexpr.Parse(cron)
	if err != nil {
		return nil, err
	}
	return expr.NextN(after, uint(n)), nil
}

func ValidateCron(cron string) error {
	_, err := cronexpr.Parse(cron)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
