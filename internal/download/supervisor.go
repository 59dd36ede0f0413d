// Package download supervises fetch workers: it validates and gates
// incoming requests, spawns one isolated child process per accepted
// download, and reaps workers without ever blocking the service loop.
package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/clipcast/clipcast/internal/clipstore"
	"github.com/clipcast/clipcast/internal/ratelimit"
)

var (
	ErrLibraryFull = errors.New("clip library is full")
	ErrQueueFull   = errors.New("too many downloads in progress")
	ErrAliasTaken  = errors.New("a clip with that name already exists")
)

// CooldownError carries the remaining wait for the requester.
type CooldownError struct {
	Retry time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("download cooldown active: retry in %ds", int(e.Retry.Seconds()+0.999))
}

// Worker is a handle to a spawned fetch process.
type Worker interface {
	// Done yields the process exit error (nil on exit 0) exactly once.
	Done() <-chan error
	// Kill forcibly terminates the process. Safe after exit.
	Kill()
}

// Spawner launches fetch workers. Swappable in tests.
type Spawner interface {
	Spawn(dest, url string) (Worker, error)
}

// ClipCatalog is the slice of the metadata store the supervisor needs
// for its capacity and duplicate checks.
type ClipCatalog interface {
	CountClips(ctx context.Context, owner string) (int, error)
	ClipExists(ctx context.Context, owner, name string) (bool, error)
}

// Request is one in-flight download.
type Request struct {
	Requester uint32
	Owner     string
	Name      string
	URL       string
	StartedAt time.Time

	dest   string
	worker Worker
}

// Result reports a finished download to the service loop. Err is nil
// on success, in which case Path holds the fetched file.
type Result struct {
	Requester uint32
	Owner     string
	Name      string
	Path      string
	Err       error
}

type Supervisor struct {
	layout  *clipstore.Layout
	limiter *ratelimit.DownloadLimiter
	catalog ClipCatalog
	spawner Spawner
	lookup  LookupFunc

	maxPerOwner int
	maxActive   int
	timeout     time.Duration

	mu     sync.Mutex
	active []*Request
}

func NewSupervisor(
	layout *clipstore.Layout,
	limiter *ratelimit.DownloadLimiter,
	catalog ClipCatalog,
	spawner Spawner,
	maxPerOwner, maxActive int,
	timeout time.Duration,
) *Supervisor {
	return &Supervisor{
		layout:      layout,
		limiter:     limiter,
		catalog:     catalog,
		spawner:     spawner,
		maxPerOwner: maxPerOwner,
		maxActive:   maxActive,
		timeout:     timeout,
	}
}

// SetLookup overrides hostname resolution for URL validation.
func (s *Supervisor) SetLookup(lookup LookupFunc) {
	s.lookup = lookup
}

// QueueDownload validates and admits a download request. The cooldown
// is recorded at acceptance, not completion, so a failed fetch still
// costs the requester their window.
func (s *Supervisor) QueueDownload(ctx context.Context, requester uint32, owner, url, name string) error {
	now := time.Now()

	if d := s.limiter.Check(owner, now); !d.Allowed {
		return &CooldownError{Retry: d.RetryAfter}
	}

	if !clipstore.ValidAlias(name) {
		return fmt.Errorf("invalid clip name %q", name)
	}

	count, err := s.catalog.CountClips(ctx, owner)
	if err != nil {
		return fmt.Errorf("failed to count clips: %w", err)
	}
	if count >= s.maxPerOwner {
		return ErrLibraryFull
	}

	s.mu.Lock()
	queueFull := len(s.active) >= s.maxActive
	pending := s.pendingForLocked(owner, name)
	s.mu.Unlock()
	if queueFull {
		return ErrQueueFull
	}
	if pending {
		return ErrAliasTaken
	}

	exists, err := s.catalog.ClipExists(ctx, owner, name)
	if err != nil {
		return fmt.Errorf("failed to check clip name: %w", err)
	}
	if exists {
		return ErrAliasTaken
	}

	if err := ValidateURL(ctx, url, s.lookup); err != nil {
		return err
	}

	dest, err := s.layout.NewTempPath()
	if err != nil {
		return fmt.Errorf("failed to allocate download path: %w", err)
	}

	s.limiter.Record(owner, now)

	worker, err := s.spawner.Spawn(dest, url)
	if err != nil {
		return fmt.Errorf("failed to start fetch worker: %w", err)
	}

	s.mu.Lock()
	s.active = append(s.active, &Request{
		Requester: requester,
		Owner:     owner,
		Name:      name,
		URL:       url,
		StartedAt: now,
		dest:      dest,
		worker:    worker,
	})
	s.mu.Unlock()
	return nil
}

// Tick reaps finished and timed-out workers without blocking. Each
// returned Result is independent; no failure here is fatal.
func (s *Supervisor) Tick(now time.Time) []Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []Result
	remaining := s.active[:0]
	for _, req := range s.active {
		select {
		case exitErr := <-req.worker.Done():
			results = append(results, s.finish(req, exitErr))
		default:
			if now.Sub(req.StartedAt) > s.timeout {
				req.worker.Kill()
				s.discard(req)
				results = append(results, Result{
					Requester: req.Requester,
					Owner:     req.Owner,
					Name:      req.Name,
					Err:       fmt.Errorf("download timed out after %s", s.timeout),
				})
			} else {
				remaining = append(remaining, req)
			}
		}
	}
	s.active = remaining
	return results
}

// ActiveCount reports in-flight downloads.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// SweepTemp removes orphaned partial downloads old enough that no live
// worker can still own them.
func (s *Supervisor) SweepTemp(now time.Time) {
	entries, err := os.ReadDir(s.layout.TempDir())
	if err != nil {
		return
	}
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > 2*s.timeout {
			os.Remove(filepath.Join(s.layout.TempDir(), entry.Name()))
		}
	}
}

func (s *Supervisor) finish(req *Request, exitErr error) Result {
	res := Result{
		Requester: req.Requester,
		Owner:     req.Owner,
		Name:      req.Name,
	}

	if exitErr == nil {
		if _, err := os.Stat(req.dest); err != nil {
			res.Err = fmt.Errorf("worker reported success but left no file")
		} else {
			res.Path = req.dest
			os.Remove(clipstore.SidecarPath(req.dest))
			return res
		}
	} else {
		res.Err = errors.New(s.workerReason(req))
	}

	s.discard(req)
	return res
}

// workerReason surfaces the sidecar error text a worker left behind,
// or a generic message when there is none.
func (s *Supervisor) workerReason(req *Request) string {
	text, err := os.ReadFile(clipstore.SidecarPath(req.dest))
	if err != nil || len(text) == 0 {
		return "download failed"
	}
	return strings.TrimSpace(string(text))
}

// discard removes any partial file and sidecar for a failed request.
func (s *Supervisor) discard(req *Request) {
	os.Remove(req.dest)
	os.Remove(clipstore.SidecarPath(req.dest))
}

func (s *Supervisor) pendingForLocked(owner, name string) bool {
	for _, req := range s.active {
		if req.Owner == owner && strings.EqualFold(req.Name, name) {
			return true
		}
	}
	return false
}
