// The fetchworker fetches a single URL to a destination path under a
// byte and wall-clock limit, verifies the result starts with a
// recognized audio signature, and exits. Exit code 0 with the file in
// place means success; anything else is failure, with a human-readable
// reason left in a sidecar file next to the destination.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/clipcast/clipcast/internal/clipstore"
	"github.com/clipcast/clipcast/internal/codec"
)

var (
	dest     = flag.String("dest", "", "destination file path")
	url      = flag.String("url", "", "source URL")
	maxBytes = flag.Int64("max-bytes", 8<<20, "maximum bytes to fetch")
	timeout  = flag.Duration("timeout", 110*time.Second, "fetch deadline")
)

func main() {
	flag.Parse()
	if *dest == "" || *url == "" {
		fmt.Fprintln(os.Stderr, "usage: fetchworker -dest PATH -url URL")
		os.Exit(2)
	}

	if err := fetch(); err != nil {
		// Best effort: the supervisor reads this to tell the player why.
		os.WriteFile(clipstore.SidecarPath(*dest), []byte(err.Error()), 0o644)
		os.Remove(*dest)
		os.Exit(1)
	}
}

func fetch() error {
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, *url, nil)
	if err != nil {
		return fmt.Errorf("bad request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server responded %s", resp.Status)
	}
	if resp.ContentLength > *maxBytes {
		return fmt.Errorf("file is too large (%d bytes, limit %d)", resp.ContentLength, *maxBytes)
	}

	out, err := os.Create(*dest)
	if err != nil {
		return fmt.Errorf("cannot create file: %w", err)
	}
	defer out.Close()

	// Read one byte past the cap so an oversized body is detected
	// instead of silently truncated.
	n, err := io.Copy(out, io.LimitReader(resp.Body, *maxBytes+1))
	if err != nil {
		return fmt.Errorf("transfer failed: %w", err)
	}
	if n > *maxBytes {
		return fmt.Errorf("file is too large (limit %d bytes)", *maxBytes)
	}
	if n == 0 {
		return fmt.Errorf("server sent an empty file")
	}

	if err := out.Sync(); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}

	head := make([]byte, 12)
	f, err := os.Open(*dest)
	if err != nil {
		return fmt.Errorf("cannot reopen file: %w", err)
	}
	defer f.Close()
	hn, _ := f.Read(head)
	if codec.DetectFormat(head[:hn]) == codec.FormatUnknown {
		return fmt.Errorf("file is not a recognized audio format (mp3, wav, or ogg)")
	}
	return nil
}
