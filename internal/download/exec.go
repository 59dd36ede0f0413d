package download

import (
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// ExecSpawner runs the fetchworker binary, one process per download.
// The worker enforces its own byte and wall-clock limits; the
// supervisor's timeout is the outer backstop.
type ExecSpawner struct {
	Bin      string
	MaxBytes int64
	Timeout  time.Duration
}

func (s *ExecSpawner) Spawn(dest, url string) (Worker, error) {
	cmd := exec.Command(s.Bin,
		"-dest", dest,
		"-url", url,
		"-max-bytes", strconv.FormatInt(s.MaxBytes, 10),
		"-timeout", s.Timeout.String(),
	)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", s.Bin, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	return &execWorker{cmd: cmd, done: done}, nil
}

var _ Spawner = (*ExecSpawner)(nil)

type execWorker struct {
	cmd  *exec.Cmd
	done chan error
}

func (w *execWorker) Done() <-chan error {
	return w.done
}

func (w *execWorker) Kill() {
	if w.cmd.Process != nil {
		w.cmd.Process.Kill()
	}
}
