package gpusched

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/minerudispatch/internal/parser"
)

// timeoutError marks a hard-timeout kill so callers and metrics can tell
// it apart from ordinary parse failures.
type timeoutError struct {
	limit    time.Duration
	pipeline string
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("parse hard timeout after %ds (pipeline=%s)", int(e.limit.Seconds()), e.pipeline)
}

func isTimeout(err error) bool {
	var te *timeoutError
	return errors.As(err, &te)
}

// runChild executes one parse inside the worker binary. The child gets
// the request as JSON on stdin, sees only the assigned GPU through
// CUDA_VISIBLE_DEVICES, and runs in its own process group so a hard
// timeout can kill the whole tree with SIGKILL.
func (s *Scheduler) runChild(gpuID string, t Task, timeout time.Duration) (parser.Result, error) {
	req, err := parser.BuildRequest(t.Path, t.OutputDir, t.Options)
	if err != nil {
		return parser.Result{}, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return parser.Result{}, fmt.Errorf("encode parse request: %w", err)
	}

	cmd := exec.Command(s.cfg.WorkerBin)
	cmd.Env = append(os.Environ(), "CUDA_VISIBLE_DEVICES="+gpuID)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return parser.Result{}, parser.WrapError(t.Path, fmt.Errorf("start worker %s: %w", s.cfg.WorkerBin, err))
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		// Kill the whole process group, the parse engine forks helpers.
		if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
			log.Warn().Err(err).Str("gpu", gpuID).Msg("failed to kill timed-out worker group")
		}
		<-waitCh
		return parser.Result{}, parser.WrapError(t.Path, &timeoutError{limit: timeout, pipeline: t.Pipeline})
	case waitErr := <-waitCh:
		if waitErr != nil {
			msg := "unknown parse error"
			if s := bytes.TrimSpace(stderr.Bytes()); len(s) > 0 {
				msg = fmt.Sprintf("unknown parse error: %s", tail(string(s), 500))
			}
			return parser.Result{}, parser.WrapError(t.Path, fmt.Errorf("%s: %w", msg, waitErr))
		}
	}

	var res parser.Response
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return parser.Result{}, parser.WrapError(t.Path, fmt.Errorf("decode worker response: %w", err))
	}
	return parser.CheckResult(t.Path, res)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
