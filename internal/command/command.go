// Package command builds the runnable unit of work for a configured job.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"slices"
	"strings"

	"cronexec/internal/config"
	"cronexec/pkg/systemd"
	logx "cronexec/pkg/logx"

	"github.com/kballard/go-shellquote"
)

// Func is one execution of a job.
type Func func(ctx context.Context) error

// Deps are the collaborators shared by all jobs.
type Deps struct {
	// HTTP is used by http jobs; it normally carries the preemptive auth
	// transport. http.DefaultClient when nil.
	HTTP *http.Client
	Log  logx.Logger
}

var ErrUnknownKind = errors.New("unknown job kind")

// StatusError is returned by http jobs when the response status is not
// expected.
type StatusError struct {
	Code int
	Want []int
}

func (e *StatusError) Error() string {
	if len(e.Want) == 0 {
		return fmt.Sprintf("unexpected status %d (want 2xx)", e.Code)
	}
	return fmt.Sprintf("unexpected status %d (want %v)", e.Code, e.Want)
}

const maxOutput = 512

// Build returns the Func for job. The job is assumed to have passed
// config.Validate.
func Build(job config.JobConfig, d Deps) (Func, error) {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("job", job.Name))

	switch strings.ToLower(strings.TrimSpace(job.Kind)) {
	case config.KindHTTP:
		return httpFunc(job, d.HTTP, log), nil
	case config.KindExec:
		return execFunc(job, log)
	case config.KindLog:
		return logFunc(job, log), nil
	case config.KindSystemd:
		unit, action := strings.TrimSpace(job.Unit), job.Action
		return func(ctx context.Context) error { return systemd.Do(ctx, action, unit) }, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, job.Kind)
	}
}

func httpFunc(job config.JobConfig, client *http.Client, log logx.Logger) Func {
	if client == nil {
		client = http.DefaultClient
	}
	method := strings.ToUpper(strings.TrimSpace(job.Method))
	if method == "" {
		method = http.MethodGet
	}
	url := strings.TrimSpace(job.URL)
	body := []byte(job.Body)
	want := slices.Clone(job.ExpectStatus)

	return func(ctx context.Context) error {
		var rd io.Reader
		if len(body) > 0 {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, rd)
		if err != nil {
			return err
		}
		for k, v := range job.Headers {
			req.Header.Set(k, v)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		n, _ := io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

		ok := resp.StatusCode >= 200 && resp.StatusCode < 300
		if len(want) > 0 {
			ok = slices.Contains(want, resp.StatusCode)
		}
		if !ok {
			return &StatusError{Code: resp.StatusCode, Want: want}
		}
		log.Debug("http job done", logx.String("method", method), logx.Int("status", resp.StatusCode), logx.Int64("bytes", n))
		return nil
	}
}

func execFunc(job config.JobConfig, log logx.Logger) (Func, error) {
	argv, err := shellquote.Split(job.Command)
	if err != nil {
		return nil, fmt.Errorf("job %q: parse command: %w", job.Name, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("job %q: empty command", job.Name)
	}
	env := slices.Clone(job.Env)
	dir := strings.TrimSpace(job.Dir)

	return func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Dir = dir
		if len(env) > 0 {
			cmd.Env = append(os.Environ(), env...)
		}
		out, err := cmd.CombinedOutput()
		if err != nil {
			if tail := tailOutput(out); tail != "" {
				return fmt.Errorf("%s: %w: %s", argv[0], err, tail)
			}
			return fmt.Errorf("%s: %w", argv[0], err)
		}
		log.Debug("exec job done", logx.String("cmd", argv[0]), logx.Int("output_bytes", len(out)))
		return nil
	}, nil
}

func logFunc(job config.JobConfig, log logx.Logger) Func {
	msg := strings.TrimSpace(job.Message)
	if msg == "" {
		msg = "scheduled job fired"
	}
	level := strings.ToLower(strings.TrimSpace(job.Level))
	return func(context.Context) error {
		switch level {
		case "debug":
			log.Debug(msg)
		case "warn", "warning":
			log.Warn(msg)
		case "error":
			log.Error(msg)
		default:
			log.Info(msg)
		}
		return nil
	}
}

func tailOutput(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > maxOutput {
		s = "..." + s[len(s)-maxOutput:]
	}
	return s
}
