package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ErrScanInProgress is returned when a scan is requested while one runs.
var ErrScanInProgress = errors.New("scan already in progress")

// Result is what Start delivers once its scan ends.
type Result struct {
	Summary Summary
	Err     error
}

// Status describes the service between and during scans.
type Status struct {
	Running     bool
	LastScanAt  time.Time
	LastSummary *Summary
}

// Service owns the checkpoint file and allows one scan at a time.
type Service struct {
	scanner        *Scanner
	checkpointPath string

	mu      sync.Mutex
	running bool
	status  *Status // nil until loaded from the checkpoint or a scan ends
}

// NewService creates a Service persisting its checkpoint at checkpointPath.
func NewService(s *Scanner, checkpointPath string) *Service {
	return &Service{scanner: s, checkpointPath: checkpointPath}
}

// Scan loads the checkpoint, runs one pass and saves the checkpoint again,
// also after a failed or cancelled pass. It blocks until the pass ends.
func (s *Service) Scan(ctx context.Context, roots []string, opts RunOptions) (Summary, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return Summary{}, ErrScanInProgress
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	cp, err := LoadCheckpoint(s.checkpointPath)
	if err != nil {
		log.WithError(err).Warn("starting from an empty checkpoint")
	}

	sum, cp, runErr := s.scanner.Run(ctx, roots, cp, opts)

	if err := cp.Save(s.checkpointPath); err != nil {
		log.WithField("path", s.checkpointPath).WithError(err).Error("could not save scan checkpoint")
		if runErr == nil {
			runErr = err
		}
	}

	s.mu.Lock()
	s.status = &Status{LastScanAt: cp.LastScanAt, LastSummary: cp.LastSummary}
	s.mu.Unlock()

	return sum, runErr
}

// Start runs Scan in its own goroutine. The channel receives exactly one
// Result and is then closed.
func (s *Service) Start(ctx context.Context, roots []string, opts RunOptions) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		sum, err := s.Scan(ctx, roots, opts)
		out <- Result{Summary: sum, Err: err}
	}()
	return out
}

// Status reports whether a scan runs and how the last completed one went.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == nil {
		cp, err := LoadCheckpoint(s.checkpointPath)
		if err != nil {
			log.WithError(err).Debug("no status available")
		}
		s.status = &Status{LastScanAt: cp.LastScanAt, LastSummary: cp.LastSummary}
	}
	st := *s.status
	st.Running = s.running
	return st
}

// Schedule rescans roots on a cron spec ("@hourly", "0 3 * * *") until the
// returned stop function is called. Runs that find a scan in progress are
// skipped.
func (s *Service) Schedule(ctx context.Context, spec string, roots []string) (stop func(), err error) {
	c := cron.New(cron.WithLogger(cronLogger{log}))
	_, err = c.AddFunc(spec, func() {
		_, err := s.Scan(ctx, roots, RunOptions{})
		switch {
		case errors.Is(err, ErrScanInProgress):
			log.Debug("scheduled scan skipped, one is already running")
		case err != nil:
			log.WithError(err).Warn("scheduled scan failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid scan schedule %q: %w", spec, err)
	}
	c.Start()
	log.WithField("schedule", spec).Info("scheduled scans enabled")
	return func() { <-c.Stop().Done() }, nil
}

// cronLogger routes cron's own messages to logrus.
type cronLogger struct {
	e *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.e.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.e.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(kv []any) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
