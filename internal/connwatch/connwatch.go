// Package connwatch tracks whether the model provider is reachable.
//
// The dispatch loop already retries individual model calls. A Watcher
// answers the slower question of whether the provider is up at all:
// while it is down, probes back off exponentially; once it is up, it is
// polled at a fixed interval. Transitions are reported through OnChange
// so the server can publish them and /health can report them.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Config controls a Watcher. Zero durations take the defaults from
// DefaultConfig.
type Config struct {
	// Name identifies the service in logs and status output.
	Name string

	Probe ProbeFunc

	// InitialDelay is the first retry delay after a failed probe. It
	// doubles on each consecutive failure up to MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// PollInterval is the delay between probes while the service is up.
	PollInterval time.Duration

	ProbeTimeout time.Duration

	// OnChange is called after every transition between reachable and
	// unreachable, including the first probe result. err is nil when
	// the service became reachable. Called from the watcher goroutine.
	OnChange func(ready bool, err error)
}

// DefaultConfig returns the default probe schedule: 2s doubling to a
// 60s ceiling while down, a 60s poll while up, and a 10s probe timeout.
func DefaultConfig() Config {
	return Config{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

// Status is the health of the watched service, suitable for JSON in
// health endpoints.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	Checked   bool      `json:"checked"`
	LastCheck time.Time `json:"last_check,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher monitors one service.
type Watcher struct {
	cfg    Config
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	checked   bool
	ready     bool
	lastErr   error
	lastCheck time.Time
}

// Start probes the service immediately and keeps probing in a
// background goroutine until ctx is cancelled or Stop is called.
//
// Panics if Name is empty or Probe is nil.
func Start(ctx context.Context, cfg Config, logger *slog.Logger) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: Config.Name must not be empty")
	}
	if cfg.Probe == nil {
		panic("connwatch: Config.Probe must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultConfig()
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = max(def.MaxDelay, cfg.InitialDelay)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		cfg:    cfg,
		logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.run(ctx)
	return w
}

// IsReady reports whether the last probe succeeded.
func (w *Watcher) IsReady() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready
}

// Status returns the current health of the service.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Status{
		Name:      w.cfg.Name,
		Ready:     w.ready,
		Checked:   w.checked,
		LastCheck: w.lastCheck,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Stop cancels the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	delay := w.cfg.InitialDelay
	for {
		err := w.probe(ctx)
		if ctx.Err() != nil {
			return
		}
		w.record(err)

		next := w.cfg.PollInterval
		if err != nil {
			next = delay
			delay = min(delay*2, w.cfg.MaxDelay)
		} else {
			delay = w.cfg.InitialDelay
		}

		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (w *Watcher) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.ProbeTimeout)
	defer cancel()
	return w.cfg.Probe(ctx)
}

// record stores a probe result and reports a transition, if any.
func (w *Watcher) record(err error) {
	ready := err == nil

	w.mu.Lock()
	changed := !w.checked || w.ready != ready
	w.checked = true
	w.ready = ready
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()

	if !changed {
		if err != nil {
			w.logger.Debug("service still unreachable", "service", w.cfg.Name, "error", err)
		}
		return
	}
	if ready {
		w.logger.Info("service reachable", "service", w.cfg.Name)
	} else {
		w.logger.Warn("service unreachable", "service", w.cfg.Name, "error", err)
	}
	if w.cfg.OnChange != nil {
		w.cfg.OnChange(ready, err)
	}
}
