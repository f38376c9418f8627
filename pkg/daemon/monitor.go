// Package daemon runs the clipboard capture loop.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/forest6511/clipvault/pkg/clipboard"
	"github.com/forest6511/clipvault/pkg/notify"
	"github.com/forest6511/clipvault/pkg/vault"
)

// Defaults.
const (
	DefaultInterval   = 100 * time.Millisecond
	DefaultMaxBackoff = 5 * time.Second
)

// EventSource tags events published by the monitor.
const EventSource = "daemon"

// Store is where captures go. *vault.Vault satisfies it.
type Store interface {
	Insert(ctx context.Context, item vault.Item) (vault.Item, error)
}

// Config configures a Monitor.
type Config struct {
	Store      Store
	Clipboard  clipboard.Reader
	Notifier   *notify.Notifier
	Interval   time.Duration
	MaxBackoff time.Duration
	Logger     *slog.Logger
	Clock      func() time.Time
}

// Stats counts what the loop has done since Run started.
type Stats struct {
	Polls               uint64    `json:"polls"`
	Captures            uint64    `json:"captures"`
	Skips               uint64    `json:"skips"`
	Failures            uint64    `json:"failures"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastCapture         time.Time `json:"last_capture,omitempty"`
}

// Monitor polls the clipboard and records new content.
type Monitor struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// New returns a monitor. Store and Clipboard are required.
func New(cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Monitor{cfg: cfg, logger: cfg.Logger.With("component", "monitor")}
}

// Stats returns a snapshot of the counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Backoff returns the sleep before the next poll:
// min(interval * 2^failures, maxBackoff), and interval when there are no
// failures.
func Backoff(interval, maxBackoff time.Duration, failures int) time.Duration {
	d := interval
	for i := 0; i < failures && d < maxBackoff; i++ {
		d *= 2
	}
	if failures > 0 && d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// Run polls until ctx is cancelled and then returns nil. Cancellation is
// observed between polls; an insert already started completes first.
// Transient read and store failures back off and continue. A locked vault,
// a wrong key or an unsupported clipboard stop the loop with that error.
func (m *Monitor) Run(ctx context.Context) error {
	var (
		lastHash string
		rejected string
	)
	timer := time.NewTimer(m.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		err := m.poll(ctx, &lastHash, &rejected)
		if err != nil {
			return err
		}
		timer.Reset(Backoff(m.cfg.Interval, m.cfg.MaxBackoff, m.Stats().ConsecutiveFailures))
	}
}

func (m *Monitor) poll(ctx context.Context, lastHash, rejected *string) error {
	m.count(func(s *Stats) { s.Polls++ })

	c, err := m.cfg.Clipboard.Read(ctx)
	switch {
	case errors.Is(err, clipboard.ErrEmpty):
		m.succeed()
		return nil
	case errors.Is(err, clipboard.ErrUnsupported):
		return err
	case err != nil:
		if ctx.Err() != nil {
			return nil
		}
		m.fail("failed to read clipboard", err)
		return nil
	}

	hash := vault.HashContent(c.Data)
	if hash == *lastHash || hash == *rejected {
		m.count(func(s *Stats) { s.Skips++ })
		m.succeed()
		return nil
	}

	// the insert must not be torn by shutdown
	_, err = m.cfg.Store.Insert(context.WithoutCancel(ctx), vault.Item{
		Content:     c.Data,
		ContentType: c.ContentType,
	})
	switch {
	case err == nil:
		*lastHash = hash
		now := m.cfg.Clock()
		m.count(func(s *Stats) {
			s.Captures++
			s.LastCapture = now
		})
		m.succeed()
		m.logger.Debug("captured clipboard content", "size", len(c.Data), "content_type", c.ContentType)
		if m.cfg.Notifier != nil {
			m.cfg.Notifier.Publish(notify.Updated(EventSource))
		}
	case errors.Is(err, vault.ErrVaultLocked), errors.Is(err, vault.ErrWrongPassword):
		return err
	case errors.Is(err, vault.ErrContentTooLarge), errors.Is(err, vault.ErrEmptyContent):
		*rejected = hash
		m.logger.Warn("clipboard content rejected", "size", len(c.Data), "error", err)
		m.succeed()
	default:
		m.fail("failed to store clipboard content", err)
	}
	return nil
}

func (m *Monitor) count(f func(*Stats)) {
	m.mu.Lock()
	f(&m.stats)
	m.mu.Unlock()
}

func (m *Monitor) succeed() {
	m.count(func(s *Stats) { s.ConsecutiveFailures = 0 })
}

func (m *Monitor) fail(msg string, err error) {
	var n int
	m.count(func(s *Stats) {
		s.Failures++
		s.ConsecutiveFailures++
		n = s.ConsecutiveFailures
	})
	m.logger.Warn(msg, "error", err, "consecutive_failures", n,
		"next_poll", Backoff(m.cfg.Interval, m.cfg.MaxBackoff, n))
}
