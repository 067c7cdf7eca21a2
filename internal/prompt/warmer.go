// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package prompt

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adviso-dev/adviso/internal/provider"
	adverr "github.com/adviso-dev/adviso/pkg/errors"
)

// DefaultPingInterval is how often an active session's cache is pinged.
const DefaultPingInterval = 4 * time.Minute

// DefaultIdleTimeout is how long a session may be inactive before its
// warmer is torn down.
const DefaultIdleTimeout = 10 * time.Minute

// Warmer keeps vendor prompt caches warm for active sessions. Each session
// owns a cancellable timer issuing a minimal-cost ping on the interval; the
// timer is torn down when the session closes or goes idle. Sessions are
// keyed individually so one session's lifecycle never touches another's.
type Warmer struct {
	completer    provider.Completer
	logger       *slog.Logger
	pingInterval time.Duration
	idleTimeout  time.Duration

	mu       sync.Mutex
	sessions map[string]*warmSession
	closed   bool
}

type warmSession struct {
	cancel     context.CancelFunc
	segments   []provider.Segment
	lastActive time.Time // guarded by Warmer.mu
}

// WarmerConfig holds Warmer construction parameters. Zero durations take
// the defaults.
type WarmerConfig struct {
	PingInterval time.Duration
	IdleTimeout  time.Duration
}

// NewWarmer creates a Warmer issuing pings through completer.
func NewWarmer(completer provider.Completer, cfg WarmerConfig, logger *slog.Logger) *Warmer {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Warmer{
		completer:    completer,
		logger:       logger,
		pingInterval: cfg.PingInterval,
		idleTimeout:  cfg.IdleTimeout,
		sessions:     make(map[string]*warmSession),
	}
}

// Start registers a session and begins its keep-alive loop. Starting an
// already-registered session refreshes its activity instead.
func (w *Warmer) Start(sessionID string, segments []provider.Segment) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return adverr.New(adverr.CodePromptWarmerClosed, "warmer is closed",
			adverr.FieldSessionID(sessionID))
	}

	if existing, ok := w.sessions[sessionID]; ok {
		existing.lastActive = time.Now()
		existing.segments = segments
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	session := &warmSession{
		cancel:     cancel,
		segments:   segments,
		lastActive: time.Now(),
	}
	w.sessions[sessionID] = session

	go w.run(ctx, sessionID)
	return nil
}

// Touch records session activity, deferring the idle teardown.
func (w *Warmer) Touch(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if session, ok := w.sessions[sessionID]; ok {
		session.lastActive = time.Now()
	}
}

// Stop tears down one session's keep-alive loop. Stopping an unknown
// session is a no-op.
func (w *Warmer) Stop(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked(sessionID)
}

// StopAll tears down every session and refuses further Starts.
func (w *Warmer) StopAll() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	for id := range w.sessions {
		w.stopLocked(id)
	}
}

// Active reports how many sessions currently have a running warmer.
func (w *Warmer) Active() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sessions)
}

func (w *Warmer) stopLocked(sessionID string) {
	if session, ok := w.sessions[sessionID]; ok {
		session.cancel()
		delete(w.sessions, sessionID)
	}
}

func (w *Warmer) run(ctx context.Context, sessionID string) {
	ticker := time.NewTicker(w.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.expireIfIdle(sessionID) {
				return
			}
			w.ping(ctx, sessionID)
		}
	}
}

// expireIfIdle tears the session down when it has been inactive past the
// idle timeout, reporting whether it did.
func (w *Warmer) expireIfIdle(sessionID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	session, ok := w.sessions[sessionID]
	if !ok {
		return true
	}
	if time.Since(session.lastActive) < w.idleTimeout {
		return false
	}

	w.logger.Debug("warmer session idle, tearing down", "session_id", sessionID)
	w.stopLocked(sessionID)
	return true
}

// ping issues a minimal-cost completion whose only purpose is touching the
// cached prefix before the vendor's cache TTL lapses.
func (w *Warmer) ping(ctx context.Context, sessionID string) {
	w.mu.Lock()
	session, ok := w.sessions[sessionID]
	if !ok {
		w.mu.Unlock()
		return
	}
	segments := session.segments
	w.mu.Unlock()

	_, err := w.completer.Complete(ctx, provider.Request{
		Segments:  segments,
		Messages:  []provider.Message{{Role: provider.MessageRoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	if err != nil {
		// A failed ping costs a cache miss on the next real call, nothing
		// more; do not tear the session down for it.
		w.logger.Warn("cache keep-alive ping failed", "session_id", sessionID, "error", err)
	}
}
