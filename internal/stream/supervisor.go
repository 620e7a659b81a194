// Package stream owns the lifecycle of the streaming chain connection:
// dial, heartbeat, reconnect with backoff, and fan-out of
// connected/reconnected signals to listeners (the Event Ingestor).
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"settler/internal/chain"
)

// State mirrors spec §3's StreamState: runtime-only connection status.
type State struct {
	IsConnected       bool
	LastBlockAt       time.Time
	ReconnectAttempts uint32
}

const (
	// defaultStaleThreshold is T_stale from §4.B: no block for this
	// long and the monitor loop forces a reconnect.
	defaultStaleThreshold = 120 * time.Second
	// defaultMonitorInterval is the service-layer staleness check
	// cadence, the 60s loop described in §4.B. This loop is the only
	// staleness check; the chain transport runs none of its own.
	defaultMonitorInterval = 60 * time.Second
	// hardResetAfter is the "180s before forcing a full reset" margin.
	hardResetAfter = 180 * time.Second

	maxBackoff      = 30 * time.Second
	defaultMaxRetry = 10
)

// Config tunes the supervisor's staleness and retry behavior. The
// zero value is not usable directly; use Defaults() as a base.
type Config struct {
	StaleThreshold  time.Duration
	MonitorInterval time.Duration
	MaxRetry        int
}

// Defaults returns the spec's §4.B defaults.
func Defaults() Config {
	return Config{
		StaleThreshold:  defaultStaleThreshold,
		MonitorInterval: defaultMonitorInterval,
		MaxRetry:        defaultMaxRetry,
	}
}

// Supervisor owns one streaming connection's reconnect loop.
type Supervisor struct {
	client *chain.Client
	wssURL string
	logger *zap.Logger
	cfg    Config

	mu        sync.Mutex
	state     State
	listeners []func()

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Supervisor for the given client's streaming connection
// using the spec's default staleness and retry parameters.
func New(client *chain.Client, wssURL string, logger *zap.Logger) *Supervisor {
	return NewWithConfig(client, wssURL, Defaults(), logger)
}

// NewWithConfig builds a Supervisor with explicit tuning, used when
// the process config overrides the §4.B defaults.
func NewWithConfig(client *chain.Client, wssURL string, cfg Config, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = defaultStaleThreshold
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = defaultMonitorInterval
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = defaultMaxRetry
	}
	return &Supervisor{
		client: client,
		wssURL: wssURL,
		logger: logger.With(zap.String("component", "stream-supervisor")),
		cfg:    cfg,
	}
}

// OnConnected registers a listener invoked every time the stream
// transitions to CONNECTED, including after a reconnect. The Event
// Ingestor uses this to re-subscribe.
func (s *Supervisor) OnConnected(fn func()) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// State returns a snapshot of the current stream state, used by the
// Health Surface.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins the heartbeat/reconnect loop in the background. The
// streaming connection is already dialed by chain.Dial; watchHeads
// subscribes on it and is the sole place that marks the stream
// connected, so listeners fire exactly once per connect.
func (s *Supervisor) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(runCtx)
	return nil
}

// Stop cancels the monitor loop and the active subscription, leaving
// StreamState.IsConnected false. In-flight settlement transactions are
// untouched — that's the caller's (Dispatcher's) own context.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
	s.mu.Lock()
	s.state.IsConnected = false
	s.mu.Unlock()
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)

	headCh := make(chan struct{}, 1)
	go s.watchHeads(ctx, headCh)

	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-headCh:
			s.touchHeartbeat()
		case <-ticker.C:
			s.checkStaleness(ctx)
		}
	}
}

// watchHeads subscribes to new block headers and signals the monitor
// loop on every one received; on subscription error it drives the
// reconnect loop itself so the heartbeat never silently stops.
func (s *Supervisor) watchHeads(ctx context.Context, signal chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		headerCh := make(chan *types.Header, 16)
		sub, err := s.client.SubscribeNewHead(ctx, headerCh)
		if err != nil {
			s.logger.Warn("subscribe new head failed", zap.Error(err))
			if !s.reconnect(ctx) {
				return
			}
			continue
		}

		s.markConnected()

		streaming := true
		for streaming {
			select {
			case <-ctx.Done():
				sub.Unsubscribe()
				return
			case err := <-sub.Err():
				s.logger.Warn("head subscription error", zap.Error(err))
				streaming = false
			case <-headerCh:
				select {
				case signal <- struct{}{}:
				default:
				}
			}
		}

		if !s.reconnect(ctx) {
			return
		}
	}
}

// markConnected is invoked exactly once per successful subscribe, from
// watchHeads — never from Start or reconnect directly — so every
// OnConnected listener fires exactly once per connect instead of once
// per dial-and-subscribe pair.
func (s *Supervisor) markConnected() {
	s.mu.Lock()
	wasConnected := s.state.IsConnected
	s.state.IsConnected = true
	s.state.LastBlockAt = time.Now()
	s.state.ReconnectAttempts = 0
	listeners := append([]func(){}, s.listeners...)
	s.mu.Unlock()

	if !wasConnected {
		s.logger.Info("stream connected")
	}
	for _, fn := range listeners {
		fn()
	}
}

func (s *Supervisor) touchHeartbeat() {
	s.mu.Lock()
	s.state.LastBlockAt = time.Now()
	s.mu.Unlock()
}

func (s *Supervisor) checkStaleness(ctx context.Context) {
	s.mu.Lock()
	last := s.state.LastBlockAt
	s.mu.Unlock()

	if last.IsZero() {
		return
	}
	age := time.Since(last)
	if age < s.cfg.StaleThreshold {
		return
	}

	s.logger.Warn("stream stale, forcing reconnect", zap.Duration("age", age))
	if age >= hardResetAfter {
		s.logger.Warn("stream stale beyond hard reset window, tearing down hard", zap.Duration("age", age))
	}
	s.reconnect(ctx)
}

// reconnect tears down the current stream and waits with exponential
// backoff capped at 30s before the caller retries. Returns false if
// the context was cancelled during the wait or the attempt cap was
// exceeded.
func (s *Supervisor) reconnect(ctx context.Context) bool {
	s.mu.Lock()
	s.state.IsConnected = false
	s.mu.Unlock()

	for {
		s.mu.Lock()
		attempt := s.state.ReconnectAttempts
		s.mu.Unlock()

		if int(attempt) >= s.cfg.MaxRetry {
			s.logger.Error("reconnect attempts exhausted", zap.Uint32("attempts", attempt))
			return false
		}

		delay := backoffDelay(attempt)
		s.logger.Info("reconnecting", zap.Uint32("attempt", attempt+1), zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}

		if err := s.client.ReconnectStream(ctx, s.wssURL); err != nil {
			s.mu.Lock()
			s.state.ReconnectAttempts++
			s.mu.Unlock()
			s.logger.Warn("reconnect attempt failed", zap.Error(err))
			continue
		}

		return true
	}
}

func backoffDelay(attempt uint32) time.Duration {
	delay := time.Second << attempt
	if delay > maxBackoff || delay <= 0 {
		delay = maxBackoff
	}
	return delay
}
