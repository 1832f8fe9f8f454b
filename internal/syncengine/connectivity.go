package syncengine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"pocket-ledger/internal/infrastructure/monitoring"
)

// Probe answers whether the remote store is currently reachable. The postgres
// pool's Ping backs the production probe.
type Probe interface {
	Ping(ctx context.Context) error
}

// Monitor polls the probe and exposes the connectivity signal the sync core
// needs: a boolean query plus became-connected / became-disconnected events.
// Transition callbacks run synchronously in registration order, so a
// became-connected handler that drains the queue is guaranteed to finish
// before a later handler fetches remote snapshots.
type Monitor struct {
	probe    Probe
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu             sync.Mutex
	online         bool
	known          bool
	onConnected    []func(context.Context)
	onDisconnected []func(context.Context)

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewMonitor(probe Probe, interval, timeout time.Duration, logger *slog.Logger) *Monitor {
	if probe == nil {
		panic("probe cannot be nil for Monitor")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With("component", "ConnectivityMonitor"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// IsOnline reports the last observed connectivity state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnConnected registers a callback for offline-to-online transitions.
// Register before Start.
func (m *Monitor) OnConnected(fn func(context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = append(m.onConnected, fn)
}

// OnDisconnected registers a callback for online-to-offline transitions.
func (m *Monitor) OnDisconnected(fn func(context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnected = append(m.onDisconnected, fn)
}

// CheckNow probes once, records the observed state, and fires transition
// callbacks. Returns the observed state.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.probe.Ping(probeCtx)
	cancel()
	observed := err == nil

	m.mu.Lock()
	transitioned := !m.known || observed != m.online
	m.online = observed
	m.known = true
	var callbacks []func(context.Context)
	if transitioned {
		if observed {
			callbacks = append(callbacks, m.onConnected...)
		} else {
			callbacks = append(callbacks, m.onDisconnected...)
		}
	}
	m.mu.Unlock()

	if observed {
		monitoring.Sync.ConnectivityStatus.Set(1)
	} else {
		monitoring.Sync.ConnectivityStatus.Set(0)
	}

	if transitioned {
		if observed {
			m.logger.InfoContext(ctx, "Remote store became reachable")
		} else {
			m.logger.WarnContext(ctx, "Remote store became unreachable", "error", err)
		}
		for _, fn := range callbacks {
			fn(ctx)
		}
	}
	return observed
}

// Start begins periodic probing until Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		defer close(m.done)
		m.CheckNow(ctx)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckNow(ctx)
			}
		}
	}()
}

// Stop halts periodic probing and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}
