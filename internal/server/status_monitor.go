package server

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/rougem/FinQuantOpt/internal/events"
)

// StatusMonitor periodically snapshots system status and emits it on the bus
// so SSE clients see load and run counts without polling.
type StatusMonitor struct {
	bus            *events.Bus
	systemHandlers *SystemHandlers
	log            zerolog.Logger
	stop           chan struct{}

	lastActiveRuns int
}

// NewStatusMonitor creates a new status monitor
func NewStatusMonitor(bus *events.Bus, systemHandlers *SystemHandlers, log zerolog.Logger) *StatusMonitor {
	return &StatusMonitor{
		bus:            bus,
		systemHandlers: systemHandlers,
		log:            log.With().Str("component", "status_monitor").Logger(),
		stop:           make(chan struct{}),
		lastActiveRuns: -1,
	}
}

// Start begins periodic status monitoring
func (m *StatusMonitor) Start(interval time.Duration) {
	go m.monitor(interval)
}

// Stop halts the monitoring loop.
func (m *StatusMonitor) Stop() {
	close(m.stop)
}

// monitor runs the periodic monitoring loop
func (m *StatusMonitor) monitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.checkStatus()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.checkStatus()
		}
	}
}

// checkStatus emits a SYSTEM_STATUS_CHANGED event when the active run count
// moves.
func (m *StatusMonitor) checkStatus() {
	if m.bus == nil || m.systemHandlers == nil {
		return
	}

	status, err := m.systemHandlers.GetSystemStatusSnapshot()
	if err != nil {
		m.log.Warn().Err(err).Msg("Status snapshot collected with warnings")
	}

	active := len(status.ActiveRuns)
	if active == m.lastActiveRuns {
		return
	}
	m.lastActiveRuns = active

	m.bus.Emit(events.SystemStatusChanged, "status_monitor", map[string]interface{}{
		"active_runs":    status.ActiveRuns,
		"cpu_percent":    status.CPUPercent,
		"memory_percent": status.MemoryPercent,
		"timestamp":      status.Timestamp,
	})
}
