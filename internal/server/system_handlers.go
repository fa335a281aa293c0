// Package server provides the HTTP server and routing for the optimizer.
package server

import (
	"encoding/json"
	"net/http"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/rougem/FinQuantOpt/internal/database"
	"github.com/rougem/FinQuantOpt/internal/modules/hybrid"
)

// SystemHandlers serves system monitoring endpoints
type SystemHandlers struct {
	log       zerolog.Logger
	dataDir   string
	databases map[string]*database.DB
	runs      *hybrid.Repository
	service   *hybrid.Service
	startedAt time.Time
}

// NewSystemHandlers creates system monitoring handlers
func NewSystemHandlers(log zerolog.Logger, dataDir string, databases map[string]*database.DB, runs *hybrid.Repository, service *hybrid.Service) *SystemHandlers {
	return &SystemHandlers{
		log:       log.With().Str("handler", "system").Logger(),
		dataDir:   dataDir,
		databases: databases,
		runs:      runs,
		service:   service,
		startedAt: time.Now(),
	}
}

// SystemStatus is the payload of GET /api/system/status.
type SystemStatus struct {
	Status        string                   `json:"status"`
	UptimeSeconds int64                    `json:"uptime_seconds"`
	CPUPercent    float64                  `json:"cpu_percent"`
	MemoryPercent float64                  `json:"memory_percent"`
	ActiveRuns    []string                 `json:"active_runs"`
	RunCounts     map[hybrid.RunStatus]int `json:"run_counts"`
	Timestamp     string                   `json:"timestamp"`
}

// GetSystemStatusSnapshot collects the current status. Collection errors
// degrade individual fields instead of failing the whole snapshot.
func (h *SystemHandlers) GetSystemStatusSnapshot() (*SystemStatus, error) {
	cpuAvg, memPercent := h.getSystemStats()

	status := &SystemStatus{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		CPUPercent:    cpuAvg,
		MemoryPercent: memPercent,
		ActiveRuns:    h.service.ActiveRuns(),
		Timestamp:     time.Now().Format(time.RFC3339),
	}

	counts, err := h.runs.CountByStatus()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to count runs")
		return status, err
	}
	status.RunCounts = counts
	return status, nil
}

// HandleSystemStatus returns overall system status
// GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	response, err := h.GetSystemStatusSnapshot()
	if err != nil {
		h.log.Warn().Err(err).Msg("System status collected with warnings")
	}
	h.writeJSON(w, response)
}

// HandleDatabaseStats returns size statistics for every database
// GET /api/system/database/stats
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]interface{}, len(h.databases))
	for name, db := range h.databases {
		s, err := db.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Str("database", name).Msg("Failed to get database stats")
			continue
		}
		stats[name] = map[string]interface{}{
			"size_mb":     float64(s.SizeBytes) / 1024 / 1024,
			"wal_size_mb": float64(s.WALSizeBytes) / 1024 / 1024,
			"page_count":  s.PageCount,
			"free_pages":  s.FreelistCount,
		}
	}
	h.writeJSON(w, map[string]interface{}{"databases": stats})
}

// HandleDiskUsage returns free space on the data directory filesystem
// GET /api/system/disk
func (h *SystemHandlers) HandleDiskUsage(w http.ResponseWriter, r *http.Request) {
	stat := syscall.Statfs_t{}
	if err := syscall.Statfs(h.dataDir, &stat); err != nil {
		h.log.Error().Err(err).Msg("Failed to stat filesystem")
		http.Error(w, "Failed to read disk usage", http.StatusInternalServerError)
		return
	}

	totalBytes := stat.Blocks * uint64(stat.Bsize)
	availableBytes := stat.Bavail * uint64(stat.Bsize)

	h.writeJSON(w, map[string]interface{}{
		"total_gb":     float64(totalBytes) / 1e9,
		"available_gb": float64(availableBytes) / 1e9,
		"used_percent": 100 * (1 - float64(availableBytes)/float64(totalBytes)),
	})
}

// getSystemStats calculates CPU and RAM usage percentages
// Uses a short interval (100ms) so the API call stays responsive.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}
