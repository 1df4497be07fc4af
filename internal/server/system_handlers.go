package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/quantdesk/lotledger/internal/database"
)

// SystemHandlers serves health and system status endpoints
type SystemHandlers struct {
	log     zerolog.Logger
	db      *database.DB
	dataDir string
	started time.Time
}

// NewSystemHandlers creates the system handlers
func NewSystemHandlers(log zerolog.Logger, db *database.DB, dataDir string) *SystemHandlers {
	return &SystemHandlers{
		log:     log.With().Str("component", "system_api").Logger(),
		db:      db,
		dataDir: dataDir,
		started: time.Now(),
	}
}

// HandleHealth reports liveness plus a store integrity check
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	storeStatus := "ok"

	if err := h.db.HealthCheck(r.Context()); err != nil {
		h.log.Error().Err(err).Msg("Store health check failed")
		status = "degraded"
		storeStatus = err.Error()
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]interface{}{
		"status":         status,
		"store":          storeStatus,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

// HandleSystemStatus reports process and host statistics
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuAvg, ramUsed := h.systemUsage()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"cpu_percent":    cpuAvg,
		"ram_percent":    ramUsed,
		"goroutines":     runtime.NumGoroutine(),
		"heap_alloc_mb":  memStats.HeapAlloc / 1024 / 1024,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"data_dir":       h.dataDir,
		"go_version":     runtime.Version(),
	})
}

// HandleDatabaseStats reports store size and WAL state
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.GetStats()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to collect store stats")
		respondError(w, http.StatusInternalServerError, "failed to collect store stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// systemUsage samples CPU over a short window and reads memory instantly.
// A 100ms sample keeps the endpoint responsive for pollers.
func (h *SystemHandlers) systemUsage() (float64, float64) {
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
