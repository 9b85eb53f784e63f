package server

import (
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/trapline/internal/database"
	"github.com/aristath/trapline/internal/modules/marketdata"
	"github.com/aristath/trapline/internal/reliability"
	"github.com/aristath/trapline/internal/scheduler"
)

// SystemHandlers serves the liveness, health, and operations endpoints.
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	databases   map[string]*database.DB
	macro       *marketdata.MacroStore
	sched       *scheduler.Scheduler
	pipeline    scheduler.Job
	backup      *reliability.BackupService
}

// SystemConfig holds the system handler dependencies. Backup may be
// nil when no object store is configured.
type SystemConfig struct {
	Log       zerolog.Logger
	DataDir   string
	Databases map[string]*database.DB
	Macro     *marketdata.MacroStore
	Scheduler *scheduler.Scheduler
	Pipeline  scheduler.Job
	Backup    *reliability.BackupService
}

// NewSystemHandlers creates the system handlers.
func NewSystemHandlers(cfg SystemConfig) *SystemHandlers {
	return &SystemHandlers{
		log:         cfg.Log.With().Str("component", "system").Logger(),
		dataDir:     cfg.DataDir,
		startupTime: time.Now(),
		databases:   cfg.Databases,
		macro:       cfg.Macro,
		sched:       cfg.Scheduler,
		pipeline:    cfg.Pipeline,
		backup:      cfg.Backup,
	}
}

// HandleHealth serves GET /api/health: a fast liveness probe.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(h.log, w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startupTime).Seconds()),
	})
}

// databaseHealth reports one database's file size and connectivity.
type databaseHealth struct {
	Name    string  `json:"name"`
	SizeMB  float64 `json:"size_mb"`
	Healthy bool    `json:"healthy"`
	Error   string  `json:"error,omitempty"`
}

// systemHealthResponse is the payload for GET /api/system/health.
type systemHealthResponse struct {
	Status        string                    `json:"status"`
	UptimeSeconds int64                     `json:"uptime_seconds"`
	CPUPercent    float64                   `json:"cpu_percent"`
	RAMPercent    float64                   `json:"ram_percent"`
	Databases     []databaseHealth          `json:"databases"`
	MacroSeries   []marketdata.SeriesStatus `json:"macro_series"`
	Jobs          []scheduler.RegisteredJob `json:"jobs"`
}

// HandleSystemHealth serves GET /api/system/health: host stats,
// database connectivity, macro series freshness, and job state.
func (h *SystemHandlers) HandleSystemHealth(w http.ResponseWriter, r *http.Request) {
	cpuPercent, ramPercent := h.systemStats()

	status := "ok"
	databases := h.databaseHealth(r)
	for _, db := range databases {
		if !db.Healthy {
			status = "degraded"
		}
	}

	var series []marketdata.SeriesStatus
	if h.macro != nil {
		var err error
		series, err = h.macro.Snapshot(time.Now())
		if err != nil {
			h.log.Warn().Err(err).Msg("Failed to read macro series status")
		}
	}

	var jobs []scheduler.RegisteredJob
	if h.sched != nil {
		jobs = h.sched.Registered()
	}

	writeJSON(h.log, w, http.StatusOK, systemHealthResponse{
		Status:        status,
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
		CPUPercent:    cpuPercent,
		RAMPercent:    ramPercent,
		Databases:     databases,
		MacroSeries:   series,
		Jobs:          jobs,
	})
}

func (h *SystemHandlers) databaseHealth(r *http.Request) []databaseHealth {
	names := make([]string, 0, len(h.databases))
	for name := range h.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]databaseHealth, 0, len(names))
	for _, name := range names {
		db := h.databases[name]
		entry := databaseHealth{Name: name, Healthy: true}

		if info, err := os.Stat(db.Path()); err == nil {
			entry.SizeMB = float64(info.Size()) / 1024 / 1024
		}
		if err := db.HealthCheck(r.Context()); err != nil {
			entry.Healthy = false
			entry.Error = err.Error()
		}
		out = append(out, entry)
	}
	return out
}

// systemStats samples CPU and memory usage. The short CPU interval
// keeps the handler responsive.
func (h *SystemHandlers) systemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(cpuPercent) == 0 {
		h.log.Warn().Err(err).Msg("Failed to sample CPU usage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to read memory statistics")
		return cpuPercent[0], 0
	}
	return cpuPercent[0], memStat.UsedPercent
}

// HandleTriggerRun serves POST /api/runs/trigger: kicks off the EOD
// pipeline out of schedule. The run executes in the background; its
// outcome lands in the journal and the job state.
func (h *SystemHandlers) HandleTriggerRun(w http.ResponseWriter, r *http.Request) {
	if h.pipeline == nil || h.sched == nil {
		writeError(h.log, w, http.StatusServiceUnavailable, "pipeline job not registered")
		return
	}

	h.log.Info().Msg("Manual pipeline run triggered")
	go func() {
		if err := h.sched.RunNow(h.pipeline); err != nil {
			h.log.Error().Err(err).Msg("Manual pipeline run failed")
		}
	}()

	writeJSON(h.log, w, http.StatusAccepted, map[string]string{
		"status": "triggered",
		"job":    h.pipeline.Name(),
	})
}

// HandleBackupNow serves POST /api/system/backup: creates and uploads
// a backup archive synchronously.
func (h *SystemHandlers) HandleBackupNow(w http.ResponseWriter, r *http.Request) {
	if h.backup == nil {
		writeError(h.log, w, http.StatusServiceUnavailable, "no object store configured")
		return
	}

	info, err := h.backup.CreateAndUploadBackup(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Manual backup failed")
		writeError(h.log, w, http.StatusInternalServerError, "backup failed")
		return
	}
	writeJSON(h.log, w, http.StatusOK, map[string]any{
		"status": "completed",
		"backup": info,
	})
}
