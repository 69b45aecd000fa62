package server

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aquilalabs/watchdeck/internal/database"
)

// SystemHandlers serves system-wide monitoring endpoints.
type SystemHandlers struct {
	databases []*database.DB
	dataDir   string
	hub       ConnectionCounter
	startedAt time.Time
	log       zerolog.Logger
}

// ConnectionCounter reports live websocket connections.
type ConnectionCounter interface {
	ConnectionCount() int
}

// NewSystemHandlers creates a new system handlers instance.
func NewSystemHandlers(databases []*database.DB, dataDir string, hub ConnectionCounter, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		databases: databases,
		dataDir:   dataDir,
		hub:       hub,
		startedAt: time.Now(),
		log:       log.With().Str("component", "system_handlers").Logger(),
	}
}

// SystemStatusResponse is the system status payload.
type SystemStatusResponse struct {
	UptimeSeconds  int64   `json:"uptimeSeconds"`
	CPUPercent     float64 `json:"cpuPercent"`
	MemoryPercent  float64 `json:"memoryPercent"`
	DiskPercent    float64 `json:"diskPercent"`
	WebsocketConns int     `json:"websocketConnections"`
	Time           string  `json:"time"`
}

// HandleSystemStatus returns process and host health.
// GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	response := SystemStatusResponse{
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Time:          time.Now().Format(time.RFC3339),
	}

	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		response.CPUPercent = cpuPercent[0]
	}
	if memStat, err := mem.VirtualMemory(); err == nil {
		response.MemoryPercent = memStat.UsedPercent
	}
	if diskStat, err := disk.Usage(h.dataDir); err == nil {
		response.DiskPercent = diskStat.UsedPercent
	}
	if h.hub != nil {
		response.WebsocketConns = h.hub.ConnectionCount()
	}

	h.writeJSON(w, response)
}

// DBInfo describes one database file.
type DBInfo struct {
	Name    string  `json:"name"`
	Path    string  `json:"path"`
	SizeMB  float64 `json:"sizeMb"`
	Healthy bool    `json:"healthy"`
}

// HandleDatabaseStats returns per-database size and health.
// GET /api/system/databases
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	infos := make([]DBInfo, 0, len(h.databases))
	for _, db := range h.databases {
		info := DBInfo{
			Name:    db.Name(),
			Path:    db.Path(),
			Healthy: db.HealthCheck(r.Context()) == nil,
		}
		if stat, err := os.Stat(db.Path()); err == nil {
			info.SizeMB = float64(stat.Size()) / 1024 / 1024
		}
		infos = append(infos, info)
	}

	h.writeJSON(w, map[string]interface{}{
		"databases":   infos,
		"lastChecked": time.Now().Format(time.RFC3339),
	})
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
