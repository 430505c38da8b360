// Package handlers implements the diagnostics-only API endpoint
// handlers for the stub resolver.
//
// @title Stub Resolver Diagnostics API
// @version 1.0
// @description Read-only diagnostics for a local DNS stub resolver: health, stats, and active listeners.
//
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
//
// @host localhost:8080
// @BasePath /api/v1
package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/jroosing/stubresolve/internal/diag/models"
	"github.com/jroosing/stubresolve/internal/stub"
)

// StatsSource supplies the current DNS query statistics.
type StatsSource func() stub.Snapshot

// ListenersSource supplies the active listener set.
type ListenersSource func() []models.ListenerInfo

// Handler contains dependencies for diagnostics handlers.
type Handler struct {
	startTime time.Time
	hostID    string
	statsFn   StatsSource
	listenFn  ListenersSource
}

// New creates a new Handler.
func New(hostID string, statsFn StatsSource, listenFn ListenersSource) *Handler {
	return &Handler{
		startTime: time.Now(),
		hostID:    hostID,
		statsFn:   statsFn,
		listenFn:  listenFn,
	}
}

// Health godoc
// @Summary Health check
// @Description Returns whether the stub resolver process is up
// @Tags system
// @Produce json
// @Success 200 {object} models.StatusResponse
// @Router /health [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, models.StatusResponse{Status: "ok"})
}

// Stats godoc
// @Summary Runtime statistics
// @Description Returns system CPU/memory usage and combined query statistics
// @Tags system
// @Produce json
// @Success 200 {object} models.StatsResponse
// @Router /stats [get]
func (h *Handler) Stats(c *gin.Context) {
	uptime := time.Since(h.startTime)

	memStats := models.MemoryStats{}
	if vmStat, err := mem.VirtualMemory(); err == nil {
		memStats.TotalMB = float64(vmStat.Total) / 1024 / 1024
		memStats.FreeMB = float64(vmStat.Available) / 1024 / 1024
		memStats.UsedMB = float64(vmStat.Used) / 1024 / 1024
		memStats.UsedPercent = vmStat.UsedPercent
	}

	cpuStats := models.CPUStats{NumCPU: runtime.NumCPU()}
	if cpuPercent, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		cpuStats.UsedPercent = cpuPercent[0]
		cpuStats.IdlePercent = 100.0 - cpuPercent[0]
	}

	var dns models.DNSStatsResponse
	if h.statsFn != nil {
		snap := h.statsFn()
		dns = models.DNSStatsResponse{
			QueriesTotal: snap.QueriesTotal,
			QueriesUDP:   snap.QueriesUDP,
			QueriesTCP:   snap.QueriesTCP,
			ResponsesNX:  snap.ResponsesNX,
			ResponsesErr: snap.ResponsesErr,
			AvgLatencyMs: snap.AvgLatencyMs,
		}
	}

	c.JSON(http.StatusOK, models.StatsResponse{
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		StartTime:     h.startTime,
		HostID:        h.hostID,
		CPU:           cpuStats,
		Memory:        memStats,
		DNS:           dns,
	})
}

// Listeners godoc
// @Summary Active listener set
// @Description Returns the primary and any configured extra listeners
// @Tags system
// @Produce json
// @Success 200 {object} models.ListenersResponse
// @Router /listeners [get]
func (h *Handler) Listeners(c *gin.Context) {
	var listeners []models.ListenerInfo
	if h.listenFn != nil {
		listeners = h.listenFn()
	}
	c.JSON(http.StatusOK, models.ListenersResponse{Listeners: listeners})
}
