// Package models defines the response types for the stub resolver's
// diagnostics API. All types are JSON-serializable.
package models

import "time"

// StatusResponse represents a simple status response.
type StatusResponse struct {
	Status string `json:"status"`
}

// CPUStats contains system CPU statistics.
type CPUStats struct {
	NumCPU      int     `json:"num_cpu"`
	UsedPercent float64 `json:"used_percent"`
	IdlePercent float64 `json:"idle_percent"`
}

// MemoryStats contains system memory statistics.
type MemoryStats struct {
	TotalMB     float64 `json:"total_mb"`
	FreeMB      float64 `json:"free_mb"`
	UsedMB      float64 `json:"used_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// DNSStatsResponse contains query statistics for all listeners combined.
type DNSStatsResponse struct {
	QueriesTotal uint64  `json:"queries_total"`
	QueriesUDP   uint64  `json:"queries_udp"`
	QueriesTCP   uint64  `json:"queries_tcp"`
	ResponsesNX  uint64  `json:"responses_nxdomain"`
	ResponsesErr uint64  `json:"responses_error"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// StatsResponse contains server runtime statistics.
type StatsResponse struct {
	Uptime        string           `json:"uptime"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	StartTime     time.Time        `json:"start_time"`
	HostID        string           `json:"host_id,omitempty"`
	CPU           CPUStats         `json:"cpu"`
	Memory        MemoryStats      `json:"memory"`
	DNS           DNSStatsResponse `json:"dns"`
}

// ListenerInfo describes one active listener.
type ListenerInfo struct {
	Kind    string `json:"kind"` // "primary" or "extra"
	Network string `json:"network"`
	Address string `json:"address"`
}

// ListenersResponse lists the active listener set.
type ListenersResponse struct {
	Listeners []ListenerInfo `json:"listeners"`
}
