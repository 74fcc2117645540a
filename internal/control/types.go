// Package control implements the loopback-only TCP control server (C7):
// accept -> read one line (<=1 KiB) -> parse JSON request -> dispatch ->
// write one line JSON response -> close (spec.md §4.7).
package control

import (
	"context"
	"time"
)

// Request is the single-line JSON request frame (spec.md §3).
type Request struct {
	Command string            `json:"command"`
	Args    map[string]string `json:"args,omitempty"`
}

// Response is the single-line JSON response frame (spec.md §3). Data
// carries the command-specific payload; on error it is omitted and
// StatusText carries the error message.
type Response struct {
	StatusCode int         `json:"status_code"`
	StatusText string      `json:"status_text"`
	Data       interface{} `json:"data,omitempty"`
}

// StatusResponse is the status command's data payload.
type StatusResponse struct {
	EntropyBytes int64     `json:"entropy_bytes"`
	MaxEntropy   int64     `json:"max_entropy"`
	ChunkCount   int       `json:"chunk_count"`
	IsFull       bool      `json:"is_full"`
	LastPersist  time.Time `json:"last_persist"`
	CPUPercent   float64   `json:"cpu_percent"`
	LoadAverage  float64   `json:"load_average"`
}

// PersistResponse is the persist command's data payload.
type PersistResponse struct {
	BytesWritten int64     `json:"bytes_written"`
	FilePath     string    `json:"file_path"`
	PersistTime  time.Time `json:"persist_time"`
}

// QuitResponse is the quit command's data payload.
type QuitResponse struct {
	Message       string  `json:"message"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// SourceInfo is one source's state in the supplemented sources command.
type SourceInfo struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastSuccess         time.Time `json:"last_success"`
}

// SourcesResponse is the sources command's data payload.
type SourcesResponse struct {
	Sources []SourceInfo `json:"sources"`
}

// Handler is implemented by the daemon to serve control commands.
type Handler interface {
	Status(ctx context.Context) (StatusResponse, error)
	Persist(ctx context.Context) (PersistResponse, error)
	Sources(ctx context.Context) (SourcesResponse, error)
	Uptime() time.Duration
}
