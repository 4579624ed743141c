package entity

import (
	"fmt"
	"time"
)

// DaemonRecord describes one running per-project daemon. ProjectRoot is canonical and unique.
type DaemonRecord struct {
	ProjectRoot string
	Port        int
	PID         int
	StartedAt   time.Time
	LastSeenAt  time.Time
}

// Endpoint returns the base URL of the daemon.
func (r DaemonRecord) Endpoint() Endpoint {
	return LocalEndpoint(r.Port)
}

// Endpoint is the base URL of a daemon, such as http://127.0.0.1:3000.
type Endpoint string

// LocalEndpoint returns the loopback endpoint for port.
func LocalEndpoint(port int) Endpoint {
	return Endpoint(fmt.Sprintf("http://127.0.0.1:%d", port))
}

// DaemonStatus is a record annotated with liveness.
type DaemonStatus struct {
	ProjectRoot string    `yaml:"project_root" json:"project_root"`
	Port        int       `yaml:"port" json:"port"`
	PID         int       `yaml:"pid" json:"pid"`
	Alive       bool      `yaml:"alive" json:"alive"`
	Healthy     bool      `yaml:"healthy" json:"healthy"`
	StartedAt   time.Time `yaml:"started_at" json:"started_at"`
	LastSeenAt  time.Time `yaml:"last_seen_at" json:"last_seen_at"`
}

// HealthStatus is the body of a daemon's health endpoint.
type HealthStatus struct {
	Status      string `json:"status"`
	ProjectRoot string `json:"project_root"`
	PID         int    `json:"pid"`
	UptimeMS    int64  `json:"uptime_ms"`
	EngineState string `json:"engine_state"`
}

// HealthOK is the Status value of a healthy daemon.
const HealthOK = "ok"
