package model

// DaemonRecord is the persisted form of a daemon registry entry.
type DaemonRecord struct {
	ProjectPath string `json:"project_path"`
	Port        int    `json:"port"`
	PID         int    `json:"pid"`
	// StartedAt and LastSeenAt are RFC 3339 timestamps.
	StartedAt  string `json:"started_at"`
	LastSeenAt string `json:"last_seen_at"`
}

// RegistryFile is the document stored by the file registry backend.
type RegistryFile struct {
	Daemons map[string]DaemonRecord `json:"daemons"`
}
