package entity

// ModeKind is the topology the bridge runs in.
type ModeKind int

const (
	// ModeDirect serves commands in this process.
	ModeDirect ModeKind = iota
	// ModeDaemon forwards commands to a per-project daemon.
	ModeDaemon
)

func (k ModeKind) String() string {
	if k == ModeDaemon {
		return "daemon"
	}
	return "direct"
}

// Transport is how a Direct mode receives commands.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
)

// Mode is decided once at startup.
type Mode struct {
	Kind ModeKind
	// Transport is only meaningful for ModeDirect.
	Transport Transport
	// Port is the HTTP port for TransportHTTP.
	Port int
}

func (m Mode) String() string {
	if m.Kind == ModeDirect {
		return m.Kind.String() + "/" + string(m.Transport)
	}
	return m.Kind.String()
}
