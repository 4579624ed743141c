package entity

const (
	// ProductName identifies the bridge to engines and clients.
	ProductName = "lsp-bridge"
	// Version is reported in the engine handshake and by the capabilities command.
	Version = "0.3.0"
)
