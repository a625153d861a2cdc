package ir

// Version constants for the on-disk chunk format and the engine.
const (
	// FormatVersion is the chunk payload format. Bump it when commit or tree
	// node encodings change.
	FormatVersion = 1

	// EngineVersion is the replica engine version.
	EngineVersion = "0.3.0"
)
