package ir

// Version constants for IR schema and engine.
const (
	// SchemaVersion is the IR schema version.
	SchemaVersion = "1"

	// EngineVersion is the COPF engine version.
	EngineVersion = "0.1.0"
)
