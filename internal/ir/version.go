package ir

// Version constants for the persisted schema and the tool.
const (
	// SchemaVersion is the version of the persisted ledger/snapshot format.
	SchemaVersion = "1"

	// ToolVersion is the Atlas version stamped into published documents.
	ToolVersion = "0.3.0"
)
