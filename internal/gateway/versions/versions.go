// Package versions holds version constants for the gateway components.
package versions

// Version is the current gateway version (MAJOR.MINOR.PATCH).
const Version = "0.1.0"

// ManifestSchemaVersion is the supported manifest schema version.
const ManifestSchemaVersion = 1

// WorkerProtocolVersion is the JSON-RPC worker protocol revision.
const WorkerProtocolVersion = "1.0"
