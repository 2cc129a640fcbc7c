package model

// ProvisionResult is what callers get back from a successful provision.
type ProvisionResult struct {
	Name        string `json:"name"`
	ContainerID string `json:"container_id"`
	Port        int    `json:"port"`
	SSHUser     string `json:"ssh_user"`
	SSHPassword string `json:"ssh_password"`
	FlagDigest  string `json:"flag_digest"`
}

// TeardownStatus reports whether teardown removed anything.
type TeardownStatus string

const (
	TeardownRemoved  TeardownStatus = "removed"
	TeardownNotFound TeardownStatus = "not_found"
)

// TeardownResult is the outcome of an idempotent teardown.
type TeardownResult struct {
	Name        string         `json:"name"`
	ContainerID string         `json:"container_id,omitempty"`
	Status      TeardownStatus `json:"status"`
}

// SandboxInfo describes an existing sandbox as reported by the engine.
type SandboxInfo struct {
	Name        string       `json:"name"`
	ContainerID string       `json:"container_id"`
	State       SandboxState `json:"state"`
	HostPort    int          `json:"host_port,omitempty"`
}

// ArchiveRef points at an uploaded build archive.
type ArchiveRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}
