package model

// EventType names a sandbox lifecycle event.
type EventType string

const (
	EventProvisioned EventType = "sandbox.provisioned"
	EventTornDown    EventType = "sandbox.torn_down"
	EventImageBuilt  EventType = "sandbox.image_built"
)

// LifecycleEvent is published after a state change. It never carries secrets
// other than the flag digest.
type LifecycleEvent struct {
	Type        EventType `json:"type"`
	Name        string    `json:"name,omitempty"`
	ProblemName string    `json:"problem_name"`
	ProblemID   int64     `json:"problem_id"`
	UserID      int64     `json:"user_id,omitempty"`
	ContainerID string    `json:"container_id,omitempty"`
	Port        int       `json:"port,omitempty"`
	FlagDigest  string    `json:"flag_digest,omitempty"`
	ImageTag    string    `json:"image_tag,omitempty"`
	CreatedAt   int64     `json:"created_at"`
}
