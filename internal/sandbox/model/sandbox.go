package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Container names accept [a-zA-Z0-9][a-zA-Z0-9_.-]*; the problem name is embedded in both names and tags.
var problemNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// ImageVersion is the fixed tag suffix for problem images; rebuilds supersede it in place.
const ImageVersion = "1.0.0"

// ProblemImage identifies a buildable exercise.
type ProblemImage struct {
	ProblemName   string `json:"problem_name"`
	ProblemID     int64  `json:"problem_id"`
	ArchiveBucket string `json:"archive_bucket,omitempty"`
	ArchiveKey    string `json:"archive_key,omitempty"`
}

// Validate checks the fields that feed names and tags.
func (p ProblemImage) Validate() error {
	if strings.TrimSpace(p.ProblemName) == "" {
		return fmt.Errorf("problem name is required")
	}
	if !problemNamePattern.MatchString(p.ProblemName) {
		return fmt.Errorf("problem name %q must match %s", p.ProblemName, problemNamePattern)
	}
	if p.ProblemID <= 0 {
		return fmt.Errorf("problem id must be positive")
	}
	return nil
}

// ImageTag returns <lower(problemName)>-<problemId>:1.0.0.
func (p ProblemImage) ImageTag() string {
	return fmt.Sprintf("%s-%d:%s", strings.ToLower(p.ProblemName), p.ProblemID, ImageVersion)
}

// DefaultArchiveKey is the object key the upload flow writes for a plain tarball.
func (p ProblemImage) DefaultArchiveKey() string {
	return fmt.Sprintf("%s-%d.tar", p.ProblemName, p.ProblemID)
}

// SandboxName returns the deterministic problemName-problemId-userId identity.
func SandboxName(problemName string, problemID, userID int64) string {
	return fmt.Sprintf("%s-%d-%d", problemName, problemID, userID)
}

// Sandbox is one running environment bound to a (user, problem) pair.
type Sandbox struct {
	Name        string
	ContainerID string
	HostPort    int
	SSHUser     string
	SSHPassword string
	// FlagValue lives only inside the container environment; never logged or returned.
	FlagValue  string
	FlagDigest string
	CreatedAt  time.Time
}

// PortClaim is a transient reservation between probing and container creation.
type PortClaim struct {
	Port      int
	ClaimedAt time.Time
}

// SandboxState mirrors the engine-reported container state.
type SandboxState string

const (
	SandboxStateCreated SandboxState = "created"
	SandboxStateRunning SandboxState = "running"
	SandboxStateStopped SandboxState = "stopped"
	SandboxStateUnknown SandboxState = "unknown"
)

// ParseSandboxState normalises engine state strings.
func ParseSandboxState(raw string) SandboxState {
	switch strings.ToLower(raw) {
	case "created":
		return SandboxStateCreated
	case "running", "restarting":
		return SandboxStateRunning
	case "exited", "stopped", "dead", "paused":
		return SandboxStateStopped
	default:
		return SandboxStateUnknown
	}
}
