package orchestrator

import (
	"time"

	"gitdiagram/internal/types"
)

type Status int

const (
	StatusIdle Status = iota
	StatusEstimatingCost
	StatusGenerating
	StatusModifying
	StatusReady
	StatusFailed
	StatusNeedsAPIKey
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusEstimatingCost:
		return "EstimatingCost"
	case StatusGenerating:
		return "Generating"
	case StatusModifying:
		return "Modifying"
	case StatusReady:
		return "Ready"
	case StatusFailed:
		return "Failed"
	case StatusNeedsAPIKey:
		return "NeedsApiKey"
	default:
		return "Unknown"
	}
}

// Busy reports whether a remote call is outstanding for the status.
func (s Status) Busy() bool {
	return s == StatusEstimatingCost || s == StatusGenerating || s == StatusModifying
}

// Snapshot is an immutable copy of the orchestrator state. Zero values mean
// absent: an empty Artifact, Error or Cost, and a zero LastGeneratedAt.
type Snapshot struct {
	Identity        types.Identity
	Status          Status
	Artifact        types.DiagramArtifact
	Error           string
	Cost            string
	Answer          string
	Scenarios       string
	TokenCount      int
	FromCache       bool
	LastGeneratedAt time.Time
	// Version increases with every published change.
	Version uint64
}

func (s Snapshot) HasArtifact() bool {
	return s.Artifact.Diagram != ""
}
