package types

import (
	"strings"

	"go.trai.ch/zerr"
)

// MaxInstructionLength mirrors the generation service's own limit.
const MaxInstructionLength = 1000

// ErrInvalidInstructions is returned for empty modify instructions or
// instructions longer than MaxInstructionLength.
var ErrInvalidInstructions = zerr.New("invalid instructions")

// DiagramArtifact is the diagram+explanation pair produced for a repository.
// The two halves are cached and retrieved together.
type DiagramArtifact struct {
	Diagram     string `json:"diagram"`
	Explanation string `json:"explanation"`
}

// Complete reports whether both halves are present.
func (a DiagramArtifact) Complete() bool {
	return a.Diagram != "" && a.Explanation != ""
}

// GenerationRequest carries everything a generate call needs.
type GenerationRequest struct {
	Identity     Identity
	Instructions string
	// GitHubCredential and APIKey are passed through untouched.
	GitHubCredential string
	APIKey           string
}

// CheckInstructions validates free-text instructions. When required is set
// an empty value is rejected too.
func CheckInstructions(instructions string, required bool) error {
	if required && strings.TrimSpace(instructions) == "" {
		return zerr.Wrap(ErrInvalidInstructions, "instructions are required")
	}
	if n := len([]rune(instructions)); n > MaxInstructionLength {
		return zerr.With(zerr.Wrap(ErrInvalidInstructions, "instructions exceed maximum length of 1000 characters"), "length", n)
	}
	return nil
}
