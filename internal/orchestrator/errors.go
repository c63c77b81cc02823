package orchestrator

import (
	"go.trai.ch/zerr"

	"gitdiagram/internal/remote"
	"gitdiagram/internal/types"
)

var (
	ErrInvalidIdentity     = types.ErrInvalidIdentity
	ErrInvalidInstructions = types.ErrInvalidInstructions
	ErrRateLimited         = remote.ErrRateLimited
	ErrServiceDeclared     = remote.ErrServiceDeclared
	ErrTransportFailure    = remote.ErrTransportFailure
	ErrAPIKeyRequired      = remote.ErrAPIKeyRequired

	ErrNoExistingArtifact = zerr.New("no existing diagram to modify")
	ErrSuperseded         = zerr.New("superseded by a newer action")
	ErrClosed             = zerr.New("orchestrator is closed")
)

// User-visible texts for local failures.
const (
	MessageInvalidIdentity     = "Invalid repository or username."
	MessageNoExistingArtifact  = "No existing diagram or explanation found to modify"
	MessageNoAnswer            = "No answer received."
	messageInstructionsTooLong = "Instructions exceed maximum length of 1000 characters."
)
