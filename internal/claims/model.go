package claims

import (
	"errors"

	"vibe-backend/internal/records"
)

// State is a step of the claim state machine.
type State string

const (
	StateNotStarted       State = "NOT_STARTED"
	StateSourceVerified   State = "SOURCE_VERIFIED"
	StateTargetResolved   State = "TARGET_RESOLVED"
	StateMerged           State = "MERGED"
	StateRejected         State = "REJECTED"
	StateNothingToMigrate State = "NOTHING_TO_MIGRATE"
)

// Reason explains a REJECTED outcome.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonAlreadyConsumed Reason = "already_consumed"
)

// Path is how a successful claim moved the data.
type Path string

const (
	PathRekey Path = "rekey"
	PathMerge Path = "merge"
)

var (
	// ErrRetryable is returned when a remote failure interrupted the claim.
	// The token is still redeemable.
	ErrRetryable = errors.New("claim interrupted, retry")
	// ErrInvalidRequest is returned for a missing token or account id.
	ErrInvalidRequest = errors.New("claim token and account id are required")
)

// Outcome is the terminal result of a claim. Trace lists every state visited.
type Outcome struct {
	State    State
	Reason   Reason
	Path     Path
	SourceID string
	Target   records.Record
	Trace    []State
}

func (o *Outcome) enter(s State) {
	o.State = s
	o.Trace = append(o.Trace, s)
}
