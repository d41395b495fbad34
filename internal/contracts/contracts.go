// Package contracts defines the error taxonomy and the collaborator
// interfaces the core consumes from or exposes to the systems named
// out-of-scope in the specification (domain agent handlers, an external
// approval store, the UIP writer callback). Grounded on the teacher's
// pkg/contracts package, which drew the same OSS/Enterprise interface
// boundary for pluggable services.
package contracts

import "context"

// ErrorKind is the typed error taxonomy every failure-shaped result in the
// core carries instead of a raised Go error.
type ErrorKind string

const (
	ErrNotFound   ErrorKind = "NOT_FOUND"
	ErrValidation ErrorKind = "VALIDATION"
	ErrTimeout    ErrorKind = "TIMEOUT"
	ErrConnection ErrorKind = "CONNECTION"
	ErrCancelled  ErrorKind = "CANCELLED"
	ErrConflict   ErrorKind = "CONFLICT"
	ErrInternal   ErrorKind = "INTERNAL"
)

// Failure pairs an ErrorKind with a human-readable message. It is embedded
// in the failure-shaped results of C2/C3/C4 rather than being returned as
// a Go error.
type Failure struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	return string(f.Kind) + ": " + f.Message
}

// NewFailure constructs a Failure.
func NewFailure(kind ErrorKind, msg string) *Failure {
	return &Failure{Kind: kind, Message: msg}
}

// AgentHandler is implemented by a hosted agent to answer a single AAP
// call. It may return an error, which the AAP endpoint (C8) converts into
// a JSON-RPC error response.
type AgentHandler interface {
	Handle(ctx context.Context, task string, taskContext map[string]any) (content string, toolCalls []any, artifacts []any, err error)
}

// ApprovalStatus is the external approval store's view of an approval
// record, distinct from the in-process ApprovalFuture/orphan bookkeeping.
type ApprovalStatus struct {
	Status    string // "pending" | "approved" | "rejected" | "expired" | "cancelled"
	DecidedBy string
	Notes     string
}

// ApprovalStore is the external collaborator the HITL engine (C5) creates
// FULL-tier approval records in and polls as a fallback when no event
// transport is available. An in-memory default implementation lives in
// internal/hitl/memory_store.go for standalone operation.
type ApprovalStore interface {
	Create(ctx context.Context, actionType, resource string, metadata map[string]any) (id string, err error)
	Get(ctx context.Context, id string) (ApprovalStatus, error)
}

// UIPWriter is the callback the State Emitter (C7) and Protocol Surface
// (C8) invoke with a serialized snapshot or stream frame. Implementations
// must not block and must not be invoked concurrently with themselves for
// the same writer instance.
type UIPWriter func(frame map[string]any)
