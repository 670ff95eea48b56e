package guard

import (
	"net"
	"time"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// AttributeScope identifies which precedence tier an attribute record belongs to.
type AttributeScope string

const (
	ScopeUser  AttributeScope = "user"
	ScopeGroup AttributeScope = "group"
	ScopeRole  AttributeScope = "role"
)

// Principal is the authenticated subject requesting access.
type Principal struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	Groups      []string `json:"groups"`
}

// AttributeRecord holds the raw key/value attributes administered for one
// subject (a user, group or role) within one workstream. Records are written
// by the administration surface and are read-only to the engine.
type AttributeRecord struct {
	Scope      AttributeScope `json:"scope" yaml:"scope"`
	SubjectID  string         `json:"subject_id" yaml:"subject_id"`
	Workstream string         `json:"workstream" yaml:"workstream"`
	Attributes map[string]any `json:"attributes" yaml:"attributes"`
	UpdatedAt  time.Time      `json:"updated_at" yaml:"updated_at"`
}

// EvaluationContext is the immutable snapshot a single authorization decision
// is evaluated against. It is assembled once by the ContextBuilder and never
// mutated afterwards; rule evaluation is pure computation over it.
type EvaluationContext struct {
	Principal           Principal
	Workstream          string
	Resource            string
	Action              string
	Attributes          AttributeMap
	ResourceAttributes  AttributeMap
	RequestTime         time.Time
	ClientIP            net.IP
	WithinBusinessHours bool
	InternalNetwork     bool
}

// Result is the outcome of an authorization check. Denials always carry a
// human-readable reason; an allow carries none.
type Result struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Allow returns an allowing Result.
func Allow() Result { return Result{Allowed: true} }

// Deny returns a denying Result with the given reason.
func Deny(reason string) Result { return Result{Allowed: false, Reason: reason} }

// EvaluationResult is a definitive verdict from a workstream custom evaluator.
// A nil *EvaluationResult means the evaluator abstains.
type EvaluationResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

// AccessRequest carries everything the Enforcer needs for one decision. The
// request pipeline fills Principal, Workstream and ClientAddr after
// authentication; Entity is the optional concrete resource instance.
type AccessRequest struct {
	Principal  Principal
	Workstream string
	Resource   string
	Action     string
	Entity     any
	ClientAddr string
}
