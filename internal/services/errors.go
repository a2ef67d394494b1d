package services

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a pipeline error. A single tagged type replaces per-stage
// error subclasses so callers can switch on the kind without type assertions
// against a hierarchy.
type Kind string

const (
	KindRepositoryInit  Kind = "repository_init"
	KindRepository      Kind = "repository"
	KindAssetNotFound   Kind = "asset_not_found"
	KindDuplicateJob    Kind = "duplicate_job"
	KindSetup           Kind = "setup"
	KindBroll           Kind = "broll"
	KindCaptions        Kind = "captions"
	KindFinalize        Kind = "finalize"
	KindFinalizeCleanup Kind = "finalize_cleanup"
	KindStalled         Kind = "stalled"
	KindExternalTool    Kind = "external_tool"
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindTransient       Kind = "transient"
)

// Error carries a kind tag plus structured diagnostic context. RepoPath and
// AssetID are best-effort; FailedKinds is populated only by finalize when it
// aggregates per-asset persistence failures.
type Error struct {
	Kind        Kind
	Stage       string
	Message     string
	RepoPath    string
	AssetID     string
	FailedKinds []string
	Err         error
}

func (e *Error) Error() string {
	parts := make([]string, 0, 4)
	if e.Stage != "" {
		parts = append(parts, e.Stage)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if len(e.FailedKinds) > 0 {
		parts = append(parts, "failed kinds: "+strings.Join(e.FailedKinds, ", "))
	}
	detail := strings.Join(parts, ": ")
	if detail == "" {
		detail = "pipeline failure"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches against another *Error by kind so sentinel-style comparisons
// like errors.Is(err, &Error{Kind: KindDuplicateJob}) work.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == "" || other.Kind == e.Kind
}

// NewError constructs a tagged error without a wrapped cause.
func NewError(kind Kind, stage, message string) *Error {
	return &Error{Kind: kind, Stage: stage, Message: message}
}

// WrapError constructs a tagged error wrapping an underlying cause.
func WrapError(kind Kind, stage, message string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Message: message, Err: err}
}

// KindOf returns the kind tag of err, or KindTransient when err carries none.
func KindOf(err error) Kind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	return KindTransient
}

// IsKind reports whether err carries the given kind tag.
func IsKind(err error, kind Kind) bool {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind == kind
	}
	return false
}

// Details extracts a human-readable failure message for persistence into a
// job record. Falls back to err.Error() for untagged errors.
func Details(err error) string {
	if err == nil {
		return ""
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		if msg := strings.TrimSpace(tagged.Message); msg != "" {
			if tagged.Err != nil {
				return fmt.Sprintf("%s: %v", msg, tagged.Err)
			}
			return msg
		}
	}
	return strings.TrimSpace(err.Error())
}
