package upload

import (
	"errors"
	"fmt"
	"strings"
)

// Kind separates the three failure classes the caller has to map to
// different transport responses.
type Kind int

const (
	KindValidation Kind = iota
	KindRateLimit
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindRateLimit:
		return "rate_limit"
	case KindStorage:
		return "storage"
	}
	return "unknown"
}

// Rule identifies which policy a rejection came from.
type Rule string

const (
	RuleExtension    Rule = "extension"
	RuleFilename     Rule = "filename"
	RuleMimeMismatch Rule = "mime-mismatch"
	RuleDangerousSig Rule = "dangerous-signature"
	RulePattern      Rule = "content-pattern"
	RuleEntropy      Rule = "entropy"
	RuleSizeCategory Rule = "size-category"

	RuleUploadsPerMinute Rule = "uploads-per-minute"
	RuleUploadsPerHour   Rule = "uploads-per-hour"
	RuleUploadsPerDay    Rule = "uploads-per-day"
	RuleVolumePerHour    Rule = "volume-per-hour"
	RuleVolumePerDay     Rule = "volume-per-day"
)

// Violation is one triggered rule with its human-readable detail.
type Violation struct {
	Rule   Rule
	Detail string
}

// Error carries the failure class plus every violated rule, so the
// collaborating layer can report the full list instead of just the
// first failure.
type Error struct {
	Kind       Kind
	Violations []Violation
	cause      error
}

func NewValidationError(violations ...Violation) *Error {
	return &Error{Kind: KindValidation, Violations: violations}
}

func NewRateLimitError(rule Rule, detail string) *Error {
	return &Error{Kind: KindRateLimit, Violations: []Violation{{Rule: rule, Detail: detail}}}
}

func NewStorageError(cause error) *Error {
	return &Error{Kind: KindStorage, cause: cause}
}

func (e *Error) Error() string {
	if e.Kind == KindStorage && e.cause != nil {
		return fmt.Sprintf("storage: %v", e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, strings.Join(e.Reasons(), "; "))
}

func (e *Error) Unwrap() error { return e.cause }

// Reasons returns the human-readable detail of every violation in
// trigger order.
func (e *Error) Reasons() []string {
	out := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		out = append(out, v.Detail)
	}
	return out
}

// KindOf extracts the failure class from err, defaulting to
// KindStorage for plain errors from below the pipeline.
func KindOf(err error) Kind {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return KindStorage
}
