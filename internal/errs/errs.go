// Package errs defines the closed set of error kinds shared across the
// fossil-go components, mirroring the reference library's fsl_rc_e enum.
package errs

import "fmt"

// Kind identifies the class of a failure. Callers should switch on Kind,
// never on the formatted message.
type Kind int

const (
	OK Kind = iota
	Generic
	NYI
	OOM
	Misuse
	Range
	Access
	IO
	NotFound
	AlreadyExists
	Consistency

	NotARepo
	NotACkout
	RepoVersion
	RepoNeedsRebuild
	RepoMismatch

	DB
	StepRow
	StepDone
	StepError

	Break

	Type
	Syntax
	Ambiguous
	UnknownResource
	Phantom
	MissingInfo
	Noop

	DeltaInvalidSeparator
	DeltaInvalidSize
	DeltaInvalidOperator
	DeltaInvalidTerminator

	ChecksumMismatch
	SizeMismatch

	Conflict
)

var kindNames = map[Kind]string{
	OK:            "ok",
	Generic:       "error",
	NYI:           "nyi",
	OOM:           "oom",
	Misuse:        "misuse",
	Range:         "range",
	Access:        "access",
	IO:            "io",
	NotFound:      "not_found",
	AlreadyExists: "already_exists",
	Consistency:   "consistency",

	NotARepo:         "not_a_repo",
	NotACkout:        "not_a_ckout",
	RepoVersion:      "repo_version",
	RepoNeedsRebuild: "repo_needs_rebuild",
	RepoMismatch:     "repo_mismatch",

	DB:        "db",
	StepRow:   "step_row",
	StepDone:  "step_done",
	StepError: "step_error",

	Break: "break",

	Type:            "type",
	Syntax:          "syntax",
	Ambiguous:       "ambiguous",
	UnknownResource: "unknown_resource",
	Phantom:         "phantom",
	MissingInfo:     "missing_info",
	Noop:            "noop",

	DeltaInvalidSeparator:  "delta_invalid_separator",
	DeltaInvalidSize:       "delta_invalid_size",
	DeltaInvalidOperator:   "delta_invalid_operator",
	DeltaInvalidTerminator: "delta_invalid_terminator",

	ChecksumMismatch: "checksum_mismatch",
	SizeMismatch:     "size_mismatch",

	Conflict: "conflict",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Error is the error type returned by every fossil-go component. OOM errors
// never carry a formatted message, matching the reference library's
// "never format on OOM" rule (re-entrant allocation during error formatting
// is what that rule guards against).
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, format string, args ...interface{}) *Error {
	if kind == OOM {
		return &Error{Kind: OOM}
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	if kind == OOM {
		return &Error{Kind: OOM, Cause: cause}
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) Error() string {
	if e.Kind == OOM {
		return "oom"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether the first *Error in err's Unwrap chain has the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}

// KindOf extracts the Kind from err, or Generic if err is not one of ours.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return Generic
}
