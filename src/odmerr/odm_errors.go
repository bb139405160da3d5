// Package odmerr holds the error kinds returned by the schema registry, the
// query engine and the document operations. Callers inspect them with
// errors.Is against the sentinels below or with KindOf.
package odmerr

import (
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	KindUnspecified Kind = iota
	KindInvalidCollection
	KindNotFound
	KindValidation
	KindPopulate
	KindHookAborted
	KindMalformedDescriptor
	KindDuplicateSchema
	KindSchemaFrozen
)

func (k Kind) String() string {
	switch k {
	case KindInvalidCollection:
		return "invalid collection"
	case KindNotFound:
		return "not found"
	case KindValidation:
		return "validation error"
	case KindPopulate:
		return "populate error"
	case KindHookAborted:
		return "hook aborted"
	case KindMalformedDescriptor:
		return "malformed descriptor"
	case KindDuplicateSchema:
		return "duplicate schema"
	case KindSchemaFrozen:
		return "schema frozen"
	default:
		return "unspecified"
	}
}

// Error is the concrete error type. Op names the operation that failed
// ("query", "save", "populate", ...). Committed is set when the storage write
// already happened and only a post hook failed.
type Error struct {
	Kind       Kind
	Op         string
	Collection string
	Path       string
	Committed  bool
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Collection != "" {
		fmt.Fprintf(&b, " (collection %q", e.Collection)
		if e.Path != "" {
			fmt.Fprintf(&b, ", path %q", e.Path)
		}
		b.WriteString(")")
	} else if e.Path != "" {
		fmt.Fprintf(&b, " (path %q)", e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels work with
// errors.Is regardless of the details carried by the concrete error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Collection == "" && t.Path == "" && t.Err == nil
}

var (
	ErrInvalidCollection   = &Error{Kind: KindInvalidCollection}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrValidation          = &Error{Kind: KindValidation}
	ErrPopulate            = &Error{Kind: KindPopulate}
	ErrHookAborted         = &Error{Kind: KindHookAborted}
	ErrMalformedDescriptor = &Error{Kind: KindMalformedDescriptor}
	ErrDuplicateSchema     = &Error{Kind: KindDuplicateSchema}
	ErrSchemaFrozen        = &Error{Kind: KindSchemaFrozen}
)

// New builds an *Error of the given kind with a formatted message as cause.
func New(kind Kind, op, collection, path string, format string, args ...interface{}) *Error {
	var cause error
	if format != "" {
		cause = fmt.Errorf(format, args...)
	}
	return &Error{Kind: kind, Op: op, Collection: collection, Path: path, Err: cause}
}

// Wrap builds an *Error of the given kind around err.
func Wrap(kind Kind, op, collection string, err error) *Error {
	return &Error{Kind: kind, Op: op, Collection: collection, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnspecified
}

// IsCommitted reports whether err was raised after the storage mutation had
// already been applied.
func IsCommitted(err error) bool {
	var e *Error
	for err != nil {
		if errors.As(err, &e) {
			if e.Committed {
				return true
			}
			err = e.Err
			continue
		}
		return false
	}
	return false
}
