package models

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies why a load failed.
type ErrorKind int

const (
	// header signature mismatch or absent header
	InvalidMagic ErrorKind = iota + 1
	// wrong class, encoding, version or machine
	UnsupportedFormat
	// object type is not ET_EXEC or ET_DYN
	UnsupportedObjectType
	// the address space refused a mapping
	MappingFailure
	// the address space refused a protection change
	ProtectionFailure
	// two segments ask for different protections on one page
	SegmentOverlap
	// argv, envp and auxv do not fit the stack layout budget
	StackOverflow
	// header or segment tables point outside the image
	MalformedImage
)

var kindNames = map[ErrorKind]string{
	InvalidMagic:          "invalid ELF magic",
	UnsupportedFormat:     "unsupported ELF format",
	UnsupportedObjectType: "unsupported ELF object type",
	MappingFailure:        "mapping failure",
	ProtectionFailure:     "protection failure",
	SegmentOverlap:        "segment overlap",
	StackOverflow:         "stack overflow",
	MalformedImage:        "malformed ELF image",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// LoadError is returned by every loader stage. Match it by kind with errors.Is
// against the Err* values below, or extract it with errors.As.
type LoadError struct {
	Kind ErrorKind
	// offending header field or stage detail, if any
	Field string
	// memory range involved, if any
	Addr, Size uint64
	Err        error
}

func (e *LoadError) Error() string {
	msg := e.Kind.String()
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Size > 0 {
		msg += fmt.Sprintf(" at %#x(%#x)", e.Addr, e.Size)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Is matches any LoadError of the same kind. A target with a Field set also
// requires the field to match.
func (e *LoadError) Is(target error) bool {
	t, ok := target.(*LoadError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Field == "" || t.Field == e.Field)
}

var (
	ErrInvalidMagic          = &LoadError{Kind: InvalidMagic}
	ErrUnsupportedFormat     = &LoadError{Kind: UnsupportedFormat}
	ErrUnsupportedObjectType = &LoadError{Kind: UnsupportedObjectType}
	ErrMappingFailure        = &LoadError{Kind: MappingFailure}
	ErrProtectionFailure     = &LoadError{Kind: ProtectionFailure}
	ErrSegmentOverlap        = &LoadError{Kind: SegmentOverlap}
	ErrStackOverflow         = &LoadError{Kind: StackOverflow}
	ErrMalformedImage        = &LoadError{Kind: MalformedImage}
)

// Errorf builds a LoadError with a formatted cause and records a stack trace.
func Errorf(kind ErrorKind, field, format string, args ...interface{}) error {
	return errors.WithStack(&LoadError{Kind: kind, Field: field, Err: fmt.Errorf(format, args...)})
}

// MemErr wraps a failed memory primitive on addr:size.
func MemErr(kind ErrorKind, field string, addr, size uint64, err error) error {
	return errors.WithStack(&LoadError{Kind: kind, Field: field, Addr: addr, Size: size, Err: err})
}

// KindOf returns the kind of the first LoadError in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Kind
	}
	return 0
}
