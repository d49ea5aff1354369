// Package fat32vol implements a FAT32 volume engine that operates purely on
// an in-memory byte buffer representing a complete disk image.
package fat32vol

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Kind classifies the errors this package can return. Every error returned
// by an exported function satisfies DriverError, and errors.Is(err, Err<X>)
// is the supported way to inspect which Kind occurred.
type Kind uint8

const (
	// BadBpb means the volume's geometry is invalid or unsupported.
	BadBpb Kind = iota
	// OutOfRange means a cluster number fell outside the valid cluster range.
	OutOfRange
	// CorruptChain means a FAT entry classified as Bad mid-chain, a chain
	// exceeded its traversal cap, or a chain ended before a file's declared
	// size was satisfied.
	CorruptChain
	// NotFound means a path segment does not exist.
	NotFound
	// NotADirectory means a non-final path segment is a file, or an
	// operation required a directory.
	NotADirectory
	// NotAFile means an operation required a regular file.
	NotAFile
	// InvalidPath means a path or 8.3 short name was malformed.
	InvalidPath
	// NoSpace means there weren't enough free clusters to satisfy a write.
	NoSpace
	// DirFull means a parent directory had no free directory-entry slot and
	// the engine does not support extending directory size.
	DirFull
)

func (k Kind) String() string {
	switch k {
	case BadBpb:
		return "invalid or unsupported FAT32 geometry"
	case OutOfRange:
		return "cluster number out of range"
	case CorruptChain:
		return "corrupt cluster chain"
	case NotFound:
		return "path segment not found"
	case NotADirectory:
		return "not a directory"
	case NotAFile:
		return "not a regular file"
	case InvalidPath:
		return "invalid path"
	case NoSpace:
		return "no free clusters available"
	case DirFull:
		return "parent directory has no free entry slot"
	default:
		return fmt.Sprintf("fat32vol error kind %d", uint8(k))
	}
}

// DriverError is the error type returned by every exported operation in this
// package. It carries a Kind so callers can branch on the failure category
// with errors.Is, and supports chaining an underlying cause the way
// fmt.Errorf("%w", ...) does.
type DriverError interface {
	error
	Kind() Kind
	WithMessage(message string) DriverError
	Wrap(err error) DriverError
	Unwrap() error
}

type baseError struct {
	kind Kind
}

func (e baseError) Error() string { return e.kind.String() }
func (e baseError) Kind() Kind    { return e.kind }
func (e baseError) Unwrap() error { return nil }

func (e baseError) WithMessage(message string) DriverError {
	return customError{
		kind:    e.kind,
		message: fmt.Sprintf("%s: %s", e.kind.String(), message),
		cause:   e,
	}
}

func (e baseError) Wrap(err error) DriverError {
	return customError{
		kind:    e.kind,
		message: fmt.Sprintf("%s: %s", e.kind.String(), err.Error()),
		cause:   multierror.Append(e, err),
	}
}

// Is lets errors.Is match this sentinel against any DriverError of the same
// Kind, even a customError produced by WithMessage or Wrap.
func (e baseError) Is(target error) bool {
	other, ok := target.(interface{ Kind() Kind })
	return ok && other.Kind() == e.kind
}

// -----------------------------------------------------------------------------

type customError struct {
	kind    Kind
	message string
	cause   error
}

func (e customError) Error() string { return e.message }
func (e customError) Kind() Kind    { return e.kind }
func (e customError) Unwrap() error { return e.cause }

func (e customError) WithMessage(message string) DriverError {
	return customError{
		kind:    e.kind,
		message: fmt.Sprintf("%s: %s", e.message, message),
		cause:   e,
	}
}

func (e customError) Wrap(err error) DriverError {
	return customError{
		kind:    e.kind,
		message: fmt.Sprintf("%s: %s", e.message, err.Error()),
		cause:   multierror.Append(e, err),
	}
}

func (e customError) Is(target error) bool {
	other, ok := target.(interface{ Kind() Kind })
	return ok && other.Kind() == e.kind
}

// Sentinel errors, one per Kind. Compare with errors.Is, e.g.
// errors.Is(err, fat32vol.ErrNotFound).
var (
	ErrBadBpb        DriverError = baseError{kind: BadBpb}
	ErrOutOfRange    DriverError = baseError{kind: OutOfRange}
	ErrCorruptChain  DriverError = baseError{kind: CorruptChain}
	ErrNotFound      DriverError = baseError{kind: NotFound}
	ErrNotADirectory DriverError = baseError{kind: NotADirectory}
	ErrNotAFile      DriverError = baseError{kind: NotAFile}
	ErrInvalidPath   DriverError = baseError{kind: InvalidPath}
	ErrNoSpace       DriverError = baseError{kind: NoSpace}
	ErrDirFull       DriverError = baseError{kind: DirFull}
)
