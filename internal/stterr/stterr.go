// Package stterr classifies pipeline errors as transient or permanent.
// The consumer switches on this classification to decide between
// requeueing a message and dead-lettering it.
package stterr

import (
	"errors"
	"fmt"
)

// Class determines the terminal disposition of a failed job message.
type Class int

const (
	// ClassTransient errors are recoverable by retry; the message is
	// returned to the queue and the job's retry count is incremented.
	ClassTransient Class = iota
	// ClassPermanent errors are not recoverable; the message is
	// dead-lettered and the job is marked FAILED.
	ClassPermanent
)

// String returns a human-readable class name.
func (c Class) String() string {
	if c == ClassPermanent {
		return "permanent"
	}
	return "transient"
}

// Kind identifies the specific failure.
type Kind string

// Transient kinds.
const (
	KindBrokerConnect       Kind = "BrokerConnectError"
	KindBlobIO              Kind = "BlobIOError"
	KindJobStoreUnavailable Kind = "JobStoreUnavailable"
	KindTranscriberCrashed  Kind = "TranscriberCrashed"
	KindTranscriberTimeout  Kind = "TranscriberTimeout"
	KindChunkingFailed      Kind = "ChunkingFailed"
)

// Permanent kinds.
const (
	KindJobNotFound        Kind = "JobNotFound"
	KindJobAlreadyFailed   Kind = "JobAlreadyFailed"
	KindInvalidAudioFormat Kind = "InvalidAudioFormat"
	KindCorruptedAudio     Kind = "CorruptedAudio"
	KindMissingDependency  Kind = "MissingDependency"
	KindAllChunksFailed    Kind = "AllChunksFailed"
	KindOversizeUpload     Kind = "OversizeUpload"
	KindMalformedMessage   Kind = "MalformedMessage"
)

// Error is a tagged error value carrying a kind and its class.
type Error struct {
	Kind  Kind
	Class Class
	Err   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a transient error of the given kind.
func Transient(kind Kind, err error) *Error {
	return &Error{Kind: kind, Class: ClassTransient, Err: err}
}

// Transientf builds a transient error from a format string.
func Transientf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Class: ClassTransient, Err: fmt.Errorf(format, args...)}
}

// Permanent wraps err as a permanent error of the given kind.
func Permanent(kind Kind, err error) *Error {
	return &Error{Kind: kind, Class: ClassPermanent, Err: err}
}

// Permanentf builds a permanent error from a format string.
func Permanentf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Class: ClassPermanent, Err: fmt.Errorf(format, args...)}
}

// IsPermanent reports whether err carries a permanent classification.
func IsPermanent(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Class == ClassPermanent
}

// IsTransient reports whether err carries a transient classification.
// Unclassified errors are not transient; the consumer treats them as
// transient by default, but callers that need the distinction can ask.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Class == ClassTransient
}

// KindOf returns the kind carried by err, or "" if err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
