// SPDX-License-Identifier: MIT

// Package apperr defines the closed set of failure kinds surfaced by the
// spectrogram pipeline and the single mapping from kind to display message.
package apperr

import (
	"context"
	"errors"
	"os"
	"strings"
	"syscall"
)

// Kind classifies a failure. The set is closed; callers switch on it.
type Kind int

const (
	Unknown Kind = iota
	InputNotFound
	InputUnsupportedFormat
	InputTooLarge
	EngineExecutionFailed
	EngineTimeout
	InvalidAudioConfig
	CaptureInitFailed
	CaptureReadFailed
	OutOfMemory
	StorageFull
	FilesystemError
	PermissionDenied
	EmptyBatch
	AlreadyRunning
	Cancelled
)

var kindNames = [...]string{
	Unknown:                "Unknown",
	InputNotFound:          "InputNotFound",
	InputUnsupportedFormat: "InputUnsupportedFormat",
	InputTooLarge:          "InputTooLarge",
	EngineExecutionFailed:  "EngineExecutionFailed",
	EngineTimeout:          "EngineTimeout",
	InvalidAudioConfig:     "InvalidAudioConfig",
	CaptureInitFailed:      "CaptureInitFailed",
	CaptureReadFailed:      "CaptureReadFailed",
	OutOfMemory:            "OutOfMemory",
	StorageFull:            "StorageFull",
	FilesystemError:        "FilesystemError",
	PermissionDenied:       "PermissionDenied",
	EmptyBatch:             "EmptyBatch",
	AlreadyRunning:         "AlreadyRunning",
	Cancelled:              "Cancelled",
}

// String returns the identifier of the kind.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[Unknown]
	}
	return kindNames[k]
}

// Message maps a kind to its stable, human-readable message. Callers
// surface the returned text as-is.
func Message(k Kind) string {
	switch k {
	case InputNotFound:
		return "The audio file could not be found."
	case InputUnsupportedFormat:
		return "The audio format is not supported."
	case InputTooLarge:
		return "The audio file is too large to process."
	case EngineExecutionFailed:
		return "Spectral analysis failed for this audio."
	case EngineTimeout:
		return "Spectral analysis took too long and was stopped."
	case InvalidAudioConfig:
		return "The audio configuration is invalid (check sample rate and buffer size)."
	case CaptureInitFailed:
		return "The audio input device could not be opened."
	case CaptureReadFailed:
		return "Reading from the audio input failed."
	case OutOfMemory:
		return "Not enough memory to keep the spectrogram data."
	case StorageFull:
		return "There is not enough storage space to save the output."
	case FilesystemError:
		return "A file could not be read or written."
	case PermissionDenied:
		return "Permission to access the file or device was denied."
	case EmptyBatch:
		return "No files were selected for processing."
	case AlreadyRunning:
		return "A batch is already being processed."
	case Cancelled:
		return "Processing was cancelled."
	default:
		return "An unexpected error occurred."
	}
}

// Error carries a Kind together with the operation and path involved.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "open", "analyze"
	Path string // file involved, if any
	Err  error  // underlying cause, may be nil
}

// New returns an *Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithPath returns an *Error of the given kind naming the file involved.
func WithPath(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(" ")
	}
	if b.Len() > 0 {
		b.WriteString("failed: ")
	}
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches kind-only targets, so errors.Is(err, apperr.ErrEmptyBatch)
// holds for any EmptyBatch error regardless of its Op or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Path == "" && t.Err == nil && t.Kind == e.Kind
}

// Kind-only sentinels for errors.Is.
var (
	ErrEmptyBatch     = &Error{Kind: EmptyBatch}
	ErrAlreadyRunning = &Error{Kind: AlreadyRunning}
	ErrOutOfMemory    = &Error{Kind: OutOfMemory}
	ErrCancelled      = &Error{Kind: Cancelled}
)

// KindOf extracts the Kind of err. Context and filesystem errors that were
// never wrapped in an *Error are classified as well.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return Cancelled
	case errors.Is(err, context.DeadlineExceeded):
		return EngineTimeout
	case errors.Is(err, os.ErrNotExist):
		return InputNotFound
	case errors.Is(err, os.ErrPermission):
		return PermissionDenied
	case errors.Is(err, syscall.ENOSPC):
		return StorageFull
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return FilesystemError
	}
	return Unknown
}

// UserMessage returns the display message for err, or "" for nil.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	return Message(KindOf(err))
}

// Classify wraps a filesystem error on an input path. Errors that already
// carry a Kind are returned unchanged.
func Classify(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	kind := KindOf(err)
	if kind == Unknown {
		kind = FilesystemError
	}
	return WithPath(kind, op, path, err)
}

// ClassifyWrite wraps a filesystem error on an output path. A missing
// parent directory is a FilesystemError rather than InputNotFound.
func ClassifyWrite(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, os.ErrPermission):
		return WithPath(PermissionDenied, op, path, err)
	case errors.Is(err, syscall.ENOSPC):
		return WithPath(StorageFull, op, path, err)
	default:
		return WithPath(FilesystemError, op, path, err)
	}
}
