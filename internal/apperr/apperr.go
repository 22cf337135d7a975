// Package apperr holds the failure taxonomy surfaced to the UI collaborator.
// Every error carries a user-facing message; callers compare kinds with
// errors.Is against the exported sentinels.
package apperr

import (
	"errors"
	"fmt"
)

// Kind names one branch of the taxonomy.
type Kind string

const (
	KindUpload           Kind = "upload"
	KindJobNotFound      Kind = "job_not_found"
	KindJobLocateTimeout Kind = "job_locate_timeout"
	KindPollQuery        Kind = "poll_query_failure"
	KindPollTimeout      Kind = "poll_timeout"
	KindProcessing       Kind = "processing_error"
	KindInvalidResult    Kind = "invalid_result_format"
)

// Error is a classified failure with a message suitable for display.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrUpload              = &Error{Kind: KindUpload, Message: "Upload failed"}
	ErrJobNotFound         = &Error{Kind: KindJobNotFound, Message: "Job not found"}
	ErrJobLocateTimeout    = &Error{Kind: KindJobLocateTimeout, Message: "Processing timeout - job not found, please try again"}
	ErrPollQuery           = &Error{Kind: KindPollQuery, Message: "Monitoring failed - please refresh and try again"}
	ErrPollTimeout         = &Error{Kind: KindPollTimeout, Message: "Processing timeout - please refresh and try again"}
	ErrProcessing          = &Error{Kind: KindProcessing, Message: "Processing failed"}
	ErrInvalidResultFormat = &Error{Kind: KindInvalidResult, Message: "Invalid response format"}
)

// New builds an error of the given kind. An empty message falls back to the
// sentinel's default text.
func New(kind Kind, message string, cause error) *Error {
	if message == "" {
		message = defaultMessage(kind)
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func defaultMessage(kind Kind) string {
	for _, s := range []*Error{ErrUpload, ErrJobNotFound, ErrJobLocateTimeout, ErrPollQuery, ErrPollTimeout, ErrProcessing, ErrInvalidResultFormat} {
		if s.Kind == kind {
			return s.Message
		}
	}
	return "Something went wrong"
}

// Stage identifies which half of the upload handshake failed.
type Stage string

const (
	StagePresign Stage = "presign"
	StagePut     Stage = "put"
)

// UploadError reports the first file of a batch that failed. Files after
// Index were never attempted.
type UploadError struct {
	Stage    Stage
	Index    int
	FileName string
	Message  string
	Cause    error
}

func (e *UploadError) Error() string {
	msg := fmt.Sprintf("upload %s failed for %q (file %d): %s", e.Stage, e.FileName, e.Index+1, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *UploadError) Unwrap() error {
	return e.Cause
}

// Is lets callers treat every UploadError as ErrUpload.
func (e *UploadError) Is(target error) bool {
	return target == ErrUpload
}

// Message returns the user-facing text for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var ue *UploadError
	if errors.As(err, &ue) {
		return ue.Message
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "Something went wrong"
}
