package engine

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures so callers can render a message per kind.
type Kind int

const (
	KindUnknown Kind = iota
	KindTranscriptDisabled
	KindTranscriptNotFound
	KindProviderBlocked
	KindNoUsableTranscript
	KindDocumentLoadFailed
	KindNoContent
	KindInvalidConfiguration
	KindSummarizationFailed
)

var kindNames = map[Kind]string{
	KindUnknown:              "unknown",
	KindTranscriptDisabled:   "transcript_disabled",
	KindTranscriptNotFound:   "transcript_not_found",
	KindProviderBlocked:      "provider_blocked",
	KindNoUsableTranscript:   "no_usable_transcript",
	KindDocumentLoadFailed:   "document_load_failed",
	KindNoContent:            "no_content",
	KindInvalidConfiguration: "invalid_configuration",
	KindSummarizationFailed:  "summarization_failed",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the typed failure returned by every pipeline component.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// NewError builds an *Error. msg and err are both optional.
func NewError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so errors.Is(err, ErrNoContent) works
// regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrTranscriptDisabled   = &Error{Kind: KindTranscriptDisabled}
	ErrTranscriptNotFound   = &Error{Kind: KindTranscriptNotFound}
	ErrProviderBlocked      = &Error{Kind: KindProviderBlocked}
	ErrNoUsableTranscript   = &Error{Kind: KindNoUsableTranscript}
	ErrDocumentLoadFailed   = &Error{Kind: KindDocumentLoadFailed}
	ErrNoContent            = &Error{Kind: KindNoContent}
	ErrInvalidConfiguration = &Error{Kind: KindInvalidConfiguration}
	ErrSummarizationFailed  = &Error{Kind: KindSummarizationFailed}
)

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// UserMessage renders err for an end user. Every Kind has its own wording;
// provider blocks explain that only video transcripts are affected.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return "Something went wrong: " + err.Error()
	}
	switch e.Kind {
	case KindTranscriptDisabled:
		return "Transcripts are disabled for this video."
	case KindTranscriptNotFound:
		return "No transcript was found for this video. It may be private, removed, or have no captions."
	case KindProviderBlocked:
		return "YouTube is blocking requests from this server's IP address, so video transcripts cannot be fetched right now. Webpage summaries still work."
	case KindNoUsableTranscript:
		return "None of the available transcripts could be retrieved or translated to English."
	case KindDocumentLoadFailed:
		return "Could not load the webpage: " + causeText(e)
	case KindNoContent:
		return "No readable content was found at this URL."
	case KindInvalidConfiguration:
		return "Invalid request: " + causeText(e)
	case KindSummarizationFailed:
		if ce := (*CompletionError)(nil); errors.As(e, &ce) && ce.Kind == CompletionRateLimited {
			return "The language model is rate limiting requests. Please try again shortly."
		}
		return "Summarization failed: " + causeText(e)
	}
	return "Something went wrong: " + err.Error()
}

func causeText(e *Error) string {
	switch {
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	}
	return e.Kind.String()
}

// --- Completion backend errors ---

// CompletionErrorKind classifies a failed completion call.
type CompletionErrorKind int

const (
	CompletionProviderError CompletionErrorKind = iota
	CompletionRateLimited
	CompletionInvalidRequest
)

func (k CompletionErrorKind) String() string {
	switch k {
	case CompletionRateLimited:
		return "rate_limited"
	case CompletionInvalidRequest:
		return "invalid_request"
	}
	return "provider_error"
}

// CompletionError wraps a backend failure with its classification.
type CompletionError struct {
	Kind  CompletionErrorKind
	Model string
	Err   error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion %s (model %s): %v", e.Kind, e.Model, e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }
