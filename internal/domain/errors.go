package domain

import "errors"

// Common domain errors
var (
	// Bus errors
	ErrNotConnected     = errors.New("bus client not connected")
	ErrConnectionFailed = errors.New("bus connection failed")
	ErrTimeout          = errors.New("request timed out")
	ErrRemoteError      = errors.New("responder returned an error")
	ErrProducerError    = errors.New("producer create or send failed")

	// Memory errors
	ErrDuplicateTurn      = errors.New("turn already recorded for this session and index")
	ErrDimensionMismatch  = errors.New("embedding dimension mismatch")
	ErrEmbeddingsFailed   = errors.New("failed to generate embeddings")
	ErrMemorySearchFailed = errors.New("memory search failed")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session already closed")

	// LLM errors
	ErrLLMUnavailable   = errors.New("LLM service unavailable")
	ErrLLMRequestFailed = errors.New("LLM request failed")

	// Speech errors
	ErrTTSBusy        = errors.New("all synthesis slots busy")
	ErrModelNotLoaded = errors.New("synthesis model not loaded")
	ErrSTTUnavailable = errors.New("STT service unavailable")
	ErrSTTFailed      = errors.New("STT processing failed")
	ErrTTSFailed      = errors.New("TTS processing failed")
	ErrStreamClosed   = errors.New("stream closed")

	// Validation errors
	ErrInvalidID    = errors.New("invalid ID format")
	ErrEmptyContent = errors.New("content cannot be empty")
	ErrInvalidState = errors.New("invalid state transition")
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("resource not found")
)

// DomainError wraps a domain error with additional context
type DomainError struct {
	Err     error
	Message string
	Code    string
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func NewDomainError(err error, message string) *DomainError {
	return &DomainError{
		Err:     err,
		Message: message,
	}
}

func NewDomainErrorWithCode(err error, message, code string) *DomainError {
	return &DomainError{
		Err:     err,
		Message: message,
		Code:    code,
	}
}

// Kind maps an error to the stable name used inside error envelopes and
// logs. Unknown errors map to "Internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotConnected):
		return "NotConnected"
	case errors.Is(err, ErrConnectionFailed):
		return "ConnectionFailed"
	case errors.Is(err, ErrTimeout):
		return "Timeout"
	case errors.Is(err, ErrRemoteError):
		return "RemoteError"
	case errors.Is(err, ErrProducerError):
		return "ProducerError"
	case errors.Is(err, ErrDuplicateTurn):
		return "DuplicateTurn"
	case errors.Is(err, ErrDimensionMismatch):
		return "DimensionMismatch"
	case errors.Is(err, ErrTTSBusy):
		return "TTSBusy"
	case errors.Is(err, ErrModelNotLoaded):
		return "ModelNotLoaded"
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	default:
		return "Internal"
	}
}
