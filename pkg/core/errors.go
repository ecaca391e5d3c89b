package core

import (
	"errors"
	"fmt"
)

// Code identifies a failure kind in the teach-back engine taxonomy.
type Code string

const (
	// Voice failures. These degrade the session to text mode and never
	// escalate to session failure.
	CodeSTTUnavailable Code = "STT_UNAVAILABLE"
	CodeSTTFailed      Code = "STT_FAILED"
	CodeTTSUnavailable Code = "TTS_UNAVAILABLE"
	CodeTTSFailed      Code = "TTS_FAILED"
	CodePoorAudio      Code = "POOR_AUDIO_QUALITY"

	// LLM failures.
	CodePrimaryLLMFailed  Code = "PRIMARY_LLM_FAILED"
	CodeFallbackLLMFailed Code = "FALLBACK_LLM_FAILED"
	CodeAllLLMsFailed     Code = "ALL_LLMS_FAILED"
	CodeLLMRateLimited    Code = "LLM_RATE_LIMITED"

	// Quota failures. Non-recoverable until the next reset window.
	CodeQuotaExceeded           Code = "QUOTA_EXCEEDED"
	CodeVoiceQuotaExceeded      Code = "VOICE_QUOTA_EXCEEDED"
	CodeSessionDurationExceeded Code = "SESSION_DURATION_EXCEEDED"

	// State machine failures.
	CodeInvalidStateTransition Code = "INVALID_STATE_TRANSITION"
	CodeStateCorruption        Code = "STATE_CORRUPTION"

	// Persistence failures.
	CodeDatabaseError        Code = "DATABASE_ERROR"
	CodeStorageQuotaExceeded Code = "STORAGE_QUOTA_EXCEEDED"
	CodeNotFound             Code = "NOT_FOUND"
	CodeSessionCompleted     Code = "SESSION_ALREADY_COMPLETED"

	// Integration failures (downstream learning systems).
	CodeSyncFailed Code = "SYNC_FAILED"

	// General failures.
	CodeMaintenanceMode  Code = "MAINTENANCE_MODE"
	CodeFeatureDisabled  Code = "FEATURE_DISABLED"
	CodeNoInput          Code = "NO_INPUT"
	CodeProcessingFailed Code = "PROCESSING_FAILED"
)

// Error is the canonical engine error. Every failure that crosses a component
// boundary is one of these so callers can branch on Code and surface Message.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`

	// Recoverable tells the caller whether offering a retry makes sense.
	Recoverable bool `json:"recoverable"`

	// FallbackActive is set when the result was produced (or the error
	// reported) while a degraded path was in use, e.g. voice falling back
	// to text or the fallback provider answering for the primary.
	FallbackActive bool `json:"fallback_active"`

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// WithDetail returns e with one detail key set, allocating the map lazily.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any, 1)
	}
	e.Details[key] = value
	return e
}

// userMessages maps each code to its default user-facing message.
var userMessages = map[Code]string{
	CodeSTTUnavailable:          "Voice input is temporarily unavailable. Continuing in text mode.",
	CodeSTTFailed:               "We couldn't understand that audio. Continuing in text mode.",
	CodeTTSUnavailable:          "Voice output is temporarily unavailable. Continuing in text mode.",
	CodeTTSFailed:               "We couldn't generate speech for that response. Continuing in text mode.",
	CodePoorAudio:               "The audio quality was too low to transcribe. Please try again or switch to text.",
	CodePrimaryLLMFailed:        "The tutor had trouble responding. Retrying on a backup.",
	CodeFallbackLLMFailed:       "The backup tutor also had trouble responding.",
	CodeAllLLMsFailed:           "The AI tutor is unavailable right now. Please try again later.",
	CodeLLMRateLimited:          "The AI tutor is busy. Please wait a moment and try again.",
	CodeQuotaExceeded:           "You've reached your daily teach-back session limit for your plan.",
	CodeVoiceQuotaExceeded:      "You've reached your daily voice limit for your plan. Text mode is still available.",
	CodeSessionDurationExceeded: "This session reached its maximum length, so we're moving to the examination.",
	CodeInvalidStateTransition:  "That action isn't available at this point in the session.",
	CodeStateCorruption:         "This session is in an unexpected state and can't continue. Please start a new one.",
	CodeDatabaseError:           "We couldn't save your progress. Please try again.",
	CodeStorageQuotaExceeded:    "Your account's storage is full. Older sessions must be cleaned up first.",
	CodeNotFound:                "We couldn't find that session.",
	CodeSessionCompleted:        "This session has already finished.",
	CodeSyncFailed:              "Your session was saved, but syncing it to your learning record failed.",
	CodeMaintenanceMode:         "Teach-back is temporarily in maintenance mode. Please try again shortly.",
	CodeFeatureDisabled:         "Teach-back sessions are currently disabled.",
	CodeNoInput:                 "We didn't receive any input.",
	CodeProcessingFailed:        "Something went wrong processing that. Please try again.",
}

// recoverableCodes maps each code to whether the caller may usefully retry.
// Quota, state and maintenance failures stay false: they only clear through
// an external event (reset window, new session, operator action).
var recoverableCodes = map[Code]bool{
	CodeSTTUnavailable:          true,
	CodeSTTFailed:               true,
	CodeTTSUnavailable:          true,
	CodeTTSFailed:               true,
	CodePoorAudio:               true,
	CodePrimaryLLMFailed:        true,
	CodeFallbackLLMFailed:       true,
	CodeAllLLMsFailed:           false,
	CodeLLMRateLimited:          true,
	CodeQuotaExceeded:           false,
	CodeVoiceQuotaExceeded:      false,
	CodeSessionDurationExceeded: false,
	CodeInvalidStateTransition:  false,
	CodeStateCorruption:         false,
	CodeDatabaseError:           true,
	CodeStorageQuotaExceeded:    false,
	CodeNotFound:                false,
	CodeSessionCompleted:        false,
	CodeSyncFailed:              true,
	CodeMaintenanceMode:         false,
	CodeFeatureDisabled:         false,
	CodeNoInput:                 true,
	CodeProcessingFailed:        true,
}

// breakerCodes marks codes that must put the whole engine into maintenance
// mode when they occur.
var breakerCodes = map[Code]bool{
	CodeAllLLMsFailed: true,
}

// New creates an engine error for code with its default user-facing message.
func New(code Code) *Error {
	return &Error{
		Code:        code,
		Message:     UserMessage(code),
		Recoverable: Recoverable(code),
	}
}

// Newf creates an engine error for code with a custom message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{
		Code:        code,
		Message:     fmt.Sprintf(format, args...),
		Recoverable: Recoverable(code),
	}
}

// Wrap creates an engine error for code wrapping cause, keeping the default
// user-facing message. The cause is available to logs via Unwrap, never
// shown to users.
func Wrap(code Code, cause error) *Error {
	e := New(code)
	e.cause = cause
	return e
}

// UserMessage returns the default human-readable message for code.
func UserMessage(code Code) string {
	if msg, ok := userMessages[code]; ok {
		return msg
	}
	return "An unexpected error occurred."
}

// Recoverable reports whether failures with this code are worth retrying.
func Recoverable(code Code) bool {
	return recoverableCodes[code]
}

// TripsBreaker reports whether this failure kind must trip the process-wide
// maintenance flag.
func TripsBreaker(code Code) bool {
	return breakerCodes[code]
}

// HasCode reports whether err is, or wraps, an engine error with code.
func HasCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
