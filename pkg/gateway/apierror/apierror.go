// Package apierror maps engine errors to the HTTP boundary shape:
// {"success": false, "error": {code, message, details?, recoverable,
// fallback_active}}.
package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/luminalearn/teachback/pkg/core"
)

type Envelope struct {
	Success bool        `json:"success"`
	Error   *core.Error `json:"error"`
}

// FromError converts any error into the boundary envelope and a status
// code. Unknown errors become PROCESSING_FAILED without leaking details.
func FromError(err error) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return core.Newf(core.CodeProcessingFailed, "request timeout"), http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return core.Newf(core.CodeProcessingFailed, "request cancelled"), http.StatusRequestTimeout
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		return coreErr, statusFromCode(coreErr.Code)
	}

	return core.New(core.CodeProcessingFailed), http.StatusInternalServerError
}

// Write sends the envelope for err.
func Write(w http.ResponseWriter, err error) {
	coreErr, status := FromError(err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: coreErr})
}

func statusFromCode(code core.Code) int {
	switch code {
	case core.CodeNoInput, core.CodePoorAudio:
		return http.StatusBadRequest
	case core.CodeNotFound:
		return http.StatusNotFound
	case core.CodeInvalidStateTransition, core.CodeSessionCompleted:
		return http.StatusConflict
	case core.CodeQuotaExceeded, core.CodeVoiceQuotaExceeded,
		core.CodeSessionDurationExceeded, core.CodeLLMRateLimited:
		return http.StatusTooManyRequests
	case core.CodeStorageQuotaExceeded:
		return http.StatusInsufficientStorage
	case core.CodeMaintenanceMode, core.CodeAllLLMsFailed, core.CodeFeatureDisabled:
		return http.StatusServiceUnavailable
	case core.CodePrimaryLLMFailed, core.CodeFallbackLLMFailed, core.CodeSyncFailed,
		core.CodeSTTUnavailable, core.CodeSTTFailed, core.CodeTTSUnavailable, core.CodeTTSFailed:
		return http.StatusBadGateway
	case core.CodeStateCorruption, core.CodeDatabaseError, core.CodeProcessingFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
