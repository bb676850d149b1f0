package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/studyloop/viva/pkg/core"
	"github.com/studyloop/viva/pkg/gateway/auth"
	"github.com/studyloop/viva/pkg/gateway/live/protocol"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, statusFromType(coreErr.Type)
	}

	// Identity token rejections.
	var tokenErr *auth.TokenError
	if errors.As(err, &tokenErr) && tokenErr != nil {
		return &core.Error{
			Type:      core.ErrAuthentication,
			Message:   tokenErr.Error(),
			Code:      tokenErr.Reason,
			RequestID: requestID,
		}, http.StatusUnauthorized
	}

	// Malformed client frames and request bodies.
	var decodeErr *protocol.DecodeError
	if errors.As(err, &decodeErr) && decodeErr != nil {
		return &core.Error{
			Type:      core.ErrInvalidRequest,
			Message:   decodeErr.Message,
			Param:     decodeErr.Param,
			Code:      decodeErr.Code,
			RequestID: requestID,
		}, http.StatusBadRequest
	}

	// Unknown errors: treat as internal API error (do not leak details by default).
	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func statusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrBridgeConnect:
		return http.StatusBadGateway
	case core.ErrEvaluation:
		return http.StatusBadGateway
	case core.ErrOverloaded:
		return 529
	case core.ErrAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
