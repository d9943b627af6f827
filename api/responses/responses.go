// Package responses writes the JSON envelopes shared by every handler.
package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	zlog "github.com/rs/zerolog/log"

	pkgerrors "github.com/angelmondragon/assetledger-backend/pkg/errors"
	"github.com/angelmondragon/assetledger-backend/pkg/logger"
	"github.com/angelmondragon/assetledger-backend/pkg/types"
)

// RequestIDHeader is set on every response by the request id middleware and
// echoed into error bodies.
const RequestIDHeader = "X-Request-Id"

// encodeFailureBody is sent when the real payload cannot be marshalled.
var encodeFailureBody = []byte(`{"error":{"code":"INTERNAL_ERROR","message":"internal server error"}}` + "\n")

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WriteError maps err onto the error envelope. Untyped errors become
// INTERNAL_ERROR and never leak their text. 4xx is logged at warn and 5xx
// at error.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	body := types.APIError{
		Code:      string(typed.Code()),
		Message:   meta.PublicMessage,
		RequestID: w.Header().Get(RequestIDHeader),
	}
	clientError := meta.HTTPStatus < http.StatusInternalServerError
	if clientError && typed.Message() != "" {
		body.Message = typed.Message()
	}
	if meta.DetailsAllowed {
		body.Details = typed.Details()
	}

	if logg != nil {
		fields := pkgerrors.Dump(err).Fields()
		fields["http_status"] = meta.HTTPStatus
		logCtx := logg.WithFields(ctx, fields)
		if clientError {
			logg.Warn(logCtx, "request.rejected")
		} else {
			logg.Error(logCtx, "request.error", err)
		}
	}

	writeJSON(w, meta.HTTPStatus, types.ErrorEnvelope{Error: body})
}

// writeJSON marshals before touching the response so an encoding failure
// can still produce a well-formed 500.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	raw, err := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		zlog.Error().Err(err).Msg("response.encode_failed")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write(encodeFailureBody)
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(append(raw, '\n'))
}
