// Package httpx provides HTTP request/response handling utilities for the
// gateway's HTTP facade: JSON responses, error mapping, and request parsing.
package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Molefas/trikhub/internal/common/apperrors"
)

// GetRequestData parses a JSON request body into data. Only POST and PUT
// carry bodies on this API.
func GetRequestData(r *http.Request, data any) error {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		return ErrReqMethodNotSupported()
	}
	if r.Body == nil {
		log.Ctx(r.Context()).Error().Msg("empty request body")
		return ErrUnableToParseReqData()
	}
	if err := json.NewDecoder(r.Body).Decode(data); err != nil {
		return ErrUnableToParseReqData()
	}
	return nil
}

// Response is a handler's successful result.
type Response struct {
	StatusCode int
	Response   any
}

// RequestHandler handles an HTTP request and returns either a Response or an
// error. Errors of type *Error or apperrors.Error map to their status codes;
// anything else becomes a 500.
type RequestHandler func(r *http.Request) (*Response, error)

// WrapHandler adapts a RequestHandler into an http.HandlerFunc with
// standardised error handling and JSON encoding.
func WrapHandler(handler RequestHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rsp, err := handler(r)
		if err != nil {
			switch e := err.(type) {
			case *Error:
				e.Send(w)
			case apperrors.Error:
				SendError(w, e)
			default:
				ErrApplicationError(err.Error()).Send(w)
			}
			return
		}
		if rsp == nil {
			ErrApplicationError().Send(w)
			return
		}
		SendJSONRsp(r.Context(), w, rsp.StatusCode, rsp.Response)
	}
}
