package httpx

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// SendJSONRsp sends a JSON response with the given status code. Pre-marshaled
// JSON (string or []byte) is passed through; anything else is marshaled.
func SendJSONRsp(ctx context.Context, w http.ResponseWriter, statusCode int, msg any) {
	var msgJSON []byte
	switch m := msg.(type) {
	case string:
		if json.Valid([]byte(m)) {
			msgJSON = []byte(m)
		}
	case []byte:
		if json.Valid(m) {
			msgJSON = m
		}
	default:
		var err error
		msgJSON, err = json.Marshal(msg)
		if err != nil {
			log.Ctx(ctx).Err(err).Msg("unable to marshal json response")
			ErrApplicationError().Send(w)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(msgJSON)
}
