package workerrunner

import (
	"context"
	"errors"
	"time"

	"github.com/Molefas/trikhub/internal/common/jsonrpc"
	"github.com/Molefas/trikhub/internal/gateway/storage"
)

// storageOpTimeout bounds one proxied storage operation.
const storageOpTimeout = 10 * time.Second

// Wire shapes of the storage proxy methods. Result shapes mirror the worker
// SDKs: get → {value}, set/setMany → {success}, delete → {deleted},
// list → {keys}, getMany → {values}.
type storageKeyParams struct {
	Key string `json:"key"`
}

type storageSetParams struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
	TTL   int64  `json:"ttl,omitempty"`
}

type storageListParams struct {
	Prefix string `json:"prefix,omitempty"`
}

type storageGetManyParams struct {
	Keys []string `json:"keys"`
}

type storageSetManyParams struct {
	Entries map[string]any `json:"entries"`
}

// handleStorageRequest services one storage.* call from the worker, proxying
// it to the storage handle of the outstanding invocation. Runs on the read
// loop: operations are handled synchronously between outbound messages.
func (w *Worker) handleStorageRequest(req *jsonrpc.Request) {
	w.storageMu.RLock()
	handle := w.storage
	w.storageMu.RUnlock()

	if handle == nil {
		w.respondStorageError(req.ID, "storage not available for this invocation")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storageOpTimeout)
	defer cancel()

	var result any
	var err error

	switch req.Method {
	case jsonrpc.MethodStorageGet:
		var params storageKeyParams
		if err = req.Params.GetAs(&params); err == nil {
			var value any
			var found bool
			value, found, err = handle.Get(ctx, params.Key)
			if !found {
				value = nil
			}
			result = map[string]any{"value": value}
		}

	case jsonrpc.MethodStorageSet:
		var params storageSetParams
		if err = req.Params.GetAs(&params); err == nil {
			err = handle.Set(ctx, params.Key, params.Value, params.TTL)
			result = map[string]any{"success": err == nil}
		}

	case jsonrpc.MethodStorageDelete:
		var params storageKeyParams
		if err = req.Params.GetAs(&params); err == nil {
			var deleted bool
			deleted, err = handle.Delete(ctx, params.Key)
			result = map[string]any{"deleted": deleted}
		}

	case jsonrpc.MethodStorageList:
		var params storageListParams
		if err = req.Params.GetAs(&params); err == nil {
			var keys []string
			keys, err = handle.List(ctx, params.Prefix)
			if keys == nil {
				keys = []string{}
			}
			result = map[string]any{"keys": keys}
		}

	case jsonrpc.MethodStorageGetMany:
		var params storageGetManyParams
		if err = req.Params.GetAs(&params); err == nil {
			var values map[string]any
			values, err = handle.GetMany(ctx, params.Keys)
			result = map[string]any{"values": values}
		}

	case jsonrpc.MethodStorageSetMany:
		var params storageSetManyParams
		if err = req.Params.GetAs(&params); err == nil {
			err = handle.SetMany(ctx, params.Entries)
			result = map[string]any{"success": err == nil}
		}

	default:
		w.respondStorageError(req.ID, "unknown storage method: "+string(req.Method))
		return
	}

	if err != nil {
		w.respondStorageErrorFrom(req.ID, err)
		return
	}

	line, cerr := jsonrpc.ConstructSuccessResponse(req.ID, result)
	if cerr != nil {
		w.respondStorageError(req.ID, "cannot encode storage result: "+cerr.Error())
		return
	}
	w.writeLine(line)
}

func (w *Worker) respondStorageError(id, message string) {
	line, err := jsonrpc.ConstructErrorResponse(id, jsonrpc.ErrCodeStorageError, message, nil)
	if err != nil {
		w.logger.Error().Err(err).Msg("cannot encode storage error response")
		return
	}
	w.writeLine(line)
}

// respondStorageErrorFrom carries a quota failure distinctly in the error
// data so worker SDKs can surface it to skill code.
func (w *Worker) respondStorageErrorFrom(id string, err error) {
	var data any
	if errors.Is(err, storage.ErrQuotaExceeded) {
		data = map[string]any{"reason": "quota_exceeded"}
	}
	line, cerr := jsonrpc.ConstructErrorResponse(id, jsonrpc.ErrCodeStorageError, err.Error(), data)
	if cerr != nil {
		w.logger.Error().Err(cerr).Msg("cannot encode storage error response")
		return
	}
	w.writeLine(line)
}
