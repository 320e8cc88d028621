// Package envelope implements the uniform {code,msg,data} response shape
// every HTTP handler returns, and the translation from core outcomes/errors
// to wire codes. Adapted from the teacher's pkg/errors.DomainError pairing
// of Code and Message, generalized to also carry a typed Data payload.
package envelope

import (
	"encoding/json"

	coreerrors "github.com/InterStella0/gfl-ze-watcher-sub000/internal/errors"
	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/workercore"
)

const (
	CodeOK             = 0
	CodeCalculating    = 202
	CodeBadRequest     = 400
	CodeForbidden      = 403
	CodeNotFound       = 404
	CodeConflict       = 409
	CodeRetryLater     = 429
	CodeInternal       = 500
	CodeNotImplemented = 501
)

// Envelope is the uniform wire response. HTTP status is always 200 except
// for framework-level failures (routing, panics); the real status lives
// in Code.
type Envelope[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data *T     `json:"data,omitempty"`
}

// OK wraps a successful payload.
func OK[T any](data T) Envelope[T] {
	return Envelope[T]{Code: CodeOK, Msg: "ok", Data: &data}
}

// Calculating reports that the result is not ready yet.
func Calculating[T any]() Envelope[T] {
	return Envelope[T]{Code: CodeCalculating, Msg: "calculating"}
}

// Error builds an envelope from an explicit code/message, no payload.
func Error[T any](code int, msg string) Envelope[T] {
	return Envelope[T]{Code: code, Msg: msg}
}

// FromOutcome translates a workercore.WorkOutcome into the wire envelope
// taxonomy of the external interface. Internal-only error kinds
// (LockUnavailable, CacheMiss, SerializationFailure, KVStoreUnavailable)
// never reach here directly — callers degrade those before they become an
// outcome; if one slips through it maps to CodeInternal as a safety net.
func FromOutcome(o workercore.WorkOutcome) Envelope[json.RawMessage] {
	switch o.Kind {
	case workercore.OutcomeFresh, workercore.OutcomeStale:
		raw := json.RawMessage(o.Payload)
		return Envelope[json.RawMessage]{Code: CodeOK, Msg: "ok", Data: &raw}
	case workercore.OutcomeCalculating:
		return Envelope[json.RawMessage]{Code: CodeCalculating, Msg: "calculating"}
	case workercore.OutcomeNotFound:
		return Envelope[json.RawMessage]{Code: CodeNotFound, Msg: "not found"}
	case workercore.OutcomeDataError:
		return Envelope[json.RawMessage]{Code: CodeInternal, Msg: errMessage(o.Err)}
	default:
		return Envelope[json.RawMessage]{Code: CodeInternal, Msg: "unknown outcome"}
	}
}

func errMessage(err error) string {
	if err == nil {
		return "compute failed"
	}
	if ce, ok := err.(*coreerrors.CoreError); ok {
		return ce.Message
	}
	return err.Error()
}
