package service

import (
	"context"
	"time"
)

type IdempotencyState string

const (
	IdempotencyStateNew        IdempotencyState = "new"
	IdempotencyStateReplay     IdempotencyState = "replay"
	IdempotencyStateConflict   IdempotencyState = "conflict"
	IdempotencyStateInProgress IdempotencyState = "in_progress"
)

const idempotencyStatusCompleted = "completed"

// CachedHTTPResponse is the response replayed for a repeated key.
type CachedHTTPResponse struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

type IdempotencyBeginResult struct {
	State  IdempotencyState
	Cached *CachedHTTPResponse
}

// IdempotencyStore tracks requests by (scope, key). Begin claims a key or
// reports how an earlier claim ended; Complete stores the response for
// replay until ttl elapses. Release drops a pending claim so the key can be
// retried; completed records are never released.
type IdempotencyStore interface {
	Begin(ctx context.Context, scope, key, fingerprint string, ttl time.Duration) (IdempotencyBeginResult, error)
	Complete(ctx context.Context, scope, key, fingerprint string, response CachedHTTPResponse, ttl time.Duration) error
	Release(ctx context.Context, scope, key, fingerprint string) error
}
