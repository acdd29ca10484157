// ABOUTME: Idempotency-Key support for write endpoints
// ABOUTME: A key is reserved before the write and completed with the response to replay

package idempotency

import (
	"context"
	"errors"
)

// ErrInFlight is returned by Begin when the key is reserved by a request that
// has not completed yet
var ErrInFlight = errors.New("request with this idempotency key is in progress")

// Response is the recorded outcome replayed for a repeated key
type Response struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

// Store records idempotency keys.
//
// Begin reserves key and returns (nil, nil) when the caller should perform the
// request. If the key already completed it returns the recorded Response. If
// another request holds the reservation it returns ErrInFlight.
//
// After Begin succeeds the caller must call Complete with the response to
// replay, or Release to drop the reservation so the client may retry.
type Store interface {
	Begin(ctx context.Context, key string) (*Response, error)
	Complete(ctx context.Context, key string, resp Response) error
	Release(ctx context.Context, key string) error
	Close() error
}

// Key scopes a client-supplied key to a uid and route so keys from different
// users or endpoints never collide
func Key(uid, route, clientKey string) string {
	return uid + "\x00" + route + "\x00" + clientKey
}
