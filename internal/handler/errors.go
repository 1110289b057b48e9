package handler

import "errors"

var (
	ErrNoHealthyBackend   = errors.New("no healthy backend available")
	ErrUpstreamTimeout    = errors.New("upstream timed out")
	ErrUpstreamConnection = errors.New("upstream connection failed")
	ErrUpstreamStatus     = errors.New("upstream returned server error")
	ErrConcurrencyLimit   = errors.New("concurrency limit reached")
	ErrBodyTooLarge       = errors.New("request body too large")
)
