// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package session

import (
	"context"
	"errors"
)

// OpRecorder receives one observation per registry operation.
type OpRecorder interface {
	RecordSessionOp(op, result string)
}

// Operation results reported to an OpRecorder.
const (
	ResultOK       = "ok"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

// InstrumentedRegistry reports every operation of the wrapped Registry.
type InstrumentedRegistry struct {
	next     Registry
	recorder OpRecorder
}

// NewInstrumentedRegistry wraps next. A nil recorder returns next unchanged.
func NewInstrumentedRegistry(next Registry, recorder OpRecorder) Registry {
	if recorder == nil {
		return next
	}
	return &InstrumentedRegistry{next: next, recorder: recorder}
}

// Create forwards to the wrapped registry.
func (r *InstrumentedRegistry) Create(ctx context.Context, userID string) (string, error) {
	token, err := r.next.Create(ctx, userID)
	r.recorder.RecordSessionOp("create", resultOf(err))
	return token, err
}

// Resolve forwards to the wrapped registry.
func (r *InstrumentedRegistry) Resolve(ctx context.Context, token string) (string, error) {
	userID, err := r.next.Resolve(ctx, token)
	r.recorder.RecordSessionOp("resolve", resultOf(err))
	return userID, err
}

// Destroy forwards to the wrapped registry.
func (r *InstrumentedRegistry) Destroy(ctx context.Context, token string) (bool, error) {
	ok, err := r.next.Destroy(ctx, token)
	switch {
	case err != nil:
		r.recorder.RecordSessionOp("destroy", ResultError)
	case !ok:
		r.recorder.RecordSessionOp("destroy", ResultNotFound)
	default:
		r.recorder.RecordSessionOp("destroy", ResultOK)
	}
	return ok, err
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, ErrNotFound):
		return ResultNotFound
	default:
		return ResultError
	}
}
