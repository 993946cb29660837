package model

import (
	"context"

	"github.com/clinic-agent/server/internal/session"
)

// Caller identifies who a turn is executed for. Tools read it from the context.
type Caller struct {
	UserID      string
	Phone       string
	DisplayName string
	ThreadID    string
	Kind        session.Kind
	DoctorID    *uint
	PatientID   *uint
}

type callerKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}
