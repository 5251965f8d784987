package session

import (
	"context"

	"github.com/google/uuid"
)

// Unit is one concurrently running test. Sessions are bound to units, never
// to goroutines.
type Unit struct {
	ID   string
	Name string
	// Ordinal is the worker slot the unit runs in. Concurrent units never
	// share one, so it stays below the parallelism.
	Ordinal int
}

func NewUnit(name string, ordinal int) Unit {
	return Unit{ID: uuid.NewString(), Name: name, Ordinal: ordinal}
}

type unitKey struct{}

// WithUnit returns a context carrying unit.
func WithUnit(ctx context.Context, unit Unit) context.Context {
	return context.WithValue(ctx, unitKey{}, unit)
}

// UnitFrom returns the unit carried by ctx.
func UnitFrom(ctx context.Context) (Unit, bool) {
	u, ok := ctx.Value(unitKey{}).(Unit)
	return u, ok
}
