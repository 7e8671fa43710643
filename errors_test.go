package veloql_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/veloql"
)

func TestNotFoundError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		err := veloql.NewNotFoundError("Car")
		assert.Equal(t, "veloql: Car not found", err.Error())

		err = veloql.NewNotFoundErrorWithID("Car", "c1")
		assert.Equal(t, "veloql: Car not found (id=c1)", err.Error())
		assert.Equal(t, "c1", err.ID())
		assert.Equal(t, "Car", err.Label())
	})

	t.Run("IsNotFound", func(t *testing.T) {
		err := veloql.NewNotFoundError("Driver")
		assert.True(t, errors.Is(err, veloql.ErrNotFound))
		assert.True(t, veloql.IsNotFound(fmt.Errorf("wrapper: %w", err)))
		assert.True(t, veloql.IsNotFound(veloql.ErrNotFound))
		assert.False(t, veloql.IsNotFound(errors.New("other error")))
		assert.False(t, veloql.IsNotFound(nil))
	})
}

func TestAccessDeniedError(t *testing.T) {
	decision := errors.New("viewer required")
	err := veloql.NewAccessDeniedError("Car", veloql.OpDelete, decision)
	assert.Equal(t, "veloql: access denied for OpDelete on Car: viewer required", err.Error())
	assert.True(t, errors.Is(err, veloql.ErrAccessDenied))
	assert.True(t, errors.Is(err, decision))
	assert.True(t, veloql.IsAccessDenied(fmt.Errorf("resolve: %w", err)))
	assert.False(t, veloql.IsAccessDenied(nil))
}

func TestInputError(t *testing.T) {
	err := veloql.NewInputError("Car", "brand", "got both %s and inline object", "brandId")
	assert.Equal(t, "veloql: invalid input for Car.brand: got both brandId and inline object", err.Error())
	assert.True(t, errors.Is(err, veloql.ErrInvalidInput))
}

func TestViolationsError(t *testing.T) {
	err := &veloql.ViolationsError{Entity: "Car", Violations: []veloql.Violation{
		{Attribute: "licence", Message: "is required"},
		{Message: "car must have a brand"},
	}}
	assert.Equal(t, "veloql: Car is invalid: licence: is required; car must have a brand", err.Error())
	assert.True(t, veloql.IsViolations(fmt.Errorf("nested: %w", err)))
}

func TestAggregateError(t *testing.T) {
	assert.NoError(t, veloql.NewAggregateError(nil, nil))

	single := errors.New("one")
	assert.Equal(t, single, veloql.NewAggregateError(nil, single))

	err := veloql.NewAggregateError(errors.New("a"), errors.New("b"))
	require.Error(t, err)
	assert.Equal(t, "veloql: multiple errors:\n  [1] a\n  [2] b", err.Error())
}

func TestWrappedErrors(t *testing.T) {
	cause := errors.New("disk full")

	qerr := veloql.NewQueryError("Car", "findByFilter", cause)
	assert.Equal(t, "veloql: querying Car (findByFilter): disk full", qerr.Error())
	assert.ErrorIs(t, qerr, cause)

	merr := veloql.NewMutationError("Car", "create", cause)
	assert.Equal(t, "veloql: create Car: disk full", merr.Error())
	assert.True(t, veloql.IsMutationError(merr))
	assert.ErrorIs(t, merr, cause)
}
