package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStart_RunsComponentsInOrder(t *testing.T) {
	m := New(time.Second)
	var order []string

	m.Register(NewComponent("a", func(ctx context.Context) error { order = append(order, "a"); return nil }, nil))
	m.Register(NewComponent("b", func(ctx context.Context) error { order = append(order, "b"); return nil }, nil))

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestStart_StopsAtFirstError(t *testing.T) {
	m := New(time.Second)
	var ran []string

	m.Register(NewComponent("a", func(ctx context.Context) error { ran = append(ran, "a"); return nil }, nil))
	m.Register(NewComponent("b", func(ctx context.Context) error { return errors.New("boom") }, nil))
	m.Register(NewComponent("c", func(ctx context.Context) error { ran = append(ran, "c"); return nil }, nil))

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"a"}, ran)
}

func TestShutdown_StopsInReverseOrder(t *testing.T) {
	m := New(time.Second)
	var order []string

	m.Register(NewComponent("a", nil, func(ctx context.Context) error { order = append(order, "a"); return nil }))
	m.Register(NewComponent("b", nil, func(ctx context.Context) error { order = append(order, "b"); return nil }))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, []string{"b", "a"}, order)
}

func TestShutdown_IsIdempotent(t *testing.T) {
	m := New(time.Second)
	calls := 0
	m.Register(NewComponent("a", nil, func(ctx context.Context) error { calls++; return nil }))

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestShutdown_AbandonsStuckComponentAfterGrace(t *testing.T) {
	m := New(30 * time.Millisecond)
	unblocked := make(chan struct{})
	defer close(unblocked)

	m.Register(NewComponent("stuck", nil, func(ctx context.Context) error {
		<-unblocked
		return nil
	}))

	start := time.Now()
	err := m.Shutdown(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestShutdown_ContinuesPastLoggedComponentError(t *testing.T) {
	m := New(time.Second)
	secondRan := false

	// Stops run in reverse registration order, so "first" fails before
	// "second" is stopped.
	m.Register(NewComponent("second", nil, func(ctx context.Context) error { secondRan = true; return nil }))
	m.Register(NewComponent("first", nil, func(ctx context.Context) error { return errors.New("fail") }))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.True(t, secondRan)
}
