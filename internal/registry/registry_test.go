package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/token-optimizer/internal/admission"
	"github.com/compresr/token-optimizer/internal/cache"
	"github.com/compresr/token-optimizer/internal/compression"
	"github.com/compresr/token-optimizer/internal/tokencounter"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := cache.Open(t.TempDir(), 1<<20, 1<<20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tokens := tokencounter.New("cl100k_base", 100, time.Minute)
	codec := compression.New(11)
	adm := admission.New(tokens, codec, store, 500)
	return New(adm, 5*time.Minute)
}

func echoHandler() (HandlerFunc, error) {
	return func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"echo": args["text"]}, nil
	}, nil
}

func TestInvoke_ValidatesRequiredField(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(Definition{
		Name:   "echo",
		Schema: Schema{Type: "object", Required: []string{"text"}, Properties: map[string]Property{"text": {Type: "string"}}},
		Load:   echoHandler,
	})

	_, err := r.Invoke(context.Background(), "echo", map[string]any{}, nil)
	require.Error(t, err)
}

func TestInvoke_UnknownHandlerIsNotFound(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Invoke(context.Background(), "missing", nil, nil)
	require.Error(t, err)
}

func TestInvoke_RunsHandlerWhenValid(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(Definition{
		Name:   "echo",
		Schema: Schema{Type: "object", Required: []string{"text"}, Properties: map[string]Property{"text": {Type: "string"}}},
		Load:   echoHandler,
	})

	result, err := r.Invoke(context.Background(), "echo", map[string]any{"text": "hi"}, nil)
	require.NoError(t, err)
	assert.False(t, result.CacheHit)
	m := result.Value.(map[string]any)
	assert.Equal(t, "hi", m["echo"])
}

func TestInvoke_LoadFailureIsUnavailable(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(Definition{
		Name:   "broken",
		Schema: Schema{Type: "object"},
		Load:   func() (HandlerFunc, error) { return nil, assertError{} },
	})

	_, err := r.Invoke(context.Background(), "broken", map[string]any{}, nil)
	require.Error(t, err)
}

type assertError struct{}

func (assertError) Error() string { return "load failed" }

func TestInvoke_CacheableHandlerServesSecondCallFromCache(t *testing.T) {
	r := newTestRegistry(t)
	calls := 0
	r.Register(Definition{
		Name:      "counted",
		Schema:    Schema{Type: "object"},
		Cacheable: true,
		Load: func() (HandlerFunc, error) {
			return func(ctx context.Context, args map[string]any) (any, error) {
				calls++
				return map[string]any{"calls": calls}, nil
			}, nil
		},
	})

	r1, err := r.Invoke(context.Background(), "counted", map[string]any{"x": 1.0}, nil)
	require.NoError(t, err)
	assert.False(t, r1.CacheHit)

	r2, err := r.Invoke(context.Background(), "counted", map[string]any{"x": 1.0}, nil)
	require.NoError(t, err)
	assert.True(t, r2.CacheHit)
	assert.Equal(t, 1, calls)
}

func TestInvoke_DifferentArgsAreDifferentCacheKeys(t *testing.T) {
	r := newTestRegistry(t)
	calls := 0
	r.Register(Definition{
		Name:      "counted",
		Schema:    Schema{Type: "object"},
		Cacheable: true,
		Load: func() (HandlerFunc, error) {
			return func(ctx context.Context, args map[string]any) (any, error) {
				calls++
				return map[string]any{"calls": calls}, nil
			}, nil
		},
	})

	_, err := r.Invoke(context.Background(), "counted", map[string]any{"x": 1.0}, nil)
	require.NoError(t, err)
	_, err = r.Invoke(context.Background(), "counted", map[string]any{"x": 2.0}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestInvoke_EnumAndPatternValidation(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(Definition{
		Name: "picky",
		Schema: Schema{
			Type: "object",
			Properties: map[string]Property{
				"mode": {Type: "string", Enum: []string{"a", "b"}},
				"id":   {Type: "string", Pattern: `^[a-z]+$`},
			},
		},
		Load: func() (HandlerFunc, error) {
			return func(ctx context.Context, args map[string]any) (any, error) { return "ok", nil }, nil
		},
	})

	_, err := r.Invoke(context.Background(), "picky", map[string]any{"mode": "c"}, nil)
	require.Error(t, err)

	_, err = r.Invoke(context.Background(), "picky", map[string]any{"mode": "a", "id": "ABC"}, nil)
	require.Error(t, err)

	_, err = r.Invoke(context.Background(), "picky", map[string]any{"mode": "a", "id": "abc"}, nil)
	require.NoError(t, err)
}

func TestList_ReturnsSortedDescriptions(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(Definition{Name: "zzz", Schema: Schema{Type: "object"}, Load: echoHandler})
	r.Register(Definition{Name: "aaa", Schema: Schema{Type: "object"}, Load: echoHandler})

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "aaa", list[0].Name)
	assert.Equal(t, "zzz", list[1].Name)
}

func TestCanonicalKey_StableAcrossMapOrdering(t *testing.T) {
	a := map[string]any{"b": 1.0, "a": 2.0}
	b := map[string]any{"a": 2.0, "b": 1.0}
	assert.Equal(t, CanonicalKey(a), CanonicalKey(b))
}
