package hooks

import (
	"context"
	"errors"
	"sync"
	"testing"

	"syndrodm/src/odmerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHooksRunInRegistrationOrder(t *testing.T) {
	p := NewPipeline(zap.NewNop().Sugar())
	var calls []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		p.Hook("users", EventSave, func(ctx context.Context, inv *Invocation) error {
			calls = append(calls, name)
			return nil
		})
	}
	p.On("users", EventSave, func(ctx context.Context, inv *Invocation) error {
		calls = append(calls, "listener")
		return nil
	})

	require.NoError(t, p.Fire(context.Background(), "users", EventSave))
	assert.Equal(t, []string{"a", "b", "c", "listener"}, calls)
}

func TestFailingHookAbortsChainAndListeners(t *testing.T) {
	p := NewPipeline(nil)
	boom := errors.New("boom")
	var calls []string
	p.Hook("users", EventCreate, func(ctx context.Context, inv *Invocation) error {
		calls = append(calls, "first")
		return nil
	})
	p.Hook("users", EventCreate, func(ctx context.Context, inv *Invocation) error {
		calls = append(calls, "second")
		return boom
	})
	p.Hook("users", EventCreate, func(ctx context.Context, inv *Invocation) error {
		calls = append(calls, "third")
		return nil
	})
	p.On("users", EventCreate, func(ctx context.Context, inv *Invocation) error {
		calls = append(calls, "listener")
		return nil
	})

	err := p.Fire(context.Background(), "users", EventCreate)
	require.Error(t, err)
	assert.True(t, errors.Is(err, odmerr.ErrHookAborted))
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestHookPanicIsAnAbort(t *testing.T) {
	p := NewPipeline(nil)
	p.Hook("users", EventDelete, func(ctx context.Context, inv *Invocation) error {
		panic("nope")
	})
	err := p.Fire(context.Background(), "users", EventDelete)
	assert.Equal(t, odmerr.KindHookAborted, odmerr.KindOf(err))
}

func TestListenerErrorsDoNotAbort(t *testing.T) {
	p := NewPipeline(nil)
	var calls []string
	p.On("users", EventPostSave, func(ctx context.Context, inv *Invocation) error {
		calls = append(calls, "one")
		return errors.New("ignored")
	})
	p.On("users", EventPostSave, func(ctx context.Context, inv *Invocation) error {
		panic("also ignored")
	})
	p.On("users", EventPostSave, func(ctx context.Context, inv *Invocation) error {
		calls = append(calls, "three")
		return nil
	})

	assert.NoError(t, p.Fire(context.Background(), "users", EventPostSave))
	assert.Equal(t, []string{"one", "three"}, calls)
}

func TestChainsAreScopedPerCollectionAndEvent(t *testing.T) {
	p := NewPipeline(nil)
	called := false
	p.Hook("users", EventSave, func(ctx context.Context, inv *Invocation) error {
		called = true
		return nil
	})

	require.NoError(t, p.Fire(context.Background(), "widgets", EventSave))
	require.NoError(t, p.Fire(context.Background(), "users", EventDelete))
	assert.False(t, called)
	assert.True(t, p.Has("users", EventSave))
	assert.False(t, p.Has("users", EventDelete))
}

func TestInvocationArgs(t *testing.T) {
	p := NewPipeline(nil)
	var got *Invocation
	p.Hook("users", "custom", func(ctx context.Context, inv *Invocation) error {
		got = inv
		return nil
	})
	require.NoError(t, p.Fire(context.Background(), "users", "custom", "x", 2))
	require.NotNil(t, got)
	assert.Equal(t, "users", got.Collection)
	assert.Equal(t, "custom", got.Event)
	assert.Equal(t, "x", got.Arg(0))
	assert.Equal(t, 2, got.Arg(1))
	assert.Nil(t, got.Arg(5))
}

func TestStateTransitions(t *testing.T) {
	var mu sync.Mutex
	var states []string
	observe := func(collection, event, state string) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, state)
	}

	p := NewPipeline(nil, WithObserver(observe))
	p.Hook("users", EventSave, func(ctx context.Context, inv *Invocation) error { return nil })
	p.On("users", EventSave, func(ctx context.Context, inv *Invocation) error { return nil })
	require.NoError(t, p.Fire(context.Background(), "users", EventSave))
	assert.Equal(t, []string{StateRunning, StateHooksDone, StateComplete}, states)

	states = nil
	p.Hook("users", EventDelete, func(ctx context.Context, inv *Invocation) error { return errors.New("no") })
	require.Error(t, p.Fire(context.Background(), "users", EventDelete))
	assert.Equal(t, []string{StateRunning, StateFailed}, states)
}

func TestAsyncListeners(t *testing.T) {
	p := NewPipeline(nil, WithAsyncListeners())
	var mu sync.Mutex
	var calls []int
	for i := 0; i < 3; i++ {
		i := i
		p.On("users", EventPostCreate, func(ctx context.Context, inv *Invocation) error {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, i)
			return nil
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Fire(ctx, "users", EventPostCreate))
	cancel()
	p.Wait()
	assert.Equal(t, []int{0, 1, 2}, calls)
}
