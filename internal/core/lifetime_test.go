package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLifetime(t *testing.T) {
	var l Lifetime
	l.Mount()

	tok, ctx, cancel := l.Begin(context.Background())
	defer cancel()
	assert.True(t, l.Current(tok))
	assert.NoError(t, ctx.Err())

	l.Unmount()
	assert.False(t, l.Current(tok))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	l.Mount()
	assert.False(t, l.Current(tok))

	next, ctx, cancel := l.Begin(context.Background())
	defer cancel()
	assert.True(t, l.Current(next))
	assert.NoError(t, ctx.Err())
}

func TestLifetimeUnmounted(t *testing.T) {
	var l Lifetime
	tok, ctx, cancel := l.Begin(context.Background())
	assert.True(t, l.Current(tok))
	cancel()
	assert.Error(t, ctx.Err())
}

func TestUserMessage(t *testing.T) {
	msgs := errorMessages{transport: "transport", application: "application", parse: "parse"}

	assert.Equal(t, "transport", userMessage(assert.AnError, msgs))
}
