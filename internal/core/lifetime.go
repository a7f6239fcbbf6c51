package core

import (
	"context"
	"sync"
)

// Lifetime ties asynchronous page work to the period the page is displayed.
// Work started under one mount generation is canceled on unmount, and its
// results must be dropped if they arrive afterwards.
type Lifetime struct {
	mu         sync.Mutex
	generation uint64
	ctx        context.Context
	cancel     context.CancelFunc
}

type Token struct {
	generation uint64
}

func (l *Lifetime) Mount() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		l.cancel()
	}
	l.generation++
	l.ctx, l.cancel = context.WithCancel(context.Background())
}

func (l *Lifetime) Unmount() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.generation++
	l.ctx = nil
}

// Begin starts an operation in the current generation. The returned context
// is canceled when parent is done or the page is unmounted.
func (l *Lifetime) Begin(parent context.Context) (Token, context.Context, context.CancelFunc) {
	l.mu.Lock()
	tok := Token{generation: l.generation}
	mounted := l.ctx
	l.mu.Unlock()

	ctx, cancel := context.WithCancel(parent)
	if mounted == nil {
		return tok, ctx, cancel
	}

	stop := context.AfterFunc(mounted, cancel)
	return tok, ctx, func() {
		stop()
		cancel()
	}
}

func (l *Lifetime) Current(tok Token) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return tok.generation == l.generation
}
