// Package program provides graceful startup/shutdown plumbing for the
// mirrorkv command line tools, in the same spirit as bb-storage's
// program package: a signal-aware root context plus a group of
// goroutines that must all observe cancellation before the process
// exits.
package program

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Routine is a long-running unit of work launched as part of a
// program: a gRPC/HTTP diagnostics server, the mirroring table's
// close-on-shutdown hook, or a client loop.
type Routine func(ctx context.Context) error

// Group launches Routines that share a single cancellation domain: the
// first Routine to return a non-nil error, or an OS termination
// signal, cancels the context passed to all of them.
type Group struct {
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	errOnce    sync.Once
	firstError error
}

// NewGroup creates a Group derived from parent, additionally canceled
// on SIGINT/SIGTERM.
func NewGroup(parent context.Context) *Group {
	ctx, cancel := context.WithCancel(parent)
	g := &Group{ctx: ctx, cancel: cancel}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-signalChan:
			log.Printf("received %v signal, shutting down", sig)
			g.fail(nil)
		case <-ctx.Done():
		}
		signal.Stop(signalChan)
	}()

	return g
}

// Go launches routine as a member of the group.
func (g *Group) Go(routine Routine) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := routine(g.ctx); err != nil {
			g.fail(err)
		}
	}()
}

func (g *Group) fail(err error) {
	g.errOnce.Do(func() {
		g.firstError = err
		g.cancel()
	})
}

// Wait blocks until every Routine launched via Go has returned, then
// returns the first non-nil error reported by any of them (nil if
// termination was due to a signal or all routines exited cleanly).
func (g *Group) Wait() error {
	g.wg.Wait()
	return g.firstError
}
