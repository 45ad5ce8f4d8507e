package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrEmptyCommand is returned when Run is called with an empty command.
// An empty command is a configuration error caught before any session starts.
var ErrEmptyCommand = errors.New("empty command")

// Session is the interface the SSH layer implements to run a command on
// a single node. Implementations report every failure as a Failure outcome;
// nothing crosses the call boundary as a panic or process-level fault.
type Session interface {
	Execute(ctx context.Context, node string, command string) *Outcome
}

// Dispatcher fans one command out to every node concurrently and collects
// one terminal Outcome per node, in registry order.
type Dispatcher struct {
	session     Session
	concurrency int
	timeout     time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithConcurrency bounds the number of sessions running in parallel.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithTimeout sets the per-node session timeout.
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// New creates a Dispatcher with the given Session and options.
func New(session Session, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		session:     session,
		concurrency: 20,
		timeout:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes command on every node in parallel, bounded by the concurrency
// limit, and blocks until every node has a terminal outcome. The returned
// slice always has one entry per node, in the same order as the input —
// completion order never leaks into the result. A node's failure has no
// effect on any sibling session.
func (d *Dispatcher) Run(ctx context.Context, nodes []string, command string) ([]*Outcome, error) {
	if command == "" {
		return nil, ErrEmptyCommand
	}

	outcomes := make([]*Outcome, len(nodes))
	if len(nodes) == 0 {
		return outcomes, nil
	}

	sem := make(chan struct{}, d.concurrency)
	var wg sync.WaitGroup

	for i, node := range nodes {
		wg.Add(1)
		go func(idx int, n string) {
			defer wg.Done()

			// Acquire a worker slot, respecting parent context cancellation.
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				outcomes[idx] = Failure(n, StageExecute, ctx.Err())
				return
			}

			nodeCtx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()

			start := time.Now()
			outcome := d.session.Execute(nodeCtx, n, command)
			outcome.Duration = time.Since(start)
			outcome.Node = n

			// A per-node deadline the session didn't surface itself is
			// still an execute-stage failure.
			if nodeCtx.Err() == context.DeadlineExceeded && outcome.Err == nil {
				outcome.Stage = StageExecute
				outcome.Err = context.DeadlineExceeded
			}

			outcomes[idx] = outcome
		}(i, node)
	}

	wg.Wait()
	return outcomes, nil
}
