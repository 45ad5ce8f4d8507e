package transfer

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	csh "github.com/agent462/clusterrun/internal/ssh"
)

// NodeDialer provides one-shot SSH clients. Clients returned are owned by
// the transfer and closed when the node's transfer finishes.
type NodeDialer interface {
	Client(ctx context.Context, node string) (*csh.Client, error)
}

// Result holds the outcome of a file transfer for a single node.
type Result struct {
	Node     string
	Bytes    int64
	Duration time.Duration
	Checksum string
	Err      error
}

// Executor runs file transfers in parallel across the cluster, one result
// per node in registry order. A failed transfer on one node never affects
// the others.
type Executor struct {
	dialer      NodeDialer
	concurrency int
	timeout     time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithConcurrency sets the maximum number of parallel transfers.
func WithConcurrency(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithTimeout sets the per-node transfer timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// New creates a transfer Executor.
func New(dialer NodeDialer, opts ...Option) *Executor {
	e := &Executor{
		dialer:      dialer,
		concurrency: 20,
		timeout:     5 * time.Minute,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Push uploads a local file to all nodes in parallel.
func (e *Executor) Push(ctx context.Context, nodes []string, localPath, remotePath string, progressFn ProgressFunc) []*Result {
	return e.run(ctx, nodes, func(ctx context.Context, client *csh.Client, node string) (string, int64, error) {
		return PushFile(ctx, client.SSHClient(), localPath, remotePath, node, progressFn)
	})
}

// Pull downloads a remote file from all nodes in parallel.
func (e *Executor) Pull(ctx context.Context, nodes []string, remotePath, localDir string, progressFn ProgressFunc) []*Result {
	return e.run(ctx, nodes, func(ctx context.Context, client *csh.Client, node string) (string, int64, error) {
		return PullFile(ctx, client.SSHClient(), remotePath, localDir, node, progressFn)
	})
}

type transferOp func(ctx context.Context, client *csh.Client, node string) (checksum string, bytes int64, err error)

// run fans op out across the nodes with bounded parallelism. Per-node
// errors land in that node's Result, so the group itself never fails and
// every node reaches a terminal result.
func (e *Executor) run(ctx context.Context, nodes []string, op transferOp) []*Result {
	results := make([]*Result, len(nodes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, node := range nodes {
		i, node := i, node
		g.Go(func() error {
			nodeCtx, cancel := context.WithTimeout(gctx, e.timeout)
			defer cancel()

			start := time.Now()
			result := &Result{Node: node}
			defer func() {
				result.Duration = time.Since(start)
				results[i] = result
			}()

			client, err := e.dialer.Client(nodeCtx, node)
			if err != nil {
				result.Err = err
				return nil
			}
			defer client.Close()

			result.Checksum, result.Bytes, result.Err = op(nodeCtx, client, node)
			return nil
		})
	}

	g.Wait()
	return results
}
