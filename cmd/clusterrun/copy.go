package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agent462/clusterrun/internal/ssh"
	"github.com/agent462/clusterrun/internal/transfer"
)

func newCopyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "copy <local-file> <remote-path>",
		Short: "Copy a local file to every node over SFTP",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runTransfer(cmd.Context(), func(ctx context.Context, e *transfer.Executor, nodes []string) []*transfer.Result {
				return e.Push(ctx, nodes, args[0], args[1], nil)
			})
		},
	}
}

func newFetchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <remote-file> <local-dir>",
		Short: "Fetch a remote file from every node into <local-dir>/<node>/",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runTransfer(cmd.Context(), func(ctx context.Context, e *transfer.Executor, nodes []string) []*transfer.Result {
				return e.Pull(ctx, nodes, args[0], args[1], nil)
			})
		},
	}
}

type transferFunc func(ctx context.Context, e *transfer.Executor, nodes []string) []*transfer.Result

// runTransfer shares the registry/dial plumbing between copy and fetch and
// prints one line per node in registry order.
func (opts *rootOptions) runTransfer(ctx context.Context, fn transferFunc) error {
	cfg, nodes, err := opts.loadRegistry()
	if err != nil {
		return err
	}

	runner := ssh.NewRunner(opts.baseConf(), nodeConfs(nodes))

	topts := []transfer.Option{
		transfer.WithConcurrency(opts.effectiveConcurrency(cfg)),
	}
	if opts.timeout > 0 {
		topts = append(topts, transfer.WithTimeout(opts.timeout))
	}
	e := transfer.New(runner, topts...)

	results := fn(ctx, e, nodeNames(nodes))

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Printf("==> %s failed: %v\n", r.Node, r.Err)
			continue
		}
		fmt.Printf("==> %s: %d bytes in %s (sha256 %.12s)\n",
			r.Node, r.Bytes, r.Duration.Round(time.Millisecond), r.Checksum)
	}
	fmt.Printf("%d succeeded, %d failed\n", len(results)-failed, failed)

	if failed > 0 {
		exitCode = 1
	}
	return nil
}
