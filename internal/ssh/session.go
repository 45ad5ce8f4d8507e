package ssh

import (
	"context"
	"errors"
	"fmt"

	"github.com/agent462/clusterrun/internal/dispatch"
)

// NodeConfig holds per-node connection overrides resolved by the config
// layer. The map key is the node's registry identifier; Hostname is the
// address actually dialed when it differs (user@host syntax, ssh_config
// Hostname directives).
type NodeConfig struct {
	Hostname     string
	User         string
	Port         int
	IdentityFile string
	ProxyJump    string
}

// Runner implements dispatch.Session over one-shot SSH connections: every
// Execute dials a fresh connection and closes it before returning, whatever
// the outcome. No connection outlives its session.
type Runner struct {
	base      Config
	nodeConfs map[string]NodeConfig
}

// NewRunner creates a Runner with a base config and per-node overrides.
func NewRunner(base Config, nodeConfs map[string]NodeConfig) *Runner {
	return &Runner{
		base:      base,
		nodeConfs: nodeConfs,
	}
}

// Client dials a one-shot connection to the given node, for callers that
// need the raw connection (file transfer). The caller must Close it.
func (r *Runner) Client(ctx context.Context, node string) (*Client, error) {
	conf, dialHost := resolveNodeConf(r.base, r.nodeConfs, node)
	return Dial(ctx, dialHost, conf)
}

// Execute runs a command on a single node and reduces everything that can
// go wrong to a staged outcome: dial failures become connect or
// authenticate failures, a session that cannot start or finish becomes an
// execute failure, and a remote command exiting nonzero is a success
// carrying that exit code.
func (r *Runner) Execute(ctx context.Context, node string, command string) *dispatch.Outcome {
	conf, dialHost := resolveNodeConf(r.base, r.nodeConfs, node)

	client, err := Dial(ctx, dialHost, conf)
	if err != nil {
		de := ClassifyDial(node, err)
		return dispatch.Failure(node, de.Stage, de)
	}
	defer client.Close()

	stdout, stderr, exitCode, err := client.RunCommand(ctx, command)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return dispatch.Failure(node, dispatch.StageExecute, err)
		}
		return dispatch.Failure(node, dispatch.StageExecute, fmt.Errorf("run %q: %w", command, err))
	}
	return dispatch.Success(node, stdout, stderr, exitCode)
}

// resolveNodeConf applies per-node overrides to the base config and returns
// the hostname to dial.
func resolveNodeConf(base Config, nodeConfs map[string]NodeConfig, node string) (Config, string) {
	conf := base
	dialHost := node
	if nc, ok := nodeConfs[node]; ok {
		if nc.Hostname != "" {
			dialHost = nc.Hostname
		}
		if nc.User != "" {
			conf.User = nc.User
		}
		if nc.Port > 0 {
			conf.Port = nc.Port
		}
		if nc.IdentityFile != "" {
			conf.IdentityFiles = []string{nc.IdentityFile}
		}
		if nc.ProxyJump != "" {
			conf.ProxyJump = nc.ProxyJump
		}
	}
	return conf, dialHost
}
