package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/agent462/clusterrun/internal/config"
	"github.com/agent462/clusterrun/internal/dispatch"
	"github.com/agent462/clusterrun/internal/report"
	"github.com/agent462/clusterrun/internal/ssh"
)

// rootOptions holds flag values shared by the run, copy, and fetch commands.
type rootOptions struct {
	configPath  string
	group       string
	nodes       []string
	user        string
	port        int
	identity    string
	proxyJump   string
	concurrency int
	timeout     time.Duration
	insecure    bool
	jsonOut     bool
	noColor     bool
	errorsOnly  bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "clusterrun [flags] -- <command> [args...]",
		Short: "Run a command on every node in the cluster",
		Long: `clusterrun fans a single shell command out to every node in the
configured cluster, runs it concurrently over SSH, and prints each
node's output and exit status in registry order.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runCommand(cmd.Context(), args)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "path to the cluster config file")
	pf.StringVarP(&opts.group, "group", "g", "", "run against a named group instead of cluster.nodes")
	pf.StringSliceVarP(&opts.nodes, "node", "n", nil, "target node (repeatable; replaces the configured registry)")
	pf.StringVarP(&opts.user, "user", "u", "", "SSH username override for all nodes")
	pf.IntVarP(&opts.port, "port", "p", 0, "SSH port override for all nodes")
	pf.StringVarP(&opts.identity, "identity", "i", "", "private key file override for all nodes")
	pf.StringVarP(&opts.proxyJump, "jump", "J", "", "proxy jump host(s), comma-separated")
	pf.IntVar(&opts.concurrency, "concurrency", 0, "maximum parallel sessions (default from config)")
	pf.DurationVarP(&opts.timeout, "timeout", "t", 0, "per-node timeout (default from config)")
	pf.BoolVar(&opts.insecure, "insecure", false, "skip host key verification")

	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "emit results as JSON")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "disable ANSI colors")
	cmd.Flags().BoolVar(&opts.errorsOnly, "errors-only", false, "only show nodes that failed or exited nonzero")

	cmd.AddCommand(newCopyCmd(opts))
	cmd.AddCommand(newFetchCmd(opts))
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// runCommand is the root command body: load the registry, fan the command
// out, render, and turn the aggregate status into the process exit code.
func (opts *rootOptions) runCommand(ctx context.Context, args []string) error {
	command := strings.TrimSpace(strings.Join(args, " "))
	if command == "" {
		return dispatch.ErrEmptyCommand
	}

	cfg, nodes, err := opts.loadRegistry()
	if err != nil {
		return err
	}

	runner := ssh.NewRunner(opts.baseConf(), nodeConfs(nodes))
	d := dispatch.New(runner,
		dispatch.WithConcurrency(opts.effectiveConcurrency(cfg)),
		dispatch.WithTimeout(opts.effectiveTimeout(cfg, nodes)),
	)

	outcomes, err := d.Run(ctx, nodeNames(nodes), command)
	if err != nil {
		return err
	}

	useJSON := opts.jsonOut || cfg.Defaults.Output == "json"
	reporter := report.NewReporter(useJSON, opts.errorsOnly, opts.useColor())
	if useJSON {
		data, err := reporter.RenderJSON(outcomes)
		if err != nil {
			return fmt.Errorf("encode results: %w", err)
		}
		fmt.Println(string(data))
	} else {
		fmt.Print(reporter.Render(outcomes))
	}

	exitCode = report.ExitStatus(outcomes)
	return nil
}

// loadRegistry loads the config file and resolves the ordered node registry.
// Any failure here is fatal: with no registry there is nothing to dispatch to.
func (opts *rootOptions) loadRegistry() (*config.Config, []config.Node, error) {
	var cfg *config.Config
	var err error
	if opts.configPath != "" {
		cfg, err = config.Load(opts.configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, nil, err
	}

	nodes, err := config.ResolveNodes(cfg, opts.group, opts.nodes)
	if err != nil {
		return nil, nil, err
	}

	// CLI overrides beat config and ssh_config resolution.
	for i := range nodes {
		if opts.user != "" {
			nodes[i].User = opts.user
		}
		if opts.port > 0 {
			nodes[i].Port = opts.port
		}
		if opts.identity != "" {
			nodes[i].IdentityFile = opts.identity
		}
		if opts.proxyJump != "" {
			nodes[i].ProxyJump = opts.proxyJump
		}
	}

	return cfg, nodes, nil
}

func (opts *rootOptions) baseConf() ssh.Config {
	return ssh.Config{
		AcceptUnknownHosts: opts.insecure,
	}
}

func (opts *rootOptions) effectiveConcurrency(cfg *config.Config) int {
	if opts.concurrency > 0 {
		return opts.concurrency
	}
	return cfg.Defaults.Concurrency
}

// effectiveTimeout picks the per-node timeout: explicit flag, then the
// largest node-level timeout (group overrides), then the config default.
func (opts *rootOptions) effectiveTimeout(cfg *config.Config, nodes []config.Node) time.Duration {
	if opts.timeout > 0 {
		return opts.timeout
	}
	timeout := cfg.Defaults.Timeout.Duration
	for _, n := range nodes {
		if n.Timeout > timeout {
			timeout = n.Timeout
		}
	}
	return timeout
}

func (opts *rootOptions) useColor() bool {
	if opts.noColor {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// nodeNames extracts the ordered registry identifiers.
func nodeNames(nodes []config.Node) []string {
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.Name
	}
	return names
}

// nodeConfs builds the per-node SSH override map keyed by registry name.
func nodeConfs(nodes []config.Node) map[string]ssh.NodeConfig {
	confs := make(map[string]ssh.NodeConfig, len(nodes))
	for _, n := range nodes {
		confs[n.Name] = ssh.NodeConfig{
			Hostname:     n.Hostname,
			User:         n.User,
			Port:         n.Port,
			IdentityFile: n.IdentityFile,
			ProxyJump:    n.ProxyJump,
		}
	}
	return confs
}
