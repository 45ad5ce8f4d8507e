package ssh

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	sshconfig "github.com/kevinburke/ssh_config"
)

// Config holds options for connecting to a node. Authentication is public
// key only (agent, then identity files) — there is no password path and
// nothing ever prompts.
type Config struct {
	// User overrides the SSH username. If empty, resolved from
	// ~/.ssh/config or the current OS user.
	User string

	// Port overrides the SSH port. If zero, resolved from
	// ~/.ssh/config or defaults to 22.
	Port int

	// IdentityFiles lists explicit private key paths to try.
	// If empty, resolved from ~/.ssh/config and default key locations.
	IdentityFiles []string

	// AcceptUnknownHosts controls whether to accept hosts not in known_hosts.
	AcceptUnknownHosts bool

	// HostKeyCallback overrides the default host key verification.
	// If nil, knownhosts is used (with AcceptUnknownHosts controlling unknowns).
	HostKeyCallback ssh.HostKeyCallback

	// ProxyJump specifies one or more comma-separated SSH jump hosts
	// (e.g. "bastion" or "user@jump1:2222,user@jump2").
	// "none" disables proxy jumping (SSH convention).
	ProxyJump string
}

// Client wraps one SSH connection to one node. Each Client is owned by a
// single session and closed when that session ends.
type Client struct {
	node      string
	sshClient *ssh.Client
	conf      Config
	hops      []*Client // intermediate jump-host clients, for cleanup
}

// Dial connects to the given node using the configured auth chain.
// If conf.ProxyJump is set (and not "none"), the connection is tunneled
// through one or more jump hosts.
func Dial(ctx context.Context, node string, conf Config) (*Client, error) {
	if conf.ProxyJump != "" && conf.ProxyJump != "none" {
		return dialViaProxy(ctx, node, conf)
	}
	return dialDirect(ctx, node, conf)
}

// dialDirect establishes a direct SSH connection (no proxy).
func dialDirect(ctx context.Context, node string, conf Config) (*Client, error) {
	addr, user, authMethods := resolveConnection(node, conf)

	hostKeyCallback, err := resolveHostKeyCallback(conf)
	if err != nil {
		return nil, fmt.Errorf("host key callback: %w", err)
	}

	sshConf := &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
	}

	conn, err := dialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := newClientConn(ctx, conn, addr, sshConf)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	return &Client{
		node:      node,
		sshClient: ssh.NewClient(sshConn, chans, reqs),
		conf:      conf,
	}, nil
}

// dialViaProxy chains through one or more comma-separated jump hosts, then
// dials the final target through the last hop.
func dialViaProxy(ctx context.Context, node string, conf Config) (*Client, error) {
	specs := strings.Split(conf.ProxyJump, ",")
	var hops []*Client

	closeHops := func() {
		for i := len(hops) - 1; i >= 0; i-- {
			hops[i].Close()
		}
	}

	// Jump hosts inherit auth settings from the target config, with
	// user/port overrides taken from the jump spec itself.
	buildHopConf := func(spec string) (Config, string) {
		hopUser, hopHost, hopPort := parseJumpHost(spec)
		hc := Config{
			Port:               hopPort,
			IdentityFiles:      conf.IdentityFiles,
			AcceptUnknownHosts: conf.AcceptUnknownHosts,
			HostKeyCallback:    conf.HostKeyCallback,
		}
		if hopUser != "" {
			hc.User = hopUser
		}
		return hc, hopHost
	}

	hopConf, hopHost := buildHopConf(specs[0])
	prev, err := dialDirect(ctx, hopHost, hopConf)
	if err != nil {
		return nil, fmt.Errorf("dial jump host %q: %w", specs[0], err)
	}
	hops = append(hops, prev)

	for _, spec := range specs[1:] {
		hopConf, hopHost = buildHopConf(spec)
		next, err := dialThrough(ctx, prev, hopHost, hopConf)
		if err != nil {
			closeHops()
			return nil, fmt.Errorf("dial jump host %q: %w", spec, err)
		}
		hops = append(hops, next)
		prev = next
	}

	finalConf := conf
	finalConf.ProxyJump = "" // prevent infinite recursion
	target, err := dialThrough(ctx, prev, node, finalConf)
	if err != nil {
		closeHops()
		return nil, fmt.Errorf("dial target %s via proxy: %w", node, err)
	}
	target.hops = hops
	return target, nil
}

// dialThrough tunnels an SSH connection through an existing client.
func dialThrough(ctx context.Context, proxy *Client, node string, conf Config) (*Client, error) {
	addr, user, authMethods := resolveConnection(node, conf)

	hostKeyCallback, err := resolveHostKeyCallback(conf)
	if err != nil {
		return nil, fmt.Errorf("host key callback: %w", err)
	}

	sshConf := &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
	}

	conn, err := proxy.sshClient.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tunnel through %s to %s: %w", proxy.node, addr, err)
	}

	sshConn, chans, reqs, err := newClientConn(ctx, conn, addr, sshConf)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s (via %s): %w", addr, proxy.node, err)
	}

	return &Client{
		node:      node,
		sshClient: ssh.NewClient(sshConn, chans, reqs),
		conf:      conf,
	}, nil
}

// parseJumpHost parses a jump host spec in the form "user@host:port",
// "host:port", "user@host", or just "host". Returns user, hostname, port.
func parseJumpHost(spec string) (user, hostname string, port int) {
	spec = strings.TrimSpace(spec)

	if i := strings.Index(spec, "@"); i >= 0 {
		user = spec[:i]
		spec = spec[i+1:]
	}

	if host, portStr, err := net.SplitHostPort(spec); err == nil {
		hostname = host
		fmt.Sscanf(portStr, "%d", &port)
	} else {
		hostname = spec
	}

	return user, hostname, port
}

// RunCommand executes a command on the connected node and returns stdout,
// stderr, and the remote exit code. A nonzero remote exit is not an error:
// the code is returned with err == nil. err is non-nil only when the
// session itself failed (channel refused, connection lost, cancellation).
func (c *Client) RunCommand(ctx context.Context, command string) (stdout, stderr []byte, exitCode int, err error) {
	session, err := c.sshClient.NewSession()
	if err != nil {
		return nil, nil, -1, fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	var outBuf, errBuf captureBuffer
	session.Stdout = &outBuf
	session.Stderr = &errBuf

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		// Signal the session to close, which will cause Run to return.
		session.Signal(ssh.SIGKILL)
		session.Close()
		return nil, nil, -1, ctx.Err()
	case err := <-done:
		if err != nil {
			if exitErr, ok := err.(*ssh.ExitError); ok {
				return outBuf.Bytes(), errBuf.Bytes(), exitErr.ExitStatus(), nil
			}
			return outBuf.Bytes(), errBuf.Bytes(), -1, err
		}
		return outBuf.Bytes(), errBuf.Bytes(), 0, nil
	}
}

// SSHClient exposes the underlying connection for subsystems (SFTP).
func (c *Client) SSHClient() *ssh.Client {
	return c.sshClient
}

// Node returns the node identifier this client is connected to.
func (c *Client) Node() string {
	return c.node
}

// Close closes the connection and any jump-host connections in reverse
// order (innermost first).
func (c *Client) Close() error {
	var firstErr error
	if c.sshClient != nil {
		firstErr = c.sshClient.Close()
	}
	for i := len(c.hops) - 1; i >= 0; i-- {
		if err := c.hops[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// resolveConnection builds the address, username, and auth methods for a
// node. Values pre-set in conf (from the config layer's node resolution)
// win over ssh_config lookups.
func resolveConnection(node string, conf Config) (addr, user string, methods []ssh.AuthMethod) {
	user = conf.User
	if user == "" {
		user = sshconfig.Get(node, "User")
	}
	if user == "" {
		user = os.Getenv("USER")
	}
	if user == "" {
		user = "root"
	}

	port := conf.Port
	if port == 0 {
		if portStr := sshconfig.Get(node, "Port"); portStr != "" {
			fmt.Sscanf(portStr, "%d", &port)
		}
	}
	if port == 0 {
		port = 22
	}

	addr = net.JoinHostPort(node, fmt.Sprintf("%d", port))
	methods = buildAuthMethods(node, conf)
	return addr, user, methods
}

// buildAuthMethods constructs the auth chain: agent first, then key files.
func buildAuthMethods(node string, conf Config) []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	if agentAuth := agentAuthMethod(); agentAuth != nil {
		methods = append(methods, agentAuth)
	}

	keyFiles := conf.IdentityFiles
	if len(keyFiles) == 0 {
		keyFiles = resolveKeyFiles(node)
	}
	for _, keyFile := range keyFiles {
		if signer := loadKeySigner(keyFile); signer != nil {
			methods = append(methods, ssh.PublicKeys(signer))
		}
	}

	return methods
}

// sharedAgent holds a lazily-initialized, process-wide SSH agent connection.
// Uses a mutex instead of sync.Once so a failed dial can be retried.
var sharedAgent struct {
	mu     sync.Mutex
	conn   net.Conn
	client agent.ExtendedAgent
}

// CloseAgent closes the shared SSH agent connection, if any.
func CloseAgent() {
	sharedAgent.mu.Lock()
	defer sharedAgent.mu.Unlock()
	if sharedAgent.conn != nil {
		sharedAgent.conn.Close()
		sharedAgent.client = nil
		sharedAgent.conn = nil
	}
}

// agentAuthMethod returns an auth method using the SSH agent, or nil
// if the agent is unavailable or has no keys.
func agentAuthMethod() ssh.AuthMethod {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil
	}

	sharedAgent.mu.Lock()
	defer sharedAgent.mu.Unlock()

	if sharedAgent.client != nil {
		if keys, err := sharedAgent.client.List(); err == nil {
			if len(keys) > 0 {
				return ssh.PublicKeysCallback(sharedAgent.client.Signers)
			}
			return nil
		}
		// Stale connection — close and retry.
		sharedAgent.conn.Close()
		sharedAgent.client = nil
		sharedAgent.conn = nil
	}

	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil
	}
	sharedAgent.conn = conn
	sharedAgent.client = agent.NewClient(conn)

	keys, err := sharedAgent.client.List()
	if err != nil || len(keys) == 0 {
		return nil
	}
	return ssh.PublicKeysCallback(sharedAgent.client.Signers)
}

// resolveKeyFiles returns key file paths from ssh_config and default locations.
func resolveKeyFiles(node string) []string {
	var files []string

	if identity := sshconfig.Get(node, "IdentityFile"); identity != "" {
		expanded := expandHome(identity)
		if _, err := os.Stat(expanded); err == nil {
			files = append(files, expanded)
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return files
	}
	defaults := []string{
		filepath.Join(home, ".ssh", "id_ed25519"),
		filepath.Join(home, ".ssh", "id_rsa"),
		filepath.Join(home, ".ssh", "id_ecdsa"),
	}
	for _, f := range defaults {
		if _, err := os.Stat(f); err == nil {
			files = append(files, f)
		}
	}

	return files
}

// loadKeySigner reads a private key file and returns a signer.
func loadKeySigner(path string) ssh.Signer {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil
	}
	return signer
}

// resolveHostKeyCallback builds the host key callback.
func resolveHostKeyCallback(conf Config) (ssh.HostKeyCallback, error) {
	if conf.HostKeyCallback != nil {
		return conf.HostKeyCallback, nil
	}

	if conf.AcceptUnknownHosts {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}

	knownHostsPath := filepath.Join(home, ".ssh", "known_hosts")
	if _, err := os.Stat(knownHostsPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("no known_hosts file found at %s; use --insecure to skip host key verification", knownHostsPath)
	}

	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts: %w", err)
	}
	return callback, nil
}

// expandHome expands a leading ~/ to the user's home directory. Paths like
// ~otheruser/... are returned unchanged since we cannot reliably resolve
// other users' home directories.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") && path != "~" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// dialContext dials a network address with context cancellation support.
func dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d := net.Dialer{}
	return d.DialContext(ctx, network, addr)
}

// newClientConn performs the SSH handshake with context cancellation.
func newClientConn(ctx context.Context, conn net.Conn, addr string, config *ssh.ClientConfig) (ssh.Conn, <-chan ssh.NewChannel, <-chan *ssh.Request, error) {
	type result struct {
		conn  ssh.Conn
		chans <-chan ssh.NewChannel
		reqs  <-chan *ssh.Request
		err   error
	}

	done := make(chan result, 1)
	go func() {
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
		done <- result{c, chans, reqs, err}
	}()

	select {
	case <-ctx.Done():
		conn.Close()
		return nil, nil, nil, ctx.Err()
	case r := <-done:
		return r.conn, r.chans, r.reqs, r.err
	}
}
