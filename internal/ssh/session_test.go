package ssh

import (
	"context"
	"net"
	"testing"

	gossh "golang.org/x/crypto/ssh"

	"github.com/agent462/clusterrun/internal/dispatch"
	"github.com/agent462/clusterrun/internal/sshtest"
)

// testRunner builds a Runner whose logical node name maps to an in-process
// server at 127.0.0.1:port.
func testRunner(node string, port int, keyPath string) *Runner {
	base := Config{
		User:            "testuser",
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
	}
	confs := map[string]NodeConfig{
		node: {
			Hostname:     "127.0.0.1",
			Port:         port,
			IdentityFile: keyPath,
		},
	}
	return NewRunner(base, confs)
}

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_, port := sshtest.ParseAddr(t, listener.Addr().String())
	listener.Close()
	return port
}

func TestExecute_Success(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	pubKey, keyPath := sshtest.GenerateKey(t)

	addr, cleanup := sshtest.Start(t, sshtest.WithPublicKey(pubKey), sshtest.WithCmdHandler(func(cmd string) (string, string, int) {
		return "hi\n", "", 0
	}))
	defer cleanup()

	_, port := sshtest.ParseAddr(t, addr)
	runner := testRunner("node-a", port, keyPath)

	outcome := runner.Execute(context.Background(), "node-a", "echo hi")
	if outcome.Failed() {
		t.Fatalf("unexpected failure: %v", outcome.Err)
	}
	if outcome.ExitCode != 0 {
		t.Errorf("expected exit 0, got %d", outcome.ExitCode)
	}
	if string(outcome.Stdout) != "hi\n" {
		t.Errorf("expected stdout 'hi\\n', got %q", outcome.Stdout)
	}
}

func TestExecute_NonZeroExitIsSuccess(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	pubKey, keyPath := sshtest.GenerateKey(t)

	addr, cleanup := sshtest.Start(t, sshtest.WithPublicKey(pubKey), sshtest.WithCmdHandler(func(cmd string) (string, string, int) {
		return "", "boom\n", 42
	}))
	defer cleanup()

	_, port := sshtest.ParseAddr(t, addr)
	runner := testRunner("node-a", port, keyPath)

	outcome := runner.Execute(context.Background(), "node-a", "false")
	if outcome.Failed() {
		t.Fatalf("nonzero exit must be a success outcome, got failure: %v", outcome.Err)
	}
	if outcome.ExitCode != 42 {
		t.Errorf("expected exit 42, got %d", outcome.ExitCode)
	}
	if string(outcome.Stderr) != "boom\n" {
		t.Errorf("expected stderr 'boom\\n', got %q", outcome.Stderr)
	}
}

func TestExecute_ConnectFailureStage(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	_, keyPath := sshtest.GenerateKey(t)

	// Nothing is listening on this port.
	runner := testRunner("node-a", freePort(t), keyPath)

	outcome := runner.Execute(context.Background(), "node-a", "uptime")
	if !outcome.Failed() {
		t.Fatal("expected connect failure")
	}
	if outcome.Stage != dispatch.StageConnect {
		t.Errorf("expected connect stage, got %q", outcome.Stage)
	}
}

func TestExecute_AuthFailureStage(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")

	// The server only trusts a key the client doesn't present.
	serverPub, _ := sshtest.GenerateKey(t)
	_, clientKeyPath := sshtest.GenerateKey(t)

	addr, cleanup := sshtest.Start(t, sshtest.WithPublicKey(serverPub))
	defer cleanup()

	_, port := sshtest.ParseAddr(t, addr)
	runner := testRunner("node-a", port, clientKeyPath)

	outcome := runner.Execute(context.Background(), "node-a", "uptime")
	if !outcome.Failed() {
		t.Fatal("expected auth failure")
	}
	if outcome.Stage != dispatch.StageAuth {
		t.Errorf("expected authenticate stage, got %q (err: %v)", outcome.Stage, outcome.Err)
	}
}

func TestResolveNodeConf(t *testing.T) {
	base := Config{User: "default", Port: 22}
	confs := map[string]NodeConfig{
		"alias": {
			Hostname:     "real.example.com",
			User:         "admin",
			Port:         2222,
			IdentityFile: "/keys/id_ed25519",
			ProxyJump:    "bastion",
		},
	}

	conf, dialHost := resolveNodeConf(base, confs, "alias")
	if dialHost != "real.example.com" {
		t.Errorf("expected dial host real.example.com, got %q", dialHost)
	}
	if conf.User != "admin" || conf.Port != 2222 || conf.ProxyJump != "bastion" {
		t.Errorf("overrides not applied: %+v", conf)
	}
	if len(conf.IdentityFiles) != 1 || conf.IdentityFiles[0] != "/keys/id_ed25519" {
		t.Errorf("identity file not applied: %v", conf.IdentityFiles)
	}

	conf, dialHost = resolveNodeConf(base, confs, "unknown")
	if dialHost != "unknown" || conf.User != "default" {
		t.Errorf("unknown node should fall back to base: host=%q conf=%+v", dialHost, conf)
	}
}
