package ssh

import (
	"context"
	"net"
	"testing"
	"time"

	gossh "golang.org/x/crypto/ssh"

	"github.com/agent462/clusterrun/internal/sshtest"
)

// dialTestClient creates a Config that won't use the local SSH agent or
// default key files — only the explicitly provided identity file.
func dialTestClient(t *testing.T, host string, port int, keyPath string) *Client {
	t.Helper()

	// Clear SSH_AUTH_SOCK so the agent auth method is skipped.
	t.Setenv("SSH_AUTH_SOCK", "")

	conf := Config{
		User:            "testuser",
		Port:            port,
		IdentityFiles:   []string{keyPath},
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
	}

	client, err := Dial(context.Background(), host, conf)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return client
}

func TestDialAndRunCommand(t *testing.T) {
	pubKey, keyPath := sshtest.GenerateKey(t)

	addr, cleanup := sshtest.Start(t, sshtest.WithPublicKey(pubKey), sshtest.WithCmdHandler(func(cmd string) (string, string, int) {
		return "hello world\n", "", 0
	}))
	defer cleanup()

	host, port := sshtest.ParseAddr(t, addr)
	client := dialTestClient(t, host, port, keyPath)
	defer client.Close()

	stdout, stderr, exitCode, err := client.RunCommand(context.Background(), "echo hello")
	if err != nil {
		t.Fatalf("run command: %v", err)
	}
	if exitCode != 0 {
		t.Errorf("expected exit code 0, got %d", exitCode)
	}
	if string(stdout) != "hello world\n" {
		t.Errorf("expected stdout 'hello world\\n', got %q", string(stdout))
	}
	if len(stderr) != 0 {
		t.Errorf("expected empty stderr, got %q", string(stderr))
	}
}

func TestRunCommand_NonZeroExit(t *testing.T) {
	pubKey, keyPath := sshtest.GenerateKey(t)

	addr, cleanup := sshtest.Start(t, sshtest.WithPublicKey(pubKey), sshtest.WithCmdHandler(func(cmd string) (string, string, int) {
		return "", "command not found\n", 127
	}))
	defer cleanup()

	host, port := sshtest.ParseAddr(t, addr)
	client := dialTestClient(t, host, port, keyPath)
	defer client.Close()

	stdout, stderr, exitCode, err := client.RunCommand(context.Background(), "badcmd")
	if err != nil {
		t.Fatalf("remote nonzero exit must not be an error, got: %v", err)
	}
	if exitCode != 127 {
		t.Errorf("expected exit code 127, got %d", exitCode)
	}
	if len(stdout) != 0 {
		t.Errorf("expected empty stdout, got %q", stdout)
	}
	if string(stderr) != "command not found\n" {
		t.Errorf("expected 'command not found\\n', got %q", stderr)
	}
}

func TestRunCommand_CommandPassedVerbatim(t *testing.T) {
	pubKey, keyPath := sshtest.GenerateKey(t)

	var received string
	addr, cleanup := sshtest.Start(t, sshtest.WithPublicKey(pubKey), sshtest.WithCmdHandler(func(cmd string) (string, string, int) {
		received = cmd
		return "", "", 0
	}))
	defer cleanup()

	host, port := sshtest.ParseAddr(t, addr)
	client := dialTestClient(t, host, port, keyPath)
	defer client.Close()

	command := `grep -c "foo bar" /var/log/syslog | awk '{print $1}'`
	if _, _, _, err := client.RunCommand(context.Background(), command); err != nil {
		t.Fatalf("run command: %v", err)
	}
	if received != command {
		t.Errorf("command modified in transit:\n sent: %q\n got:  %q", command, received)
	}
}

func TestDial_ContextCancelledDuringHandshake(t *testing.T) {
	// A listener that accepts but never speaks SSH.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 1)
				for {
					if _, err := c.Read(buf); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	t.Setenv("SSH_AUTH_SOCK", "")
	host, port := sshtest.ParseAddr(t, listener.Addr().String())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = Dial(ctx, host, Config{
		User:            "testuser",
		Port:            port,
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
	})
	if err == nil {
		t.Fatal("expected dial to fail on stalled handshake")
	}
}

func TestDialViaProxy(t *testing.T) {
	pubKey, keyPath := sshtest.GenerateKey(t)

	// Jump host forwards TCP; target runs the command.
	jumpAddr, jumpCleanup := sshtest.Start(t, sshtest.WithPublicKey(pubKey), sshtest.WithForwardTCP())
	defer jumpCleanup()

	targetAddr, targetCleanup := sshtest.Start(t, sshtest.WithPublicKey(pubKey), sshtest.WithCmdHandler(func(cmd string) (string, string, int) {
		return "via proxy\n", "", 0
	}))
	defer targetCleanup()

	t.Setenv("SSH_AUTH_SOCK", "")
	_, targetPort := sshtest.ParseAddr(t, targetAddr)

	conf := Config{
		User:            "testuser",
		Port:            targetPort,
		IdentityFiles:   []string{keyPath},
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
		ProxyJump:       "testuser@" + jumpAddr,
	}

	client, err := Dial(context.Background(), "127.0.0.1", conf)
	if err != nil {
		t.Fatalf("dial via proxy: %v", err)
	}
	defer client.Close()

	stdout, _, exitCode, err := client.RunCommand(context.Background(), "hostname")
	if err != nil {
		t.Fatalf("run command: %v", err)
	}
	if exitCode != 0 || string(stdout) != "via proxy\n" {
		t.Errorf("unexpected result: exit=%d stdout=%q", exitCode, stdout)
	}
}

func TestParseJumpHost(t *testing.T) {
	tests := []struct {
		spec     string
		wantUser string
		wantHost string
		wantPort int
	}{
		{"bastion", "", "bastion", 0},
		{"admin@bastion", "admin", "bastion", 0},
		{"bastion:2222", "", "bastion", 2222},
		{"admin@bastion:2222", "admin", "bastion", 2222},
		{" admin@bastion ", "admin", "bastion", 0},
	}

	for _, tt := range tests {
		user, host, port := parseJumpHost(tt.spec)
		if user != tt.wantUser || host != tt.wantHost || port != tt.wantPort {
			t.Errorf("parseJumpHost(%q) = (%q, %q, %d), want (%q, %q, %d)",
				tt.spec, user, host, port, tt.wantUser, tt.wantHost, tt.wantPort)
		}
	}
}
