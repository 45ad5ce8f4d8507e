package transfer_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	gossh "golang.org/x/crypto/ssh"

	csh "github.com/agent462/clusterrun/internal/ssh"
	"github.com/agent462/clusterrun/internal/sshtest"
	"github.com/agent462/clusterrun/internal/transfer"
)

// portDialer maps logical node names onto 127.0.0.1 test servers.
type portDialer struct {
	keyPath string
	ports   map[string]int
}

func (d *portDialer) Client(ctx context.Context, node string) (*csh.Client, error) {
	port, ok := d.ports[node]
	if !ok {
		return nil, fmt.Errorf("unknown node: %s", node)
	}
	return csh.Dial(ctx, "127.0.0.1", csh.Config{
		User:            "testuser",
		Port:            port,
		IdentityFiles:   []string{d.keyPath},
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
	})
}

func TestExecutorPush_RegistryOrderAndIsolation(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	pubKey, keyPath := sshtest.GenerateKey(t)

	addr1, cleanup1 := sshtest.Start(t, sshtest.WithPublicKey(pubKey), sshtest.WithSFTP())
	defer cleanup1()
	addr2, cleanup2 := sshtest.Start(t, sshtest.WithPublicKey(pubKey), sshtest.WithSFTP())
	defer cleanup2()

	_, port1 := sshtest.ParseAddr(t, addr1)
	_, port2 := sshtest.ParseAddr(t, addr2)

	dialer := &portDialer{
		keyPath: keyPath,
		ports:   map[string]int{"good1": port1, "good2": port2},
		// "down" is deliberately absent, so its dial fails.
	}

	localPath := filepath.Join(t.TempDir(), "artifact.bin")
	if err := os.WriteFile(localPath, []byte("artifact contents"), 0644); err != nil {
		t.Fatalf("write local file: %v", err)
	}
	remotePath := filepath.Join(t.TempDir(), "artifact.bin")

	// Both test servers serve the same local filesystem, so run the
	// pushes one at a time to keep the shared remote path race-free.
	e := transfer.New(dialer, transfer.WithConcurrency(1))
	nodes := []string{"good1", "down", "good2"}
	results := e.Push(context.Background(), nodes, localPath, remotePath, nil)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Node != nodes[i] {
			t.Errorf("result[%d]: expected node %q, got %q", i, nodes[i], r.Node)
		}
	}

	if results[0].Err != nil {
		t.Errorf("good1: unexpected error: %v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Error("down: expected dial error")
	}
	if results[2].Err != nil {
		t.Errorf("good2 affected by sibling failure: %v", results[2].Err)
	}
	if results[0].Checksum == "" || results[0].Checksum != results[2].Checksum {
		t.Errorf("checksums should match for identical pushes: %q vs %q",
			results[0].Checksum, results[2].Checksum)
	}
}
