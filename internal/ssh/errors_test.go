package ssh

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/agent462/clusterrun/internal/dispatch"
)

func TestClassifyDial_ConnectionRefused(t *testing.T) {
	err := fmt.Errorf("dial 10.0.0.5:22: connect: connection refused")
	de := ClassifyDial("node1", err)

	if de.Stage != dispatch.StageConnect {
		t.Errorf("expected connect stage, got %q", de.Stage)
	}
	if !strings.Contains(de.Error(), "SSH daemon") {
		t.Errorf("expected daemon hint, got %q", de.Error())
	}
}

func TestClassifyDial_DNSFailure(t *testing.T) {
	err := &net.DNSError{Err: "no such host", Name: "nope.invalid"}
	de := ClassifyDial("nope.invalid", err)

	if de.Stage != dispatch.StageConnect {
		t.Errorf("expected connect stage, got %q", de.Stage)
	}
	if !strings.Contains(de.Hint, "hostname") {
		t.Errorf("expected hostname hint, got %q", de.Hint)
	}
}

func TestClassifyDial_AuthFailure(t *testing.T) {
	err := fmt.Errorf("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none publickey], no supported methods remain")
	de := ClassifyDial("node1", err)

	if de.Stage != dispatch.StageAuth {
		t.Errorf("expected authenticate stage, got %q", de.Stage)
	}
	if !strings.Contains(de.Hint, "ssh -v node1") {
		t.Errorf("expected ssh -v hint, got %q", de.Hint)
	}
}

func TestClassifyDial_KeyPermissions(t *testing.T) {
	err := fmt.Errorf("load key /home/u/.ssh/id_rsa: permission denied")
	de := ClassifyDial("node1", err)

	if de.Stage != dispatch.StageAuth {
		t.Errorf("expected authenticate stage, got %q", de.Stage)
	}
	if !strings.Contains(de.Hint, "chmod 600") {
		t.Errorf("expected chmod hint, got %q", de.Hint)
	}
}

func TestClassifyDial_KnownHostsMissing(t *testing.T) {
	err := fmt.Errorf("host key callback: no known_hosts file found at /home/u/.ssh/known_hosts")
	de := ClassifyDial("node1", err)

	if de.Stage != dispatch.StageConnect {
		t.Errorf("expected connect stage, got %q", de.Stage)
	}
	if !strings.Contains(de.Hint, "--insecure") {
		t.Errorf("expected --insecure hint, got %q", de.Hint)
	}
}

func TestClassifyDial_Unknown(t *testing.T) {
	err := errors.New("something else entirely")
	de := ClassifyDial("node1", err)

	if de.Stage != dispatch.StageConnect {
		t.Errorf("unknown errors default to connect stage, got %q", de.Stage)
	}
	if de.Hint != "" {
		t.Errorf("unknown errors get no hint, got %q", de.Hint)
	}
	if !errors.Is(de, err) {
		t.Error("DialError must unwrap to the original error")
	}
}
