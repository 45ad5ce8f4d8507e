package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/agent462/clusterrun/internal/dispatch"
)

// DialError wraps a failed connection attempt with the stage it failed at
// and an operator-facing hint.
type DialError struct {
	Node  string
	Stage dispatch.Stage
	Err   error
	Hint  string
}

func (e *DialError) Error() string {
	if e.Hint == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v\n  hint: %s", e.Err, e.Hint)
}

func (e *DialError) Unwrap() error {
	return e.Err
}

// ClassifyDial maps a Dial failure onto the connect/authenticate stage
// taxonomy and attaches a hint where a known pattern matches. Auth-related
// handshake failures classify as authenticate; everything else that stops
// the connection from coming up is connect.
func ClassifyDial(node string, err error) *DialError {
	de := &DialError{Node: node, Stage: dispatch.StageConnect, Err: err}
	if err == nil {
		return de
	}

	msg := err.Error()

	// Auth failures: the transport came up but no credential was accepted.
	var authErr *ssh.ServerAuthError
	if errors.As(err, &authErr) ||
		strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") {
		de.Stage = dispatch.StageAuth
		de.Hint = fmt.Sprintf("verify your SSH key or agent. Try: ssh -v %s", node)
		return de
	}

	// Unreadable key material also means nothing could authenticate.
	if strings.Contains(msg, "permission denied") && strings.Contains(msg, "key") {
		de.Stage = dispatch.StageAuth
		de.Hint = "check SSH key permissions (chmod 600)"
		return de
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		de.Hint = "connection attempt timed out"
		return de
	}

	if strings.Contains(msg, "connection refused") {
		de.Hint = "verify SSH daemon is running on the target node"
		return de
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) || strings.Contains(msg, "no such host") {
		de.Hint = "verify hostname is correct"
		return de
	}

	if strings.Contains(msg, "no known_hosts") {
		de.Hint = fmt.Sprintf("use --insecure or connect once with: ssh %s", node)
		return de
	}

	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) || strings.Contains(msg, "knownhosts") {
		de.Hint = fmt.Sprintf("remove old key with: ssh-keygen -R %s", node)
		return de
	}

	return de
}
