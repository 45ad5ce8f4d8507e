package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kevinburke/ssh_config"
)

// Node is one resolved registry entry with its connection details.
type Node struct {
	Name         string // registry identity label (original input, e.g. "admin@node1")
	Hostname     string // actual SSH hostname to connect to (e.g. "node1")
	User         string
	Port         int
	IdentityFile string
	ProxyJump    string
	Timeout      time.Duration
}

// ResolveNodes builds the ordered node registry for one run. Nodes come
// from the flat cluster list by default, from a named group when groupName
// is set, or from cliNodes when given on the command line (CLI nodes
// replace the configured registry rather than extending it). Order is
// preserved exactly as written and duplicates are kept: each occurrence
// is an independent execution with its own outcome.
func ResolveNodes(cfg *Config, groupName string, cliNodes []string) ([]Node, error) {
	var names []string
	var groupUser string
	var groupTimeout Duration

	switch {
	case len(cliNodes) > 0:
		names = cliNodes
	case groupName != "":
		group, ok := cfg.Groups[groupName]
		if !ok {
			available := make([]string, 0, len(cfg.Groups))
			for name := range cfg.Groups {
				available = append(available, name)
			}
			if len(available) == 0 {
				return nil, fmt.Errorf("group %q not found (no groups defined)", groupName)
			}
			return nil, fmt.Errorf("group %q not found (available: %v)", groupName, available)
		}
		names = group.Nodes
		groupUser = group.User
		groupTimeout = group.Timeout
	default:
		names = cfg.Cluster.Nodes
	}

	if len(names) == 0 {
		return nil, fmt.Errorf("no nodes configured: add cluster.nodes to the config, or pass --node")
	}

	nodes := make([]Node, 0, len(names))
	for _, name := range names {
		if name == "" {
			return nil, fmt.Errorf("empty node identifier in registry")
		}

		node := Node{
			Name:         name,
			Hostname:     name,
			User:         cfg.Defaults.User,
			Port:         cfg.Defaults.Port,
			IdentityFile: expandTilde(cfg.Defaults.IdentityFile),
			ProxyJump:    cfg.Defaults.ProxyJump,
			Timeout:      cfg.Defaults.Timeout.Duration,
		}
		if node.Port == 0 {
			node.Port = 22
		}

		// user@host wins over the configured default user.
		if user, hostname, ok := parseUserAtHost(name); ok {
			node.Hostname = hostname
			node.User = user
			// Name stays as the original "user@host" for display.
		}

		if groupUser != "" {
			node.User = groupUser
		}
		if groupTimeout.Duration > 0 {
			node.Timeout = groupTimeout.Duration
		}

		// Fill in whatever is still missing from ~/.ssh/config.
		MergeSSHConfig(&node)

		nodes = append(nodes, node)
	}

	return nodes, nil
}

// MergeSSHConfig reads ~/.ssh/config and fills in User, Port, IdentityFile,
// and ProxyJump for the node if they are not already set. Lookups use
// the Hostname field (the actual SSH target), not the display Name.
func MergeSSHConfig(node *Node) {
	lookup := node.Hostname
	if lookup == "" {
		lookup = node.Name
	}

	if node.User == "" {
		if user := sshConfigGet(lookup, "User"); user != "" {
			node.User = user
		}
	}

	if node.Port == 22 {
		if portStr := sshConfigGet(lookup, "Port"); portStr != "" {
			if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
				node.Port = port
			}
		}
	}

	if node.IdentityFile == "" {
		if identity := sshConfigGet(lookup, "IdentityFile"); identity != "" {
			expanded := expandTilde(identity)
			if _, err := os.Stat(expanded); err == nil {
				node.IdentityFile = expanded
			}
		}
	}

	if node.ProxyJump == "" {
		if proxy := sshConfigGet(lookup, "ProxyJump"); proxy != "" {
			node.ProxyJump = proxy
		}
	}
}

// sshConfigGet looks up a key for a host in the user's SSH config.
func sshConfigGet(hostname, key string) string {
	val, err := ssh_config.GetStrict(hostname, key)
	if err != nil {
		return ""
	}
	return val
}

// parseUserAtHost splits "user@host" into its components.
// Returns ("", "", false) if the input doesn't contain @ or if the user part is empty.
func parseUserAtHost(s string) (user, host string, ok bool) {
	i := strings.Index(s, "@")
	if i <= 0 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

// expandTilde expands a leading ~/ to the user's home directory. Paths
// like ~otheruser/... are returned unchanged since we cannot reliably
// resolve other users' home directories.
func expandTilde(path string) string {
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
