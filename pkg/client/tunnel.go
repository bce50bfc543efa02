package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const defaultSSHPort = "22"

// tunnelTarget is a parsed SSH jump host
type tunnelTarget struct {
	user string
	host string
	port string
}

func (t tunnelTarget) address() string {
	return net.JoinHostPort(t.host, t.port)
}

// parseTunnelAddress accepts ssh://user@host:port, user@host:port or host,
// with the port defaulting to 22 and the user to $USER.
func parseTunnelAddress(raw string) (tunnelTarget, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return tunnelTarget{}, errors.New("ssh tunnel address is empty")
	}

	var t tunnelTarget
	hostPort := trimmed
	if strings.Contains(trimmed, "://") {
		u, err := url.Parse(trimmed)
		if err != nil {
			return tunnelTarget{}, fmt.Errorf("invalid ssh tunnel address %q: %w", raw, err)
		}
		if !strings.EqualFold(u.Scheme, "ssh") {
			return tunnelTarget{}, fmt.Errorf("unsupported tunnel scheme %q", u.Scheme)
		}
		if u.User != nil {
			t.user = u.User.Username()
		}
		hostPort = u.Host
	} else if at := strings.LastIndex(trimmed, "@"); at >= 0 {
		t.user = trimmed[:at]
		hostPort = trimmed[at+1:]
	}

	host, port, err := splitHostPortWithDefault(hostPort, defaultSSHPort)
	if err != nil {
		return tunnelTarget{}, fmt.Errorf("invalid ssh tunnel address %q: %w", raw, err)
	}
	t.host, t.port = host, port

	if t.user == "" {
		t.user = defaultSSHUser()
	}
	return t, nil
}

func splitHostPortWithDefault(hostPort, defaultPort string) (string, string, error) {
	hostPort = strings.TrimSpace(hostPort)
	if hostPort == "" {
		return "", "", errors.New("missing host")
	}

	host, port, err := net.SplitHostPort(hostPort)
	if err == nil {
		if host == "" {
			return "", "", errors.New("missing host")
		}
		return host, port, nil
	}

	var addrErr *net.AddrError
	if errors.As(err, &addrErr) && strings.Contains(strings.ToLower(addrErr.Err), "missing port") {
		host = hostPort
		if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
			host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
		}
		return host, defaultPort, nil
	}

	return "", "", err
}

func defaultSSHUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	if user := os.Getenv("USERNAME"); user != "" {
		return user
	}
	return "anonymous"
}

// dialTunnel opens an SSH session to the jump host and forwards a TCP
// stream from there to htspAddr. Host keys must already be in known_hosts.
func dialTunnel(ctx context.Context, cfg TunnelConfig, htspAddr string) (net.Conn, error) {
	target, err := parseTunnelAddress(cfg.Address)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := loadKnownHosts(cfg.KnownHostsFile)
	if err != nil {
		return nil, err
	}

	authMethods, err := loadSSHAuthMethods(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load SSH keys: %w", err)
	}
	if len(authMethods) == 0 {
		return nil, errors.New("no SSH keys found - generate one with: ssh-keygen -t ed25519 -f ~/.ssh/id_ed25519")
	}

	var d net.Dialer
	netConn, err := d.DialContext(ctx, "tcp", target.address())
	if err != nil {
		return nil, err
	}

	// The ssh handshake itself only honours deadlines on the raw socket
	if deadline, ok := ctx.Deadline(); ok {
		_ = netConn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { netConn.Close() })
	defer stop()

	config := &ssh.ClientConfig{
		User:            target.user,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(netConn, target.address(), config)
	if err != nil {
		netConn.Close()
		return nil, wrapSSHError(target, err)
	}
	_ = netConn.SetDeadline(time.Time{})

	sshClient := ssh.NewClient(clientConn, chans, reqs)
	forwarded, err := sshClient.Dial("tcp", htspAddr)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("ssh forward to %s via %s: %w", htspAddr, target.address(), err)
	}

	return &tunnelConn{Conn: forwarded, client: sshClient}, nil
}

func wrapSSHError(target tunnelTarget, err error) error {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		if len(keyErr.Want) == 0 {
			return fmt.Errorf("ssh host key verification failed for %s: the key is not in known_hosts. Add it with `ssh-keyscan -p %s %s >> ~/.ssh/known_hosts` and retry", target.address(), target.port, target.host)
		}
		return fmt.Errorf("ssh host key verification failed for %s: the server key does not match the known_hosts entry at %s:%d", target.address(), keyErr.Want[0].Filename, keyErr.Want[0].Line)
	}
	if strings.Contains(err.Error(), "unable to authenticate") {
		return fmt.Errorf("ssh authentication failed for %s@%s: %w", target.user, target.address(), err)
	}
	return err
}

// loadKnownHosts builds the host key check from the configured file, then
// $SSH_KNOWN_HOSTS, then ~/.ssh/known_hosts. Having none is an error.
func loadKnownHosts(configured string) (ssh.HostKeyCallback, error) {
	paths := knownHostPaths(configured)
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil, fmt.Errorf("no known_hosts file found (checked %s)", strings.Join(paths, ", "))
	}

	cb, err := knownhosts.New(existing...)
	if err != nil {
		return nil, fmt.Errorf("read known_hosts: %w", err)
	}
	return cb, nil
}

func knownHostPaths(configured string) []string {
	if configured != "" {
		if p, err := expandHome(configured); err == nil {
			return []string{p}
		}
		return []string{configured}
	}

	if env := os.Getenv("SSH_KNOWN_HOSTS"); env != "" {
		var paths []string
		for _, p := range strings.Split(env, string(os.PathListSeparator)) {
			p = strings.TrimSpace(p)
			if p != "" {
				paths = append(paths, p)
			}
		}
		return paths
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(home, ".ssh", "known_hosts")}
}

// loadSSHAuthMethods loads the configured key, or the first usable keys from ~/.ssh
func loadSSHAuthMethods(keyFile string) ([]ssh.AuthMethod, error) {
	var keyPaths []string
	if keyFile != "" {
		p, err := expandHome(keyFile)
		if err != nil {
			return nil, err
		}
		keyPaths = []string{p}
	} else {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.New("cannot determine home directory")
		}
		sshDir := filepath.Join(homeDir, ".ssh")
		for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
			keyPaths = append(keyPaths, filepath.Join(sshDir, name))
		}
	}

	var signers []ssh.Signer
	for _, keyPath := range keyPaths {
		keyBytes, err := os.ReadFile(keyPath)
		if err != nil {
			if keyFile != "" {
				return nil, err
			}
			continue
		}

		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			if keyFile != "" {
				return nil, fmt.Errorf("%s: %w", keyPath, err)
			}
			// Encrypted keys need an agent, which is not supported
			continue
		}
		signers = append(signers, signer)
	}

	if len(signers) == 0 {
		return nil, nil
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signers...)}, nil
}

// tunnelConn is a forwarded stream that also owns its SSH client.
// Forwarded channels do not support deadlines, so SetDeadline fails and
// a cancelled exchange closes the stream instead.
type tunnelConn struct {
	net.Conn
	client *ssh.Client
	once   sync.Once
}

func (c *tunnelConn) Close() error {
	var err error
	c.once.Do(func() {
		err = c.Conn.Close()
		if cerr := c.client.Close(); err == nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	})
	return err
}
