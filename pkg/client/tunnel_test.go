package client

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

func TestParseTunnelAddress(t *testing.T) {
	t.Setenv("USER", "tester")

	tests := []struct {
		raw  string
		want tunnelTarget
	}{
		{"ssh://jump.example.com", tunnelTarget{user: "tester", host: "jump.example.com", port: "22"}},
		{"ssh://media@jump.example.com:2222", tunnelTarget{user: "media", host: "jump.example.com", port: "2222"}},
		{"media@jump.example.com", tunnelTarget{user: "media", host: "jump.example.com", port: "22"}},
		{"jump.example.com:2200", tunnelTarget{user: "tester", host: "jump.example.com", port: "2200"}},
		{"[::1]", tunnelTarget{user: "tester", host: "::1", port: "22"}},
		{"  ssh://media@[fe80::1]:22  ", tunnelTarget{user: "media", host: "fe80::1", port: "22"}},
	}

	for _, tt := range tests {
		got, err := parseTunnelAddress(tt.raw)
		if err != nil {
			t.Fatalf("parseTunnelAddress(%q): unexpected error: %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("parseTunnelAddress(%q) = %+v, want %+v", tt.raw, got, tt.want)
		}
	}
}

func TestParseTunnelAddressErrors(t *testing.T) {
	for _, raw := range []string{"", "   ", "tcp://jump.example.com", "ssh://", "media@"} {
		if _, err := parseTunnelAddress(raw); err == nil {
			t.Fatalf("parseTunnelAddress(%q): expected error", raw)
		}
	}

	if _, err := parseTunnelAddress("udp://jump"); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("unexpected error for unsupported scheme: %v", err)
	}
}

func testHostKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	key, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("failed to convert key: %v", err)
	}
	return key
}

func TestLoadKnownHosts(t *testing.T) {
	known := testHostKey(t)
	other := testHostKey(t)

	path := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{"jump.example.com"}, known)
	if err := os.WriteFile(path, []byte(line+"\n"), 0o600); err != nil {
		t.Fatalf("write known_hosts: %v", err)
	}

	callback, err := loadKnownHosts(path)
	if err != nil {
		t.Fatalf("loadKnownHosts: %v", err)
	}

	remote := &net.TCPAddr{IP: net.ParseIP("192.0.2.10"), Port: 22}
	target := tunnelTarget{user: "media", host: "jump.example.com", port: "22"}

	if err := callback("jump.example.com:22", remote, known); err != nil {
		t.Fatalf("expected known key to be accepted: %v", err)
	}

	err = callback("jump.example.com:22", remote, other)
	if err == nil {
		t.Fatal("expected mismatched key to be rejected")
	}
	if msg := wrapSSHError(target, err).Error(); !strings.Contains(msg, "does not match") {
		t.Fatalf("unexpected mismatch message: %s", msg)
	}

	err = callback("other.example.com:22", remote, known)
	if err == nil {
		t.Fatal("expected unknown host to be rejected")
	}
	if msg := wrapSSHError(target, err).Error(); !strings.Contains(msg, "ssh-keyscan") {
		t.Fatalf("unexpected unknown-host message: %s", msg)
	}
}

func TestLoadKnownHostsMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing_known_hosts")
	if _, err := loadKnownHosts(missing); err == nil {
		t.Fatal("expected error when no known_hosts file exists")
	}

	t.Setenv("SSH_KNOWN_HOSTS", missing)
	if _, err := loadKnownHosts(""); err == nil {
		t.Fatal("expected error when SSH_KNOWN_HOSTS points nowhere")
	}
}

func TestLoadSSHAuthMethods(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	dir := t.TempDir()
	keyPath := filepath.Join(dir, "id_test")
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	methods, err := loadSSHAuthMethods(keyPath)
	if err != nil {
		t.Fatalf("loadSSHAuthMethods: %v", err)
	}
	if len(methods) != 1 {
		t.Fatalf("expected one auth method, got %d", len(methods))
	}

	if _, err := loadSSHAuthMethods(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("expected error for a configured key that does not exist")
	}

	// Without a configured key only ~/.ssh is searched, and an empty one is not an error
	t.Setenv("HOME", t.TempDir())
	methods, err = loadSSHAuthMethods("")
	if err != nil {
		t.Fatalf("unexpected error for empty ~/.ssh: %v", err)
	}
	if len(methods) != 0 {
		t.Fatalf("expected no auth methods, got %d", len(methods))
	}
}
