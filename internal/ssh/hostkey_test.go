package ssh

import (
	"crypto/rand"
	"crypto/rsa"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

func TestNewHostKeyCallbackTrustOnFirstUse(t *testing.T) {
	tempDir := t.TempDir()
	knownHostsPath := filepath.Join(tempDir, "known_hosts")

	callback, err := NewHostKeyCallback(knownHostsPath, true)
	if err != nil {
		t.Fatalf("failed to create callback: %v", err)
	}

	key1 := generateTestPublicKey(t)
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 22}

	if err := callback("example.com:22", addr, key1); err != nil {
		t.Fatalf("expected first key to be accepted, got %v", err)
	}

	if _, err := os.Stat(knownHostsPath); err != nil {
		t.Fatalf("expected known_hosts file to be created: %v", err)
	}

	callback, err = NewHostKeyCallback(knownHostsPath, true)
	if err != nil {
		t.Fatalf("failed to recreate callback: %v", err)
	}

	if err := callback("example.com:22", addr, key1); err != nil {
		t.Fatalf("expected recorded key to verify, got %v", err)
	}

	key2 := generateTestPublicKey(t)
	if err := callback("example.com:22", addr, key2); err == nil {
		t.Fatalf("expected host key change to be rejected")
	}
}

func TestNewHostKeyCallbackRejectsUnknownWhenDisabled(t *testing.T) {
	tempDir := t.TempDir()
	knownHostsPath := filepath.Join(tempDir, "known_hosts")

	callback, err := NewHostKeyCallback(knownHostsPath, false)
	if err != nil {
		t.Fatalf("failed to create callback: %v", err)
	}

	key := generateTestPublicKey(t)
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2222}

	if err := callback("example.com:2222", addr, key); err == nil {
		t.Fatalf("expected unknown host key to be rejected")
	}
}

func TestHostKeyStoreSameStoreSeesNewKeys(t *testing.T) {
	store, err := NewHostKeyStore(filepath.Join(t.TempDir(), "known_hosts"), true)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	key := generateTestPublicKey(t)
	addr := &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 22}

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.Callback("10.0.0.1:22", addr, key)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent first use should succeed: %v", err)
		}
	}

	other := generateTestPublicKey(t)
	if err := store.Callback("10.0.0.1:22", addr, other); err == nil {
		t.Fatalf("expected changed key to be rejected without reopening the store")
	}

	if err := store.Forget("10.0.0.1", 22); err != nil {
		t.Fatalf("forget failed: %v", err)
	}
	if err := store.Callback("10.0.0.1:22", addr, other); err != nil {
		t.Fatalf("expected new key to be accepted after forget: %v", err)
	}
}

func TestHostKeyStoreDisabled(t *testing.T) {
	store, err := NewHostKeyStore("", false)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Callback("any:22", nil, generateTestPublicKey(t)); err != nil {
		t.Fatalf("disabled store should accept keys: %v", err)
	}
}

func generateTestPublicKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	pubKey, err := ssh.NewPublicKey(&privateKey.PublicKey)
	if err != nil {
		t.Fatalf("failed to create public key: %v", err)
	}

	return pubKey
}
