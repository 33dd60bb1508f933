package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSealAndOpen(t *testing.T) {
	sealer := NewSealer(t.TempDir())
	secret := "correct horse battery staple"

	sealed, err := sealer.Seal(secret)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if !IsSealed(sealed) {
		t.Errorf("Expected %s prefix, got %q", SealedPrefix, sealed)
	}
	if strings.Contains(sealed, secret) {
		t.Fatal("Sealed value contains the plaintext")
	}

	opened, err := sealer.Open(sealed)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if opened != secret {
		t.Errorf("Expected %q, got %q", secret, opened)
	}
}

func TestSealEmpty(t *testing.T) {
	sealer := NewSealer(t.TempDir())
	if _, err := sealer.Seal(""); err == nil {
		t.Fatal("Expected error for empty secret, got nil")
	}
}

func TestOpenPlainValue(t *testing.T) {
	sealer := NewSealer(t.TempDir())

	for _, v := range []string{"", "hunter2"} {
		got, err := sealer.Open(v)
		if err != nil {
			t.Errorf("Open(%q) failed: %v", v, err)
		}
		if got != v {
			t.Errorf("Expected %q, got %q", v, got)
		}
	}
}

func TestOpenInvalid(t *testing.T) {
	dir := t.TempDir()
	sealer := NewSealer(dir)
	if _, err := sealer.Seal("x"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		value string
	}{
		{"not base64", SealedPrefix + "!!!"},
		{"too short", SealedPrefix + "YWJj"},
		{"tampered", SealedPrefix + "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := sealer.Open(tt.value); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestKeyPersistence(t *testing.T) {
	dir := t.TempDir()

	sealed, err := NewSealer(dir).Seal("secret")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".key")); err != nil {
		t.Fatalf("Expected key file: %v", err)
	}

	opened, err := NewSealer(dir).Open(sealed)
	if err != nil {
		t.Fatalf("Open with a new sealer failed: %v", err)
	}
	if opened != "secret" {
		t.Errorf("Expected secret, got %q", opened)
	}
}

func TestDeleteKey(t *testing.T) {
	dir := t.TempDir()
	sealer := NewSealer(dir)

	sealed, err := sealer.Seal("secret")
	if err != nil {
		t.Fatal(err)
	}
	if err := sealer.DeleteKey(); err != nil {
		t.Fatalf("DeleteKey failed: %v", err)
	}
	if _, err := sealer.Open(sealed); err == nil {
		t.Error("Expected error after key deletion")
	}
	if err := sealer.DeleteKey(); err != nil {
		t.Errorf("Expected second DeleteKey to succeed, got %v", err)
	}
}
