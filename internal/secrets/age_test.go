package secrets

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age"
)

func TestGenerateIdentity_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ".age-key")

	recipient, err := GenerateIdentity(path)
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	if !strings.HasPrefix(recipient, "age1") {
		t.Errorf("recipient = %q, want age1 prefix", recipient)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("permissions = %o, want 0600", info.Mode().Perm())
	}
}

func TestGenerateIdentity_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".age-key")

	first, err := GenerateIdentity(path)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	data1, _ := os.ReadFile(path)

	second, err := GenerateIdentity(path)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	data2, _ := os.ReadFile(path)

	if string(data1) != string(data2) {
		t.Error("idempotency broken: file changed on second call")
	}
	if first != second {
		t.Errorf("recipient changed: %q vs %q", first, second)
	}
}

func TestLoadIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".age-key")
	recipient, err := GenerateIdentity(path)
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}

	id, err := LoadIdentity(path)
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	if id.Recipient().String() != recipient {
		t.Errorf("loaded recipient %q, want %q", id.Recipient().String(), recipient)
	}
}

func TestLoadIdentity_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadIdentity(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing file")
	}

	garbage := filepath.Join(dir, "garbage")
	if err := os.WriteFile(garbage, []byte("not a key\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadIdentity(garbage); err == nil {
		t.Error("expected error for garbage key file")
	}
}

func TestSealOpen_RoundTrip(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}

	tests := []string{"correct-horse-battery-staple", ""}
	for _, plaintext := range tests {
		sealed, err := Seal(plaintext, identity.Recipient())
		if err != nil {
			t.Fatalf("Seal: %v", err)
		}
		if !IsSealed(sealed) {
			t.Errorf("IsSealed(%q) = false", sealed)
		}

		opened, err := Open(sealed, identity)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if opened != plaintext {
			t.Errorf("opened = %q, want %q", opened, plaintext)
		}
	}
}

func TestOpen_WrongIdentity(t *testing.T) {
	a, _ := age.GenerateX25519Identity()
	b, _ := age.GenerateX25519Identity()

	sealed, err := Seal("hello", a.Recipient())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Open(sealed, b); err == nil {
		t.Error("expected decrypt error with the wrong identity")
	}
}

func TestOpen_RejectsPlaintext(t *testing.T) {
	identity, _ := age.GenerateX25519Identity()
	if _, err := Open("not-encrypted", identity); !errors.Is(err, ErrNotSealed) {
		t.Errorf("err = %v, want ErrNotSealed", err)
	}
}

func TestIsSealed(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"ENC[age:abc123]", true},
		{"ENC[age:]", true},
		{"plaintext", false},
		{"ENC[age:abc123", false},
		{"age:abc123]", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsSealed(tt.input); got != tt.want {
			t.Errorf("IsSealed(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParseRecipient(t *testing.T) {
	identity, _ := age.GenerateX25519Identity()
	if _, err := ParseRecipient("  " + identity.Recipient().String() + "\n"); err != nil {
		t.Errorf("ParseRecipient: %v", err)
	}
	if _, err := ParseRecipient("age1nope"); err == nil {
		t.Error("expected error for invalid recipient")
	}
}

func TestResolveSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".age-key")
	recipientStr, err := GenerateIdentity(path)
	if err != nil {
		t.Fatal(err)
	}
	recipient, err := ParseRecipient(recipientStr)
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := Seal("s3cret", recipient)
	if err != nil {
		t.Fatal(err)
	}

	got, err := ResolveSecret(sealed, path)
	if err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	if got != "s3cret" {
		t.Errorf("got %q, want s3cret", got)
	}

	plain, err := ResolveSecret("plain-value", "/nonexistent")
	if err != nil || plain != "plain-value" {
		t.Errorf("plaintext passthrough = %q, %v", plain, err)
	}

	if _, err := ResolveSecret(sealed, filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error when identity is missing")
	}
}
