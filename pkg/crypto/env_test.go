package crypto

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	ciphertext, err := EncryptString("secret", "payload")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if string(ciphertext) == "payload" {
		t.Fatalf("ciphertext equals plaintext")
	}
	plain, err := DecryptToString("secret", ciphertext)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain != "payload" {
		t.Fatalf("round trip mismatch: %q", plain)
	}
}

func TestDecryptWithWrongSecretFails(t *testing.T) {
	ciphertext, err := EncryptString("secret", "payload")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := DecryptToString("other", ciphertext); err == nil {
		t.Fatalf("wrong secret should fail authentication")
	}
}

func TestSealOpenEnv(t *testing.T) {
	env := map[string]string{"DB_PASSWORD": "hunter2", "API_KEY": "abc123"}
	sealed, err := SealEnv("secret", env)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	for key, value := range sealed {
		if value == env[key] {
			t.Fatalf("value %s stored in plaintext", key)
		}
	}
	opened, err := OpenEnv("secret", sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if len(opened) != len(env) {
		t.Fatalf("expected %d values, got %d", len(env), len(opened))
	}
	for key, value := range env {
		if opened[key] != value {
			t.Fatalf("value %s did not round trip", key)
		}
	}
}

func TestSealEmptyEnv(t *testing.T) {
	sealed, err := SealEnv("secret", nil)
	if err != nil || sealed != nil {
		t.Fatalf("empty env should seal to nil, got %v %v", sealed, err)
	}
}
