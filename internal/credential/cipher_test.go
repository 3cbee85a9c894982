package credential

import "testing"

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher("test-secret-key")
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	plaintexts := []string{"", "hunter2", "a very long password with spaces and symbols !@#$%^&*()"}
	for _, want := range plaintexts {
		ciphertext, err := c.Encrypt(want)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", want, err)
		}

		got, err := c.Decrypt(ciphertext)
		if err != nil {
			t.Fatalf("Decrypt(%q): %v", want, err)
		}

		if got != want {
			t.Errorf("round trip mismatch: want %q, got %q", want, got)
		}
	}
}

func TestCipherDifferentNoncesPerCall(t *testing.T) {
	c, err := NewCipher("test-secret-key")
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	a, err := c.Encrypt("hunter2")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := c.Encrypt("hunter2")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if string(a) == string(b) {
		t.Error("two encryptions of the same plaintext produced identical ciphertext; nonce is not being randomized")
	}
}

func TestCipherRejectsWrongKey(t *testing.T) {
	c1, _ := NewCipher("key-one")
	c2, _ := NewCipher("key-two")

	ciphertext, err := c1.Encrypt("hunter2")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := c2.Decrypt(ciphertext); err == nil {
		t.Error("expected decryption under a different key to fail")
	}
}

func TestCipherRejectsTruncatedCiphertext(t *testing.T) {
	c, _ := NewCipher("test-secret-key")

	if _, err := c.Decrypt([]byte("x")); err == nil {
		t.Error("expected decryption of a too-short ciphertext to fail")
	}
}

func TestNewCipherRejectsEmptySecret(t *testing.T) {
	if _, err := NewCipher(""); err == nil {
		t.Error("expected NewCipher(\"\") to fail")
	}
}
