package backup

import (
	"bytes"
	"errors"
	"testing"
)

func TestGenerateSalt(t *testing.T) {
	a, err := GenerateSalt()
	if err != nil {
		t.Fatalf("generate salt: %v", err)
	}
	b, _ := GenerateSalt()
	if len(a) != saltSize {
		t.Errorf("salt length = %d, want %d", len(a), saltSize)
	}
	if bytes.Equal(a, b) {
		t.Error("two salts should differ")
	}
}

func TestDeriveKey(t *testing.T) {
	salt := bytes.Repeat([]byte{7}, saltSize)
	k1 := DeriveKey("passphrase", salt)
	k2 := DeriveKey("passphrase", salt)
	k3 := DeriveKey("other", salt)
	if len(k1) != keySize {
		t.Errorf("key length = %d, want %d", len(k1), keySize)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("same inputs should derive the same key")
	}
	if bytes.Equal(k1, k3) {
		t.Error("different passphrases should derive different keys")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	for _, plaintext := range [][]byte{[]byte("ledger snapshot bytes"), {}} {
		sealed, err := Seal(plaintext, "correct horse")
		if err != nil {
			t.Fatalf("seal: %v", err)
		}
		if !bytes.HasPrefix(sealed, magic) {
			t.Error("sealed data should start with the magic header")
		}
		if len(plaintext) > 0 && bytes.Contains(sealed, plaintext) {
			t.Error("sealed data contains the plaintext")
		}

		got, err := Open(sealed, "correct horse")
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Errorf("open = %q, want %q", got, plaintext)
		}
	}
}

func TestSealUsesFreshSalt(t *testing.T) {
	a, _ := Seal([]byte("x"), "p")
	b, _ := Seal([]byte("x"), "p")
	if bytes.Equal(a, b) {
		t.Error("two seals of the same input should differ")
	}
}

func TestOpenFailures(t *testing.T) {
	sealed, err := Seal([]byte("secret data"), "password")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	if _, err := Open(sealed, "wrong"); err == nil {
		t.Error("expected error with wrong passphrase")
	}

	tampered := bytes.Clone(sealed)
	tampered[len(tampered)-1] ^= 0xFF
	if _, err := Open(tampered, "password"); err == nil {
		t.Error("expected error with tampered ciphertext")
	}

	if _, err := Open([]byte("too short"), "password"); !errors.Is(err, ErrBadSnapshot) {
		t.Errorf("short input err = %v, want ErrBadSnapshot", err)
	}

	wrongMagic := bytes.Clone(sealed)
	copy(wrongMagic, "XXXX")
	if _, err := Open(wrongMagic, "password"); !errors.Is(err, ErrBadSnapshot) {
		t.Errorf("wrong magic err = %v, want ErrBadSnapshot", err)
	}
}
