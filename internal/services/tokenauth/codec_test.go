package tokenauth

import (
	"strings"
	"testing"
)

func TestNewSecretCodecRequiresKey(t *testing.T) {
	if _, err := NewSecretCodec(""); err == nil {
		t.Fatal("expected error for empty key material")
	}
}

func TestSealRoundtrip(t *testing.T) {
	codec, err := NewSecretCodec("test-key-material")
	if err != nil {
		t.Fatalf("NewSecretCodec: %v", err)
	}

	sealed, err := codec.Seal("ABCDE-FGHIJ-KLMNO-PQRST")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	plain, err := codec.Unseal(sealed)
	if err != nil {
		t.Fatalf("Unseal: %v", err)
	}
	if plain != "ABCDE-FGHIJ-KLMNO-PQRST" {
		t.Errorf("roundtrip mismatch: got %q", plain)
	}
}

func TestSealDeterministic(t *testing.T) {
	codec, err := NewSecretCodec("test-key-material")
	if err != nil {
		t.Fatalf("NewSecretCodec: %v", err)
	}

	a, err := codec.Seal("same-token")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	b, err := codec.Seal("same-token")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if a != b {
		t.Errorf("sealing is not deterministic: %q != %q", a, b)
	}

	c, err := codec.Seal("different-token")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if a == c {
		t.Error("distinct tokens sealed to the same value")
	}
}

func TestSealEmptyToken(t *testing.T) {
	codec, _ := NewSecretCodec("test-key-material")
	if _, err := codec.Seal(""); err == nil {
		t.Fatal("expected error sealing empty token")
	}
}

func TestUnsealWrongKey(t *testing.T) {
	codecA, _ := NewSecretCodec("key-a")
	codecB, _ := NewSecretCodec("key-b")

	sealed, err := codecA.Seal("some-token")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if _, err := codecB.Unseal(sealed); err != ErrSealedTokenInvalid {
		t.Errorf("expected ErrSealedTokenInvalid, got %v", err)
	}
}

func TestUnsealMalformed(t *testing.T) {
	codec, _ := NewSecretCodec("test-key-material")

	for _, sealed := range []string{"", "not base64 !!!", "dG9vc2hvcnQ"} {
		if _, err := codec.Unseal(sealed); err != ErrSealedTokenInvalid {
			t.Errorf("Unseal(%q): expected ErrSealedTokenInvalid, got %v", sealed, err)
		}
	}
}

func TestNewAccessTokenFormat(t *testing.T) {
	token, err := NewAccessToken()
	if err != nil {
		t.Fatalf("NewAccessToken: %v", err)
	}

	if len(token) != 23 {
		t.Errorf("expected 23 characters, got %d (%q)", len(token), token)
	}
	groups := strings.Split(token, "-")
	if len(groups) != 4 {
		t.Fatalf("expected 4 groups, got %d (%q)", len(groups), token)
	}
	for _, g := range groups {
		if len(g) != 5 {
			t.Errorf("group %q is not 5 characters", g)
		}
	}
}

func TestNewAccessTokenUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := NewAccessToken()
		if err != nil {
			t.Fatalf("NewAccessToken: %v", err)
		}
		if seen[token] {
			t.Fatalf("duplicate token %q", token)
		}
		seen[token] = true
	}
}
