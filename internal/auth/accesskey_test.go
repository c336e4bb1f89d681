package auth

import (
	"strings"
	"testing"
)

func TestGenerateKeySecret(t *testing.T) {
	t.Run("returns three non-empty values", func(t *testing.T) {
		secret, hash, suffix, err := GenerateKeySecret()
		if err != nil {
			t.Fatalf("GenerateKeySecret() error: %v", err)
		}
		if secret == "" {
			t.Error("GenerateKeySecret() returned empty secret")
		}
		if hash == "" {
			t.Error("GenerateKeySecret() returned empty hash")
		}
		if suffix == "" {
			t.Error("GenerateKeySecret() returned empty suffix")
		}
	})

	t.Run("secret starts with vk_", func(t *testing.T) {
		secret, _, _, err := GenerateKeySecret()
		if err != nil {
			t.Fatalf("GenerateKeySecret() error: %v", err)
		}
		if !strings.HasPrefix(secret, "vk_") {
			t.Errorf("GenerateKeySecret() secret = %q, want prefix %q", secret, "vk_")
		}
	})

	t.Run("suffix matches secret end", func(t *testing.T) {
		secret, _, suffix, err := GenerateKeySecret()
		if err != nil {
			t.Fatalf("GenerateKeySecret() error: %v", err)
		}
		if !strings.HasSuffix(secret, suffix) {
			t.Errorf("secret %q does not end with suffix %q", secret, suffix)
		}
		if len(suffix) != KeySuffixLength {
			t.Errorf("suffix len = %d, want %d", len(suffix), KeySuffixLength)
		}
	})

	t.Run("hash matches recomputed hash of secret", func(t *testing.T) {
		secret, hash, _, err := GenerateKeySecret()
		if err != nil {
			t.Fatalf("GenerateKeySecret() error: %v", err)
		}
		if HashKeySecret(secret) != hash {
			t.Error("stored hash does not match HashKeySecret(secret)")
		}
	})

	t.Run("hash does not contain the secret", func(t *testing.T) {
		secret, hash, _, err := GenerateKeySecret()
		if err != nil {
			t.Fatalf("GenerateKeySecret() error: %v", err)
		}
		if strings.Contains(hash, secret) {
			t.Error("hash leaks the secret")
		}
	})

	t.Run("two calls produce different secrets", func(t *testing.T) {
		s1, _, _, _ := GenerateKeySecret()
		s2, _, _, _ := GenerateKeySecret()
		if s1 == s2 {
			t.Error("GenerateKeySecret() produced identical secrets on consecutive calls")
		}
	})
}

func TestHashKeySecret(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		if HashKeySecret("vk_abc") != HashKeySecret("vk_abc") {
			t.Error("HashKeySecret() not deterministic")
		}
	})

	t.Run("hex encoded sha256 length", func(t *testing.T) {
		if got := len(HashKeySecret("vk_abc")); got != 64 {
			t.Errorf("hash length = %d, want 64", got)
		}
	})

	t.Run("different secrets hash differently", func(t *testing.T) {
		if HashKeySecret("vk_abc") == HashKeySecret("vk_abd") {
			t.Error("distinct secrets produced identical hashes")
		}
	})
}

func TestHashEmail(t *testing.T) {
	t.Run("case and whitespace insensitive", func(t *testing.T) {
		if HashEmail("Ada@Example.COM") != HashEmail("  ada@example.com ") {
			t.Error("HashEmail() should canonicalize case and whitespace")
		}
	})

	t.Run("different addresses hash differently", func(t *testing.T) {
		if HashEmail("ada@example.com") == HashEmail("bob@example.com") {
			t.Error("distinct addresses produced identical hashes")
		}
	})

	t.Run("prefix is taken from the hash, not the address", func(t *testing.T) {
		hash := HashEmail("ada@example.com")
		prefix := EmailHashPrefix(hash)
		if len(prefix) != EmailPrefixLength {
			t.Errorf("prefix len = %d, want %d", len(prefix), EmailPrefixLength)
		}
		if !strings.HasPrefix(hash, prefix) {
			t.Error("prefix does not match hash start")
		}
		if strings.Contains(prefix, "@") {
			t.Error("prefix leaks address structure")
		}
	})
}

func TestNewSessionID(t *testing.T) {
	t.Run("unique and opaque", func(t *testing.T) {
		id1, err := NewSessionID()
		if err != nil {
			t.Fatalf("NewSessionID() error: %v", err)
		}
		id2, err := NewSessionID()
		if err != nil {
			t.Fatalf("NewSessionID() error: %v", err)
		}
		if id1 == id2 {
			t.Error("NewSessionID() produced identical IDs on consecutive calls")
		}
		if len(id1) < 40 {
			t.Errorf("session ID length = %d, want >= 40 (256 bits base64url)", len(id1))
		}
	})

	t.Run("no padding or separator characters", func(t *testing.T) {
		id, err := NewSessionID()
		if err != nil {
			t.Fatalf("NewSessionID() error: %v", err)
		}
		if strings.ContainsAny(id, "=+/.") {
			t.Errorf("session ID %q contains non-cookie-safe characters", id)
		}
	})
}

func TestVerifyAdminToken(t *testing.T) {
	t.Run("correct token verifies", func(t *testing.T) {
		hash, err := HashAdminToken("super-secret")
		if err != nil {
			t.Fatalf("HashAdminToken() error: %v", err)
		}
		if err := VerifyAdminToken("super-secret", hash); err != nil {
			t.Errorf("VerifyAdminToken() error for correct token: %v", err)
		}
	})

	t.Run("wrong token fails", func(t *testing.T) {
		hash, _ := HashAdminToken("super-secret")
		if err := VerifyAdminToken("wrong", hash); err == nil {
			t.Error("VerifyAdminToken() succeeded for wrong token")
		}
	})

	t.Run("unconfigured hash fails closed", func(t *testing.T) {
		if err := VerifyAdminToken("anything", ""); err != ErrAdminDisabled {
			t.Errorf("VerifyAdminToken() error = %v, want ErrAdminDisabled", err)
		}
	})
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid bearer token", "Bearer abc123xyz", "abc123xyz", false},
		{"bearer with extra spaces", "Bearer  abc123 ", "abc123", false},
		{"empty header", "", "", true},
		{"missing Bearer prefix", "abc123", "", true},
		{"Basic auth scheme", "Basic dXNlcjpwYXNz", "", true},
		{"Bearer with no token", "Bearer ", "", true},
		{"Bearer with only spaces", "Bearer    ", "", true},
		{"lowercase bearer rejected", "bearer abc123", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractBearerToken(tt.header)
			if (err != nil) != tt.wantErr {
				t.Errorf("ExtractBearerToken(%q) error = %v, wantErr %v", tt.header, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ExtractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}
