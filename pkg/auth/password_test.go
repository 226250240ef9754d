package auth

import (
	"strings"
	"testing"
)

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		login    string
		wantLen  int // Expected hash length in base64
	}{
		{
			name:     "standard password and login",
			password: "mySecurePassword123",
			login:    "alice",
			wantLen:  43, // 32 bytes -> 43 chars in base64 (no padding)
		},
		{
			name:     "short password",
			password: "pw",
			login:    "bob",
			wantLen:  43,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash := HashPassword(tt.password, tt.login)

			if hash == "" {
				t.Error("HashPassword returned empty string")
			}
			if len(hash) != tt.wantLen {
				t.Errorf("HashPassword hash length = %d, want %d", len(hash), tt.wantLen)
			}
		})
	}
}

func TestHashPassword_Deterministic(t *testing.T) {
	hash1 := HashPassword("pw123", "alice")
	hash2 := HashPassword("pw123", "alice")

	if hash1 != hash2 {
		t.Errorf("HashPassword not deterministic: hash1=%s, hash2=%s", hash1, hash2)
	}
}

func TestHashPassword_DifferentLogins(t *testing.T) {
	if HashPassword("samePassword", "alice") == HashPassword("samePassword", "bob") {
		t.Error("HashPassword produced same hash for different logins")
	}
}

func TestVerifyPassword(t *testing.T) {
	digest := HashPassword("pw123", "alice")

	if !VerifyPassword("pw123", "alice", digest) {
		t.Error("VerifyPassword rejected the right password")
	}
	if VerifyPassword("pw124", "alice", digest) {
		t.Error("VerifyPassword accepted a wrong password")
	}
	if VerifyPassword("pw123", "bob", digest) {
		t.Error("VerifyPassword accepted the digest for another login")
	}
}

func TestValidatePasswordFormat(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  error
	}{
		{name: "valid", password: "pw123"},
		{name: "exactly max length", password: strings.Repeat("a", MaxPasswordLength)},
		{name: "empty", password: "", wantErr: ErrEmptyPassword},
		{name: "too long", password: strings.Repeat("a", MaxPasswordLength+1), wantErr: ErrPasswordTooLong},
		{name: "colon", password: "a:b", wantErr: ErrPasswordReserved},
		{name: "newline", password: "a\nb", wantErr: ErrPasswordReserved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePasswordFormat(tt.password)
			if err != tt.wantErr {
				t.Errorf("ValidatePasswordFormat() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// Benchmark the hashing function to ensure it's not too slow for signin
func BenchmarkHashPassword(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = HashPassword("mySecurePassword123", "alice")
	}
}
