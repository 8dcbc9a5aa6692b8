package auth

import (
	"strings"
	"testing"
)

// cheapHashParams keeps tests fast. Production hashers use DefaultHashParams.
var cheapHashParams = HashParams{Memory: 8 * 1024, Iterations: 1, Parallelism: 1}

func TestPasswordHasher_RoundTrip(t *testing.T) {
	h := NewPasswordHasher(DefaultHashParams())
	password := "correct-horse-battery-staple"

	hash, err := h.Hash(password)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	if !strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=4$") {
		t.Errorf("hash should embed target parameters, got %q", hash)
	}

	if !h.Verify(hash, password) {
		t.Error("Verify() should return true for correct password")
	}
	if h.NeedsRehash(hash) {
		t.Error("NeedsRehash() should be false for a hash made with current parameters")
	}
}

func TestPasswordHasher_WrongPassword(t *testing.T) {
	h := NewPasswordHasher(cheapHashParams)

	hash, err := h.Hash("correct-password")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	if h.Verify(hash, "wrong-password") {
		t.Error("Verify() should return false for wrong password")
	}
}

func TestPasswordHasher_UniqueSalts(t *testing.T) {
	h := NewPasswordHasher(cheapHashParams)

	hash1, err := h.Hash("same-password")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	hash2, err := h.Hash("same-password")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	if hash1 == hash2 {
		t.Error("two hashes of the same password should have different salts")
	}
}

func TestPasswordHasher_Lengths(t *testing.T) {
	h := NewPasswordHasher(cheapHashParams)

	for _, password := range []string{"a", "Abcdef12", strings.Repeat("x", 72)} {
		hash, err := h.Hash(password)
		if err != nil {
			t.Fatalf("Hash(%d chars) error = %v", len(password), err)
		}
		if !h.Verify(hash, password) {
			t.Errorf("Verify() false for %d-char password", len(password))
		}
		if h.Verify(hash, password+"!") {
			t.Errorf("Verify() true for a different %d-char password", len(password)+1)
		}
	}
}

func TestPasswordHasher_VerifyMalformedHash(t *testing.T) {
	h := NewPasswordHasher(cheapHashParams)

	tests := []struct {
		name string
		hash string
	}{
		{"empty", ""},
		{"not PHC", "plaintext"},
		{"wrong algorithm", "$bcrypt$v=19$m=65536,t=3,p=1$c2FsdA$aGFzaA"},
		{"too few parts", "$argon2id$v=19$m=65536,t=3,p=1"},
		{"bad version", "$argon2id$v=x$m=65536,t=3,p=1$c2FsdA$aGFzaA"},
		{"bad params", "$argon2id$v=19$m=abc$c2FsdA$aGFzaA"},
		{"zero memory", "$argon2id$v=19$m=0,t=3,p=1$c2FsdA$aGFzaA"},
		{"bad salt", "$argon2id$v=19$m=65536,t=3,p=1$!!!$aGFzaA"},
		{"bad key", "$argon2id$v=19$m=65536,t=3,p=1$c2FsdA$!!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if h.Verify(tt.hash, "password") {
				t.Error("Verify() should return false for malformed hash")
			}
			if !h.NeedsRehash(tt.hash) {
				t.Error("NeedsRehash() should be true for malformed hash")
			}
		})
	}
}

func TestPasswordHasher_NeedsRehash(t *testing.T) {
	old := NewPasswordHasher(cheapHashParams)
	hash, err := old.Hash("migrate-me")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	tests := []struct {
		name   string
		params HashParams
		want   bool
	}{
		{"same parameters", cheapHashParams, false},
		{"more memory", HashParams{Memory: 16 * 1024, Iterations: 1, Parallelism: 1}, true},
		{"more iterations", HashParams{Memory: 8 * 1024, Iterations: 2, Parallelism: 1}, true},
		{"more lanes", HashParams{Memory: 8 * 1024, Iterations: 1, Parallelism: 2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := NewPasswordHasher(tt.params)
			if got := current.NeedsRehash(hash); got != tt.want {
				t.Errorf("NeedsRehash() = %v, want %v", got, tt.want)
			}
			// Old hashes still verify after a parameter change.
			if !current.Verify(hash, "migrate-me") {
				t.Error("Verify() should accept a hash made with older parameters")
			}
		})
	}
}
