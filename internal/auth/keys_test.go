package auth

import (
	"strings"
	"testing"
)

func TestGenerateKey_UniqueAndPrefixed(t *testing.T) {
	a, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	b, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if a == b {
		t.Error("two generated keys are identical")
	}
	if !strings.HasPrefix(a, "cpk_") {
		t.Errorf("key %q missing prefix", a)
	}
}

func TestHashKey_StableAndTrimmed(t *testing.T) {
	if HashKey("secret") != HashKey("  secret \n") {
		t.Error("hash should ignore surrounding whitespace")
	}
	if HashKey("secret") == HashKey("secret2") {
		t.Error("different keys must hash differently")
	}
	if len(HashKey("secret")) != 64 {
		t.Errorf("hash length = %d, want 64", len(HashKey("secret")))
	}
}
