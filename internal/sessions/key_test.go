package sessions

import (
	"strings"
	"testing"
)

func TestBuildKey(t *testing.T) {
	key := BuildKey("sk-test-token", "alice")

	hash, user, ok := strings.Cut(key, ":")
	if !ok {
		t.Fatalf("key %q missing separator", key)
	}
	if len(hash) != 8 {
		t.Errorf("hash prefix = %q, want 8 hex chars", hash)
	}
	if user != "alice" {
		t.Errorf("user = %q", user)
	}
	if strings.Contains(key, "sk-test-token") {
		t.Error("raw token leaked into session key")
	}
}

func TestBuildKeyStable(t *testing.T) {
	a := BuildKey("tok", "alice")
	b := BuildKey("tok", "alice")
	if a != b {
		t.Errorf("same inputs produced %q and %q", a, b)
	}
	if BuildKey("tok", "alice") == BuildKey("other", "alice") {
		t.Error("different tokens collided")
	}
	if BuildKey("tok", "alice") == BuildKey("tok", "bob") {
		t.Error("different users collided")
	}
}

func TestBuildKeyDefaultUser(t *testing.T) {
	for _, user := range []string{"", "   "} {
		key := BuildKey("tok", user)
		if !strings.HasSuffix(key, ":"+DefaultUser) {
			t.Errorf("BuildKey(tok, %q) = %q, want %s suffix", user, key, DefaultUser)
		}
	}
}

func TestUserFromKey(t *testing.T) {
	if got := UserFromKey(BuildKey("tok", "alice")); got != "alice" {
		t.Errorf("UserFromKey = %q", got)
	}
	if got := UserFromKey("garbage"); got != DefaultUser {
		t.Errorf("UserFromKey(garbage) = %q", got)
	}
}
