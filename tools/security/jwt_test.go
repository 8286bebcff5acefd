package security

import (
	"testing"
	"time"
)

func TestGenerateVerifyRoundTrip(t *testing.T) {
	opts := DefaultOptions([]byte("test-secret"))
	want := Identity{UserID: 42, DisplayName: "李雷", Role: "agent"}

	token, expireAt, err := Generate(opts, want)
	if err != nil {
		t.Fatal(err)
	}
	if time.Until(expireAt) < time.Hour {
		t.Errorf("expireAt too close: %v", expireAt)
	}

	got, err := Verify(opts, token)
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != want.UserID || got.DisplayName != want.DisplayName || got.Role != want.Role {
		t.Errorf("identity = %+v, want %+v", got, want)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	token, _, err := Generate(DefaultOptions([]byte("secret-a")), Identity{UserID: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Verify(DefaultOptions([]byte("secret-b")), token); err == nil {
		t.Error("token accepted with wrong secret")
	}
}

func TestVerifyExpired(t *testing.T) {
	opts := DefaultOptions([]byte("s"))
	opts.TTL = time.Millisecond
	token, _, err := Generate(opts, Identity{UserID: 1})
	if err != nil {
		t.Fatal(err)
	}
	// exp 精度是秒，等跨过那一秒
	time.Sleep(1100 * time.Millisecond)
	if _, err := Verify(opts, token); err == nil {
		t.Error("expired token accepted")
	}
}

func TestVerifyGarbage(t *testing.T) {
	opts := DefaultOptions([]byte("s"))
	for _, tok := range []string{"", "abc", "a.b.c"} {
		if _, err := Verify(opts, tok); err == nil {
			t.Errorf("garbage token %q accepted", tok)
		}
	}
}

func TestRoleDefaultsToCustomer(t *testing.T) {
	opts := DefaultOptions([]byte("s"))
	token, _, err := Generate(opts, Identity{UserID: 5})
	if err != nil {
		t.Fatal(err)
	}
	id, err := Verify(opts, token)
	if err != nil {
		t.Fatal(err)
	}
	if id.Role != "customer" {
		t.Errorf("role = %q", id.Role)
	}
}

func TestUnsupportedAlg(t *testing.T) {
	opts := Options{Secret: []byte("s"), Alg: "RS256"}
	if _, _, err := Generate(opts, Identity{UserID: 1}); err == nil {
		t.Error("RS256 accepted")
	}
}
