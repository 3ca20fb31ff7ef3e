package token

import "testing"

func TestIssueAndVerify(t *testing.T) {
	s := NewSigner("test-secret")

	tok, err := s.Issue("65a1b2c3d4e5f6a7b8c9d0e1", "bob@example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	cid, email, err := s.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if cid != "65a1b2c3d4e5f6a7b8c9d0e1" {
		t.Errorf("campaignID = %s", cid)
	}
	if email != "bob@example.com" {
		t.Errorf("email = %s", email)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	tok, _ := NewSigner("secret-a").Issue("65a1b2c3d4e5f6a7b8c9d0e1", "bob@example.com")

	if _, _, err := NewSigner("secret-b").Verify(tok); err != ErrInvalidToken {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	s := NewSigner("test-secret")

	for _, tok := range []string{"", "not-a-token", "a.b.c"} {
		if _, _, err := s.Verify(tok); err != ErrInvalidToken {
			t.Errorf("Verify(%q) err = %v, want ErrInvalidToken", tok, err)
		}
	}
}

func TestHashIsStable(t *testing.T) {
	if Hash("abc") != Hash("abc") {
		t.Error("hash not deterministic")
	}
	if Hash("abc") == Hash("abd") {
		t.Error("distinct tokens collide")
	}
	if len(Hash("abc")) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(Hash("abc")))
	}
}
