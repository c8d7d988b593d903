package internal

import (
	"testing"

	"github.com/google/uuid"
)

func TestRefreshTokenRoundTrip(t *testing.T) {
	secret, err := NewSecret()
	if err != nil {
		t.Fatalf("NewSecret: %v", err)
	}
	recordID := uuid.NewString()

	token, err := EncodeRefreshToken(recordID, secret)
	if err != nil {
		t.Fatalf("EncodeRefreshToken: %v", err)
	}

	gotID, gotSecret, err := DecodeRefreshToken(token)
	if err != nil {
		t.Fatalf("DecodeRefreshToken: %v", err)
	}
	if gotID != recordID {
		t.Fatalf("record id mismatch: got %q want %q", gotID, recordID)
	}
	if gotSecret != secret {
		t.Fatal("secret mismatch after round trip")
	}
}

func TestDecodeRefreshTokenRejectsGarbage(t *testing.T) {
	cases := []string{
		"",
		"not-base64!!",
		"c2hvcnQ",
	}
	for _, tc := range cases {
		if _, _, err := DecodeRefreshToken(tc); err == nil {
			t.Fatalf("expected decode error for %q", tc)
		}
	}
}

func TestNewSessionIDUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		sid, err := NewSessionID()
		if err != nil {
			t.Fatalf("NewSessionID: %v", err)
		}
		if seen[sid] {
			t.Fatalf("duplicate session id %q", sid)
		}
		seen[sid] = true
	}
}
