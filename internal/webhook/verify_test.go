package webhook

import (
	"errors"
	"testing"
)

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"ref":"refs/heads/main"}`)
	secret := "s3cret"
	valid := Sign(payload, secret)

	tests := []struct {
		name    string
		payload []byte
		header  string
		secret  string
		wantErr error
	}{
		{"valid signature", payload, valid, secret, nil},
		{"missing header", payload, "", secret, ErrMissingSignature},
		{"wrong prefix", payload, "sha1=" + valid[len(signaturePrefix):], secret, ErrInvalidSignature},
		{"wrong secret", payload, valid, "other", ErrInvalidSignature},
		{"tampered payload", []byte(`{"ref":"refs/heads/dev"}`), valid, secret, ErrInvalidSignature},
		{"truncated digest", payload, valid[:len(valid)-2], secret, ErrInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(tt.payload, tt.header, tt.secret)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("VerifySignature() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSign_Format(t *testing.T) {
	sig := Sign([]byte("x"), "k")
	if len(sig) != len(signaturePrefix)+64 {
		t.Fatalf("signature length = %d", len(sig))
	}
	if sig[:len(signaturePrefix)] != signaturePrefix {
		t.Fatalf("signature prefix = %q", sig)
	}
}
