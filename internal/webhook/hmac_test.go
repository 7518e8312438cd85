package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"testing"
)

func TestVerifySignature(t *testing.T) {
	secret := "test-secret-key"
	body := []byte(`{"ref":"refs/heads/main"}`)
	signed := Sign(body, secret)

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	sha1Sig := "sha1=" + hex.EncodeToString(mac.Sum(nil))

	tests := []struct {
		name      string
		body      []byte
		signature string
		secret    string
		wantErr   bool
	}{
		{"sha256 prefixed", body, signed, secret, false},
		{"bare hex", body, strings.TrimPrefix(signed, "sha256="), secret, false},
		{"upper-case algorithm", body, "SHA256=" + strings.TrimPrefix(signed, "sha256="), secret, false},
		{"sha1 prefixed", body, sha1Sig, secret, false},
		{"wrong digest", body, "sha256=" + strings.Repeat("0", 64), secret, true},
		{"wrong secret", body, signed, "other", true},
		{"tampered body", []byte(`{"ref":"refs/heads/evil"}`), signed, secret, true},
		{"not hex", body, "sha256=zz", secret, true},
		{"unknown algorithm", body, "md5=" + strings.TrimPrefix(signed, "sha256="), secret, true},
		{"empty signature", body, "", secret, true},
		{"empty secret", body, signed, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifySignature(tt.body, tt.signature, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Fatalf("verifySignature() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && err != errVerification {
				t.Fatalf("verifySignature() leaked error detail: %v", err)
			}
		})
	}
}

func TestSignIsStable(t *testing.T) {
	got := Sign([]byte("payload"), "k")
	if !strings.HasPrefix(got, "sha256=") || len(got) != len("sha256=")+64 {
		t.Fatalf("Sign() = %q", got)
	}
	if got != Sign([]byte("payload"), "k") {
		t.Fatalf("Sign() not deterministic")
	}
}

func TestParseMaxBodySize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", DefaultMaxBodySize, false},
		{"2048", 2048, false},
		{"512kb", 512 << 10, false},
		{" 2MB ", 2 << 20, false},
		{"1GB", 1 << 30, false},
		{"0", 0, true},
		{"-1MB", 0, true},
		{"lots", 0, true},
		{"99999999999GB", 0, true},
	}
	for _, tt := range tests {
		got, err := parseMaxBodySize(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("parseMaxBodySize(%q) = %d, %v", tt.in, got, err)
		}
	}
}
