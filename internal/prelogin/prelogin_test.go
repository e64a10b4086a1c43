package prelogin_test

import (
	"testing"

	"github.com/v-suhame/tedious/internal/prelogin"
)

// TestEncodeDecodeRoundTrip verifies the option table survives a full
// serialize/parse cycle.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := &prelogin.Options{
		Version:    prelogin.Version{Major: 16, Minor: 0, Build: 4095, SubBuild: 2},
		Encryption: prelogin.EncryptOn,
		Instance:   "SQLEXPRESS",
		ThreadID:   0xDEADBEEF,
		MARS:       true,
	}

	out, err := prelogin.Decode(prelogin.Encode(in))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if out.Version != in.Version {
		t.Errorf("version: got %s, want %s", out.Version, in.Version)
	}
	if out.Encryption != in.Encryption {
		t.Errorf("encryption: got %d, want %d", out.Encryption, in.Encryption)
	}
	if out.Instance != in.Instance {
		t.Errorf("instance: got %q, want %q", out.Instance, in.Instance)
	}
	if out.ThreadID != in.ThreadID {
		t.Errorf("thread id: got %#x, want %#x", out.ThreadID, in.ThreadID)
	}
	if !out.MARS {
		t.Error("mars flag lost")
	}
}

// TestDecodeUnknownTokenSkipped verifies forward compatibility: a token this
// client does not know is skipped, the rest of the table still parses.
func TestDecodeUnknownTokenSkipped(t *testing.T) {
	payload := []byte{
		0x06, 0x00, 0x0B, 0x00, 0x01, // unknown token 0x06, one data byte
		0x01, 0x00, 0x0C, 0x00, 0x01, // encryption option
		0xFF,
		0xAA, // unknown option data
		prelogin.EncryptRequired,
	}
	o, err := prelogin.Decode(payload)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if o.Encryption != prelogin.EncryptRequired {
		t.Errorf("encryption: got %d, want REQUIRED", o.Encryption)
	}
}

// TestDecodeDefaultsEncryption verifies a terminator-only payload yields the
// no-encryption default.
func TestDecodeDefaultsEncryption(t *testing.T) {
	o, err := prelogin.Decode([]byte{0xFF})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if o.Encryption != prelogin.EncryptNotSupported {
		t.Errorf("default encryption: got %d, want NOT_SUPPORTED", o.Encryption)
	}
}

// TestDecodeMalformed rejects payloads a buggy or hostile peer could send.
func TestDecodeMalformed(t *testing.T) {
	testCases := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"missing terminator", []byte{0x01, 0x00, 0x03, 0x00, 0x02}},
		{"truncated header", []byte{0x01, 0x00, 0x06}},
		{"data out of bounds", []byte{0x01, 0x00, 0x20, 0x00, 0x01, 0xFF}},
		{"short version", []byte{0x00, 0x00, 0x06, 0x00, 0x02, 0xFF, 0x10, 0x00}},
		{"short encryption", []byte{0x01, 0x00, 0x06, 0x00, 0x00, 0xFF}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := prelogin.Decode(tc.payload); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

// TestEncryptionName covers the diagnostic names.
func TestEncryptionName(t *testing.T) {
	testCases := []struct {
		value uint8
		want  string
	}{
		{prelogin.EncryptOff, "OFF"},
		{prelogin.EncryptOn, "ON"},
		{prelogin.EncryptNotSupported, "NOT_SUPPORTED"},
		{prelogin.EncryptRequired, "REQUIRED"},
		{0x7F, "UNKNOWN"},
	}
	for _, tc := range testCases {
		if got := prelogin.EncryptionName(tc.value); got != tc.want {
			t.Errorf("EncryptionName(%d): got %q, want %q", tc.value, got, tc.want)
		}
	}
}
