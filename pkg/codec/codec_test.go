package codec

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/harrisonrobin/wurk2do/pkg/model"
)

const identity = "someone@example.com"

// Low iteration count keeps key derivation fast in tests.
func newTestCodec(opts Options) *Codec {
	opts.Iterations = 1000
	return New(opts)
}

func samplePayload(t *testing.T) []byte {
	t.Helper()
	c := model.NewCollection(time.UnixMilli(1700000000000))
	c.Tasks[model.Monday] = []model.TaskRecord{
		{ID: "task_1", Text: "9 AM - Standup", Priority: 2, EstimatedHours: 0.5, CreatedAt: 1, LastModified: 2},
	}
	c.Tasks[model.Friday] = []model.TaskRecord{
		{ID: "task_2", Text: "Ship <release> & relax", Completed: true, CreatedAt: 3, LastModified: 4},
	}
	b, err := model.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return b
}

func TestRoundTrip(t *testing.T) {
	payload := samplePayload(t)
	tests := []struct {
		name string
		opts Options
	}{
		{"plain", Options{Format: FormatPlain}},
		{"envelope uncompressed", Options{Format: FormatEnvelope}},
		{"envelope gzip", Options{Format: FormatEnvelope, Compress: true}},
		{"envelope aes", Options{Format: FormatEnvelope, Encrypt: true}},
		{"envelope gzip+aes", Options{Format: FormatEnvelope, Compress: true, Encrypt: true}},
		{"legacy encrypted", Options{Format: FormatLegacyEncrypted}},
		{"legacy encrypted compressed", Options{Format: FormatLegacyEncryptedCompressed}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCodec(tt.opts)
			wire, err := c.Encode(payload, identity)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			got, err := c.Decode(wire, identity)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if string(got) != string(payload) {
				t.Errorf("round trip mismatch:\nwant %s\ngot  %s", payload, got)
			}
		})
	}
}

func TestLegacyFormatsDecodeToSameCollection(t *testing.T) {
	payload := samplePayload(t)
	reader := newTestCodec(Options{})

	plain := string(payload)
	encrypted, err := reader.Encrypt(payload, identity)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	compressed, err := Compress(payload)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	encryptedCompressed, err := reader.Encrypt([]byte(compressed), identity)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	want, err := model.Unmarshal(payload)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	for name, wire := range map[string]string{
		"plain":                plain,
		"encrypted":            encrypted,
		"encrypted+compressed": encryptedCompressed,
	} {
		got, err := reader.DecodeCollection(wire, identity, time.Now())
		if err != nil {
			t.Fatalf("%s: DecodeCollection failed: %v", name, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("%s: collection mismatch (-want +got):\n%s", name, diff)
		}
	}
}

func TestDecodeWrongKeyFails(t *testing.T) {
	c := newTestCodec(Options{Format: FormatLegacyEncrypted})
	wire, err := c.Encode(samplePayload(t), identity)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	_, err = c.Decode(wire, "other@example.com")
	if !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt, got %v", err)
	}
	_, err = c.DecodeCollection(wire, "other@example.com", time.Now())
	if !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected DecodeCollection to surface ErrDecrypt, got %v", err)
	}
}

func TestDecodeEnvelopeWrongKeyFails(t *testing.T) {
	c := newTestCodec(Options{Format: FormatEnvelope, Encrypt: true})
	wire, err := c.Encode(samplePayload(t), identity)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := c.Decode(wire, "other@example.com"); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt, got %v", err)
	}
}

func TestDecodeTruncatedNonceFails(t *testing.T) {
	c := newTestCodec(Options{})
	wire := base64.StdEncoding.EncodeToString([]byte("short"))
	if _, err := c.Decode(wire, identity); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt, got %v", err)
	}
}

func TestDecodeEncryptedWithoutIdentity(t *testing.T) {
	c := newTestCodec(Options{Format: FormatLegacyEncrypted})
	wire, _ := c.Encode(samplePayload(t), identity)
	if _, err := c.Decode(wire, ""); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}
}

func TestDecodeCollectionGarbageIsEmpty(t *testing.T) {
	c := newTestCodec(Options{})
	now := time.UnixMilli(42)
	for _, wire := range []string{"", "not json at all!", `["array"]`, `"string"`} {
		got, err := c.DecodeCollection(wire, identity, now)
		if err != nil {
			t.Fatalf("%q: expected no error, got %v", wire, err)
		}
		if got.TaskCount() != 0 || got.LastModified != 42 {
			t.Errorf("%q: expected empty collection stamped now, got %+v", wire, got)
		}
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	c := newTestCodec(Options{})
	a, _ := c.Encrypt([]byte("same"), identity)
	b, _ := c.Encrypt([]byte("same"), identity)
	if a == b {
		t.Errorf("expected distinct ciphertexts for repeated encryption")
	}
}

func TestIsEncrypted(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"", false},
		{`{"tasks":{}}`, false},
		{"QUJDRA==", true},
		{"  QUJDRA==\n", true},
		{"not base64!", false},
		// Known ambiguity: a bare word is valid base64 and not JSON.
		{"hello", true},
		{"12345", false},
	}
	for _, tt := range tests {
		if got := IsEncrypted(tt.in); got != tt.want {
			t.Errorf("IsEncrypted(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEnvelopeCarriesMarker(t *testing.T) {
	c := newTestCodec(Options{Format: FormatEnvelope, Compress: true})
	wire, err := c.Encode([]byte(`{"tasks":{}}`), identity)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.Contains(wire, `"format":"wurk2do-envelope"`) || !strings.Contains(wire, `"gzip"`) {
		t.Errorf("expected marked envelope, got %s", wire)
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat(""); err != nil || f != FormatPlain {
		t.Errorf("expected plain default, got %q %v", f, err)
	}
	if f, err := ParseFormat("Envelope"); err != nil || f != FormatEnvelope {
		t.Errorf("expected envelope, got %q %v", f, err)
	}
	if _, err := ParseFormat("zip"); err == nil {
		t.Errorf("expected error for unknown format")
	}
}

func TestForgetDropsDerivedKeys(t *testing.T) {
	c := New(Options{Format: FormatLegacyEncrypted, Iterations: 1000})
	if _, err := c.Encode([]byte(`{"tasks":{}}`), "someone@example.com"); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(c.keys) != 1 {
		t.Fatalf("expected one cached key, got %d", len(c.keys))
	}
	c.Forget()
	if len(c.keys) != 0 {
		t.Errorf("expected key cache empty after Forget, got %d", len(c.keys))
	}
}
