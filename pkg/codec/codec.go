// Package codec turns a plaintext collection payload into the string stored
// remotely and back.
//
// Three legacy layouts exist in the wild and must keep decoding:
//
//	plain JSON                    current default, written as-is
//	base64(nonce|AES-GCM(json))   encrypted only
//	base64(nonce|AES-GCM(b64gz))  encrypted, the plaintext being base64(gzip(json))
//
// New compressed or encrypted writes are wrapped in a JSON envelope carrying an
// explicit format marker so readers no longer have to guess.
package codec

import (
	"bytes"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/harrisonrobin/wurk2do/pkg/model"
)

const (
	// DefaultSalt is the application salt used for key derivation.
	DefaultSalt = "wurk2do-encryption-salt-v1"
	// DefaultIterations is the PBKDF2 iteration count.
	DefaultIterations = 100000

	nonceSize = 12
	keySize   = 32

	envelopeMarker  = "wurk2do-envelope"
	envelopeVersion = 2

	encodingGzip = "gzip"
	encodingAES  = "aes-256-gcm"
)

var (
	// ErrDecrypt means the payload could not be decrypted: wrong key,
	// corrupted ciphertext or a truncated nonce.
	ErrDecrypt = errors.New("failed to decrypt data - data may be corrupted or key mismatch")
	// ErrNoIdentity means an encrypted payload was met without an account identity.
	ErrNoIdentity = errors.New("no account identity for encryption key")
)

var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]+=*$`)

// Format selects how Encode writes payloads.
type Format string

const (
	FormatPlain                     Format = "plain"
	FormatEnvelope                  Format = "envelope"
	FormatLegacyEncrypted           Format = "legacy-encrypted"
	FormatLegacyEncryptedCompressed Format = "legacy-encrypted-compressed"
)

// ParseFormat validates a configured format name. Empty means plain.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatPlain, nil
	case FormatPlain, FormatEnvelope, FormatLegacyEncrypted, FormatLegacyEncryptedCompressed:
		return f, nil
	default:
		return "", fmt.Errorf("unknown wire format %q", s)
	}
}

// Options configures a Codec.
type Options struct {
	Format Format
	// Compress and Encrypt apply to FormatEnvelope only.
	Compress   bool
	Encrypt    bool
	Salt       string
	Iterations int
}

// Codec encodes and decodes wire payloads. Derived keys are cached per identity.
type Codec struct {
	opts Options

	mu   sync.Mutex
	keys map[string][]byte
}

// New returns a Codec, filling unset options with defaults.
func New(opts Options) *Codec {
	if opts.Format == "" {
		opts.Format = FormatPlain
	}
	if opts.Salt == "" {
		opts.Salt = DefaultSalt
	}
	if opts.Iterations <= 0 {
		opts.Iterations = DefaultIterations
	}
	return &Codec{opts: opts, keys: make(map[string][]byte)}
}

type envelope struct {
	Format   string   `json:"format"`
	Version  int      `json:"version"`
	Encoding []string `json:"encoding"`
	Payload  string   `json:"payload"`
}

// Encode turns a plaintext payload into the string written remotely.
func (c *Codec) Encode(plain []byte, identity string) (string, error) {
	switch c.opts.Format {
	case FormatPlain:
		return string(plain), nil
	case FormatLegacyEncrypted:
		return c.Encrypt(plain, identity)
	case FormatLegacyEncryptedCompressed:
		compressed, err := Compress(plain)
		if err != nil {
			return "", err
		}
		return c.Encrypt([]byte(compressed), identity)
	case FormatEnvelope:
		return c.encodeEnvelope(plain, identity)
	default:
		return "", fmt.Errorf("unknown wire format %q", c.opts.Format)
	}
}

func (c *Codec) encodeEnvelope(plain []byte, identity string) (string, error) {
	env := envelope{Format: envelopeMarker, Version: envelopeVersion, Encoding: []string{}}
	data := plain
	if c.opts.Compress {
		gz, err := gzipBytes(data)
		if err != nil {
			return "", err
		}
		data = gz
		env.Encoding = append(env.Encoding, encodingGzip)
	}
	if c.opts.Encrypt {
		sealed, err := c.seal(data, identity)
		if err != nil {
			return "", err
		}
		data = sealed
		env.Encoding = append(env.Encoding, encodingAES)
	}
	env.Payload = base64.StdEncoding.EncodeToString(data)
	b, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to encode envelope: %w", err)
	}
	return string(b), nil
}

// Decode reverses Encode for any format ever written. Detection order:
// valid JSON first (envelope or plain), then the legacy encrypted layouts.
// A decryption failure is returned as ErrDecrypt.
func (c *Codec) Decode(wire string, identity string) ([]byte, error) {
	if json.Valid([]byte(wire)) {
		var env envelope
		if err := json.Unmarshal([]byte(wire), &env); err == nil && env.Format == envelopeMarker {
			return c.decodeEnvelope(env, identity)
		}
		return []byte(wire), nil
	}

	if !IsEncrypted(wire) {
		return []byte(wire), nil
	}

	decrypted, err := c.Decrypt(strings.TrimSpace(wire), identity)
	if err != nil {
		return nil, err
	}
	// Encrypted+compressed legacy payloads hold base64(gzip(json)) once
	// decrypted; when that does not inflate the bytes are plain JSON.
	if inflated, err := Decompress(string(decrypted)); err == nil {
		return inflated, nil
	}
	return decrypted, nil
}

func (c *Codec) decodeEnvelope(env envelope, identity string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("invalid envelope payload: %w", err)
	}
	for i := len(env.Encoding) - 1; i >= 0; i-- {
		switch env.Encoding[i] {
		case encodingAES:
			data, err = c.open(data, identity)
		case encodingGzip:
			data, err = gunzipBytes(data)
		default:
			err = fmt.Errorf("unknown envelope encoding %q", env.Encoding[i])
		}
		if err != nil {
			return nil, err
		}
	}
	return data, nil
}

// DecodeCollection decodes a wire payload into a collection. Decryption errors
// are returned; content that still is not a collection after every decode
// attempt degrades to an empty collection stamped with now.
func (c *Codec) DecodeCollection(wire string, identity string, now time.Time) (*model.WeeklyTaskCollection, error) {
	plain, err := c.Decode(wire, identity)
	if err != nil {
		return nil, err
	}
	coll, err := model.Unmarshal(plain)
	if err != nil {
		return &model.WeeklyTaskCollection{
			Tasks:        model.Schedule{},
			LastModified: model.Millis(now),
		}, nil
	}
	return coll, nil
}

// IsEncrypted reports whether a payload looks encrypted: not valid JSON and
// made only of base64 characters. This is a heuristic. A non-JSON plaintext
// that happens to use only the base64 alphabet is misclassified as encrypted;
// it is kept because legacy files carry no format marker.
func IsEncrypted(data string) bool {
	if data == "" {
		return false
	}
	if json.Valid([]byte(data)) {
		return false
	}
	return base64Pattern.MatchString(strings.TrimSpace(data))
}

// Encrypt seals plain with a key derived from identity and returns
// base64(nonce|ciphertext).
func (c *Codec) Encrypt(plain []byte, identity string) (string, error) {
	sealed, err := c.seal(plain, identity)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *Codec) Decrypt(encoded string, identity string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return c.open(raw, identity)
}

func (c *Codec) seal(plain []byte, identity string) ([]byte, error) {
	gcm, err := c.aead(identity)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

func (c *Codec) open(raw []byte, identity string) ([]byte, error) {
	gcm, err := c.aead(identity)
	if err != nil {
		return nil, err
	}
	if len(raw) < nonceSize+gcm.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	plain, err := gcm.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plain, nil
}

func (c *Codec) aead(identity string) (cipher.AEAD, error) {
	if identity == "" {
		return nil, ErrNoIdentity
	}
	block, err := aes.NewCipher(c.key(identity))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, nonceSize)
}

func (c *Codec) key(identity string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if k, ok := c.keys[identity]; ok {
		return k
	}
	k := pbkdf2.Key([]byte(identity), []byte(c.opts.Salt), c.opts.Iterations, keySize, sha256.New)
	c.keys[identity] = k
	return k
}

// Forget drops cached keys, used on sign-out.
func (c *Codec) Forget() {
	c.mu.Lock()
	c.keys = make(map[string][]byte)
	c.mu.Unlock()
}

// Compress gzips data and returns it base64 encoded.
func Compress(data []byte) (string, error) {
	gz, err := gzipBytes(data)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(gz), nil
}

// Decompress reverses Compress.
func Decompress(encoded string) ([]byte, error) {
	gz, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	return gunzipBytes(gz)
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress: %w", err)
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	return out, nil
}
