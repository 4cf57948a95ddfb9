// Package signing signs webhook notifications with Ed25519 in the NaCl
// combined form: signature followed by the message, hex encoded on the wire.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/nacl/sign"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

// ErrInvalidSignature indicates a signed message failed verification
var ErrInvalidSignature = errors.New("invalid signature")

// Signer implements simplemedia.Signer with an Ed25519 key
type Signer struct {
	private *[ed25519.PrivateKeySize]byte
	public  *[ed25519.PublicKeySize]byte
}

// NewSigner derives a signer from a 32-byte seed
func NewSigner(seed []byte) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	key := ed25519.NewKeyFromSeed(seed)
	s := &Signer{
		private: new([ed25519.PrivateKeySize]byte),
		public:  new([ed25519.PublicKeySize]byte),
	}
	copy(s.private[:], key)
	copy(s.public[:], key.Public().(ed25519.PublicKey))
	return s, nil
}

// NewSignerFromHex derives a signer from a hex-encoded seed
func NewSignerFromHex(seedHex string) (*Signer, error) {
	seed, err := hex.DecodeString(strings.TrimSpace(seedHex))
	if err != nil {
		return nil, fmt.Errorf("invalid seed: %w", err)
	}
	return NewSigner(seed)
}

// GenerateSeed returns a new random seed and its public key, both hex encoded
func GenerateSeed() (seedHex, publicKeyHex string, err error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return "", "", err
	}
	s, err := NewSigner(seed)
	if err != nil {
		return "", "", err
	}
	return hex.EncodeToString(seed), hex.EncodeToString(s.PublicKey()), nil
}

// Sign returns the detached signature of message
func (s *Signer) Sign(message []byte) ([]byte, error) {
	signed := sign.Sign(nil, message, s.private)
	return append([]byte(nil), signed[:sign.Overhead]...), nil
}

// PublicKey returns the raw public key
func (s *Signer) PublicKey() []byte {
	return append([]byte(nil), s.public[:]...)
}

// Open verifies a signed message with publicKey and returns the message.
func Open(publicKey, signed []byte) ([]byte, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(publicKey))
	}
	var pub [ed25519.PublicKeySize]byte
	copy(pub[:], publicKey)

	message, ok := sign.Open(nil, signed, &pub)
	if !ok {
		return nil, ErrInvalidSignature
	}
	return message, nil
}

// OpenHex verifies the hex-encoded signed_notification of a webhook body.
func OpenHex(publicKeyHex, signedHex string) ([]byte, error) {
	publicKey, err := hex.DecodeString(strings.TrimSpace(publicKeyHex))
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	signed, err := hex.DecodeString(strings.TrimSpace(signedHex))
	if err != nil {
		return nil, fmt.Errorf("invalid signed message: %w", err)
	}
	return Open(publicKey, signed)
}

var _ simplemedia.Signer = (*Signer)(nil)
