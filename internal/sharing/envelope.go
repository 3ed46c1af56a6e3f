package sharing

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/nacl/box"

	dErrors "vigil/pkg/domain-errors"
)

// KeyPair is a guardian's envelope key pair.
type KeyPair struct {
	Public  *[32]byte
	Private *[32]byte
}

func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, dErrors.Wrap(err, dErrors.CodeInternal, "generate envelope key")
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// Seal encrypts a share to a guardian's public key. Only the holder of the
// matching private key can open it; the sender keeps no key material.
func Seal(s Share, recipient *[32]byte) ([]byte, error) {
	if recipient == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "recipient key is required")
	}
	sealed, err := box.SealAnonymous(nil, []byte(Encode(s)), recipient, rand.Reader)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "seal share")
	}
	return sealed, nil
}

// Open decrypts an envelope produced by Seal.
func Open(sealed []byte, kp KeyPair) (Share, error) {
	if kp.Public == nil || kp.Private == nil {
		return Share{}, dErrors.New(dErrors.CodeInvalidInput, "key pair is incomplete")
	}
	plain, ok := box.OpenAnonymous(nil, sealed, kp.Public, kp.Private)
	if !ok {
		return Share{}, dErrors.New(dErrors.CodeInvalidShareFormat, "envelope cannot be opened with this key")
	}
	return Parse(string(plain))
}

// EncodeKey renders a 32-byte key as hex.
func EncodeKey(k *[32]byte) string {
	return hex.EncodeToString(k[:])
}

func DecodeKey(text string) (*[32]byte, error) {
	raw, err := hex.DecodeString(text)
	if err != nil || len(raw) != 32 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("key must be 64 hex characters, got %d", len(text)))
	}
	var k [32]byte
	copy(k[:], raw)
	return &k, nil
}
