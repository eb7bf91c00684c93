package secure

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/moffa90/go-blefota/protocol"
)

const scalarSize = 32

// P256 returns the NIST P-256 / SHA-256 suite.
//
// Encodings:
//   - public key: X || Y, 32 bytes each, no point prefix
//   - signature:  R || S, 32 bytes each, big-endian
//   - shared secret: ECDH X coordinate
func P256() Suite {
	return p256Suite{}
}

type p256Suite struct{}

type p256Key struct {
	sign *ecdsa.PrivateKey
	kex  *ecdh.PrivateKey
	pub  []byte
}

func (p256Suite) GenerateKey() (PrivateKey, error) {
	k, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return newP256Key(k)
}

func (p256Suite) ParsePrivateKey(raw []byte) (PrivateKey, error) {
	if len(raw) != scalarSize {
		return nil, &KeyError{What: "private key", Reason: fmt.Sprintf("expected %d bytes, got %d", scalarSize, len(raw))}
	}
	k, err := ecdh.P256().NewPrivateKey(raw)
	if err != nil {
		return nil, &KeyError{What: "private key", Reason: err.Error()}
	}
	return newP256Key(k)
}

func (p256Suite) Hash(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

func (p256Suite) Verify(pub, data, sig []byte) bool {
	if len(sig) != protocol.SignatureSize {
		return false
	}
	key, err := ecdsaPublicKey(pub)
	if err != nil {
		return false
	}
	r := new(big.Int).SetBytes(sig[:scalarSize])
	s := new(big.Int).SetBytes(sig[scalarSize:])
	digest := sha256.Sum256(data)
	return ecdsa.Verify(key, digest[:], r, s)
}

func newP256Key(k *ecdh.PrivateKey) (PrivateKey, error) {
	// Bytes() is 0x04 || X || Y
	pub := k.PublicKey().Bytes()[1:]
	pk, err := ecdsaPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return &p256Key{
		sign: &ecdsa.PrivateKey{PublicKey: *pk, D: new(big.Int).SetBytes(k.Bytes())},
		kex:  k,
		pub:  pub,
	}, nil
}

func (k *p256Key) PublicBytes() []byte {
	return append([]byte(nil), k.pub...)
}

func (k *p256Key) Sign(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	r, s, err := ecdsa.Sign(rand.Reader, k.sign, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	sig := make([]byte, protocol.SignatureSize)
	r.FillBytes(sig[:scalarSize])
	s.FillBytes(sig[scalarSize:])
	return sig, nil
}

func (k *p256Key) SharedSecret(peerPub []byte) ([]byte, error) {
	peer, err := ecdhPublicKey(peerPub)
	if err != nil {
		return nil, err
	}
	secret, err := k.kex.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("key agreement: %w", err)
	}
	return secret, nil
}

func ecdhPublicKey(pub []byte) (*ecdh.PublicKey, error) {
	if len(pub) != protocol.PublicKeySize {
		return nil, &KeyError{What: "public key", Reason: fmt.Sprintf("expected %d bytes, got %d", protocol.PublicKeySize, len(pub))}
	}
	key, err := ecdh.P256().NewPublicKey(append([]byte{0x04}, pub...))
	if err != nil {
		return nil, &KeyError{What: "public key", Reason: err.Error()}
	}
	return key, nil
}

func ecdsaPublicKey(pub []byte) (*ecdsa.PublicKey, error) {
	// validates the point is on the curve
	if _, err := ecdhPublicKey(pub); err != nil {
		return nil, err
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(pub[:scalarSize]),
		Y:     new(big.Int).SetBytes(pub[scalarSize:]),
	}, nil
}
