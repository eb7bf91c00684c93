package secure

// Suite is the set of cryptographic services used by the session.
// Public keys and signatures use the fixed-size encodings the firmware expects.
type Suite interface {
	// GenerateKey creates a fresh ephemeral key pair.
	GenerateKey() (PrivateKey, error)

	// ParsePrivateKey decodes a raw private scalar.
	ParsePrivateKey(raw []byte) (PrivateKey, error)

	// Hash digests data.
	Hash(data []byte) []byte

	// Verify checks sig over data against a public key.
	Verify(pub, data, sig []byte) bool
}

// PrivateKey is a signing and key-agreement key.
type PrivateKey interface {
	// PublicBytes returns the encoded public key.
	PublicBytes() []byte

	// Sign signs data (hashed by the implementation).
	Sign(data []byte) ([]byte, error)

	// SharedSecret performs key agreement with an encoded peer public key.
	SharedSecret(peerPub []byte) ([]byte, error)
}

// DeriveKey computes the symmetric session key: the suite hash of the shared
// secret between priv and peerPub.
func DeriveKey(suite Suite, priv PrivateKey, peerPub []byte) ([]byte, error) {
	secret, err := priv.SharedSecret(peerPub)
	if err != nil {
		return nil, err
	}
	return suite.Hash(secret), nil
}
