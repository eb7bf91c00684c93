package secure

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
)

// ParsePrivateKey decodes a P-256 root key. Accepted forms:
//   - 32 raw bytes
//   - 64 hex characters
//   - PEM "EC PRIVATE KEY" (SEC 1) or "PRIVATE KEY" (PKCS #8)
func ParsePrivateKey(data []byte) (PrivateKey, error) {
	suite := P256()

	if len(data) == scalarSize {
		return suite.ParsePrivateKey(data)
	}

	trimmed := bytes.TrimSpace(data)
	if block, _ := pem.Decode(trimmed); block != nil {
		raw, err := pemScalar(block)
		if err != nil {
			return nil, err
		}
		return suite.ParsePrivateKey(raw)
	}

	text := strings.TrimPrefix(strings.ToLower(string(trimmed)), "0x")
	raw, err := hex.DecodeString(text)
	if err != nil {
		return nil, &KeyError{What: "root key", Reason: "not raw, hex or PEM encoded"}
	}
	return suite.ParsePrivateKey(raw)
}

// LoadPrivateKeyFile reads and parses a root key file.
func LoadPrivateKeyFile(path string) (PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return ParsePrivateKey(data)
}

func pemScalar(block *pem.Block) ([]byte, error) {
	var key *ecdsa.PrivateKey

	switch block.Type {
	case "EC PRIVATE KEY":
		k, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, &KeyError{What: "root key", Reason: err.Error()}
		}
		key = k
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, &KeyError{What: "root key", Reason: err.Error()}
		}
		ek, ok := k.(*ecdsa.PrivateKey)
		if !ok {
			return nil, &KeyError{What: "root key", Reason: "not an ECDSA key"}
		}
		key = ek
	default:
		return nil, &KeyError{What: "root key", Reason: fmt.Sprintf("unsupported PEM block %q", block.Type)}
	}

	if key.Curve.Params().Name != "P-256" {
		return nil, &KeyError{What: "root key", Reason: "curve must be P-256"}
	}

	raw := make([]byte, scalarSize)
	key.D.FillBytes(raw)
	return raw, nil
}
