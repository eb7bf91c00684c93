package secure

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moffa90/go-blefota/protocol"
)

func TestP256Encodings(t *testing.T) {
	suite := P256()
	k, err := suite.GenerateKey()
	require.NoError(t, err)

	assert.Len(t, k.PublicBytes(), protocol.PublicKeySize)

	data := []byte("firmware page")
	sig, err := k.Sign(data)
	require.NoError(t, err)
	assert.Len(t, sig, protocol.SignatureSize)
	assert.True(t, suite.Verify(k.PublicBytes(), data, sig))
	assert.False(t, suite.Verify(k.PublicBytes(), []byte("firmware pagf"), sig))
	assert.False(t, suite.Verify(k.PublicBytes(), data, sig[:10]))

	assert.Len(t, suite.Hash(data), 32)
}

func TestP256SharedSecretAgrees(t *testing.T) {
	suite := P256()
	a, err := suite.GenerateKey()
	require.NoError(t, err)
	b, err := suite.GenerateKey()
	require.NoError(t, err)

	ab, err := a.SharedSecret(b.PublicBytes())
	require.NoError(t, err)
	ba, err := b.SharedSecret(a.PublicBytes())
	require.NoError(t, err)

	assert.Equal(t, ab, ba)
	assert.Len(t, ab, 32)

	_, err = a.SharedSecret([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestParsePrivateKey(t *testing.T) {
	ec, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	raw := make([]byte, 32)
	ec.D.FillBytes(raw)

	sec1, err := x509.MarshalECPrivateKey(ec)
	require.NoError(t, err)
	pkcs8, err := x509.MarshalPKCS8PrivateKey(ec)
	require.NoError(t, err)

	inputs := map[string][]byte{
		"raw":       raw,
		"hex":       []byte(hex.EncodeToString(raw) + "\n"),
		"0x hex":    []byte("0x" + hex.EncodeToString(raw)),
		"sec1 pem":  pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: sec1}),
		"pkcs8 pem": pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}),
	}

	var want []byte
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			k, err := ParsePrivateKey(in)
			require.NoError(t, err)
			if want == nil {
				want = k.PublicBytes()
			}
			assert.Equal(t, want, k.PublicBytes())
		})
	}

	_, err = ParsePrivateKey([]byte("not a key"))
	var ke *KeyError
	assert.ErrorAs(t, err, &ke)

	_, err = ParsePrivateKey(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: []byte{1}}))
	assert.ErrorAs(t, err, &ke)
}

func TestLoadPrivateKeyFile(t *testing.T) {
	raw := make([]byte, 32)
	raw[31] = 0x2A
	path := filepath.Join(t.TempDir(), "root.key")
	require.NoError(t, os.WriteFile(path, []byte(hex.EncodeToString(raw)), 0o600))

	loaded, err := LoadPrivateKeyFile(path)
	require.NoError(t, err)
	assert.Len(t, loaded.PublicBytes(), protocol.PublicKeySize)

	_, err = LoadPrivateKeyFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
