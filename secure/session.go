package secure

import (
	"fmt"
	"sync"

	"github.com/moffa90/go-blefota/protocol"
)

// Session seals page and metadata payloads before transmission.
// The variant is chosen once per connection and never changes.
type Session interface {
	// Secure reports whether payloads are signed and encrypted.
	Secure() bool

	// SignAndEncryptPage returns the signature over the plaintext page and the
	// bytes to stream. The input is never modified.
	SignAndEncryptPage(page []byte) (sig, payload []byte, err error)

	// SignAndEncryptMetadata seals the metadata body (the metadata without its
	// plaintext header).
	SignAndEncryptMetadata(body []byte) (sig, payload []byte, err error)
}

// Plain returns the unsecured session: no signatures, payloads pass through.
func Plain() Session {
	return plainSession{}
}

type plainSession struct{}

func (plainSession) Secure() bool { return false }

func (plainSession) SignAndEncryptPage(page []byte) ([]byte, []byte, error) {
	return nil, page, nil
}

func (plainSession) SignAndEncryptMetadata(body []byte) ([]byte, []byte, error) {
	return nil, body, nil
}

type handshakeState int

const (
	stateIdle handshakeState = iota
	stateOffered
	stateEstablished
	stateFailed
)

// Handshake is the secure session. It owns one ephemeral key pair for its
// whole lifetime.
type Handshake struct {
	mu    sync.Mutex
	suite Suite
	root  PrivateKey
	local PrivateKey
	peer  []byte
	key   []byte
	state handshakeState
}

// NewHandshake creates a secure session that authenticates with root.
func NewHandshake(suite Suite, root PrivateKey) (*Handshake, error) {
	if suite == nil {
		return nil, fmt.Errorf("suite cannot be nil")
	}
	if root == nil {
		return nil, &KeyError{What: "root key", Reason: "missing"}
	}

	local, err := suite.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("ephemeral key: %w", err)
	}

	return &Handshake{suite: suite, root: root, local: local}, nil
}

// PublicKey returns the local ephemeral public key.
func (h *Handshake) PublicKey() []byte {
	return h.local.PublicBytes()
}

// BeginHandshake records the device public key and returns the payload to write
// back to the public-key characteristic: localPub || sign(root, localPub).
func (h *Handshake) BeginHandshake(peerPub []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != stateIdle {
		return nil, ErrHandshakeState
	}
	if len(peerPub) != protocol.PublicKeySize {
		return nil, &KeyError{
			What:   "peer public key",
			Reason: fmt.Sprintf("expected %d bytes, got %d", protocol.PublicKeySize, len(peerPub)),
		}
	}

	pub := h.local.PublicBytes()
	sig, err := h.root.Sign(pub)
	if err != nil {
		return nil, fmt.Errorf("sign session key: %w", err)
	}

	h.peer = append([]byte(nil), peerPub...)
	h.state = stateOffered

	payload := make([]byte, 0, len(pub)+len(sig))
	payload = append(payload, pub...)
	return append(payload, sig...), nil
}

// CompleteHandshake finishes the exchange after the device status was read.
// On acceptance the symmetric key is derived; on rejection the session becomes
// unusable and ErrHandshakeRejected is returned.
func (h *Handshake) CompleteHandshake(accepted bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != stateOffered {
		return ErrHandshakeState
	}
	if !accepted {
		h.state = stateFailed
		return ErrHandshakeRejected
	}

	key, err := DeriveKey(h.suite, h.local, h.peer)
	if err != nil {
		h.state = stateFailed
		return fmt.Errorf("derive session key: %w", err)
	}

	h.key = key
	h.state = stateEstablished
	return nil
}

// Established reports whether the handshake completed successfully.
func (h *Handshake) Established() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == stateEstablished
}

func (h *Handshake) Secure() bool { return true }

func (h *Handshake) SignAndEncryptPage(page []byte) ([]byte, []byte, error) {
	return h.seal(page)
}

func (h *Handshake) SignAndEncryptMetadata(body []byte) ([]byte, []byte, error) {
	return h.seal(body)
}

func (h *Handshake) seal(data []byte) ([]byte, []byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != stateEstablished {
		return nil, nil, ErrNotEstablished
	}

	sig, err := h.local.Sign(data)
	if err != nil {
		return nil, nil, err
	}
	return sig, XORKeyStream(h.key, data), nil
}
