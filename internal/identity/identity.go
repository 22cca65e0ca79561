// Package identity provides the two cryptographic primitives the
// protocol names but keeps outside its core: manifest signing and the
// chunk MAC key schedule. There is no session establishment here and
// no mutual authentication — a peer either trusts a manifest's
// signature or it doesn't, and the chunk MAC key is derived the same
// way a receiver without this package can derive it too
// (chunkengine.DeriveMACKey). This package exists only to strengthen
// both with a long-lived ed25519 identity when one is available.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrInvalidSignature is returned when a manifest's signature does
// not verify under the claimed public key.
var ErrInvalidSignature = errors.New("identity: invalid manifest signature")

// Identity is a long-lived ed25519 keypair a peer uses to sign the
// manifests it sends.
type Identity struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// Generate creates a fresh ed25519 identity.
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate: %w", err)
	}
	return &Identity{Private: priv, Public: pub}, nil
}

// FromPrivateKey wraps an existing ed25519 private key.
func FromPrivateKey(priv ed25519.PrivateKey) *Identity {
	return &Identity{Private: priv, Public: priv.Public().(ed25519.PublicKey)}
}

// SignManifest signs the canonical encoded bytes of a manifest.
// Callers pass the same bytes codec.EncodeManifest produces, signing
// the wire form rather than any in-memory struct representation so
// verification never depends on field ordering or Go types.
func (id *Identity) SignManifest(encodedManifest []byte) []byte {
	return ed25519.Sign(id.Private, encodedManifest)
}

// VerifyManifest reports whether signature is a valid ed25519
// signature of encodedManifest under publicKey.
func VerifyManifest(publicKey ed25519.PublicKey, encodedManifest, signature []byte) error {
	if len(publicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("identity: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(publicKey))
	}
	if !ed25519.Verify(publicKey, encodedManifest, signature) {
		return ErrInvalidSignature
	}
	return nil
}

const macKeyInfoString = "meshxfer-v1-chunk-mac"

// StrengthenMACKey runs the baseline chunk MAC key (SHA-256(file_id),
// see chunkengine.DeriveMACKey) through HKDF with the sender's
// identity as extra input key material, producing a key an observer
// who knows only file_id cannot reproduce. Both peers must have
// exchanged or agree on senderSecret out of band; this is a key
// *strengthening* step, not a substitute for the baseline key — a
// receiver that never calls this still verifies chunk MACs correctly
// against the baseline key, it just gets weaker binding to the
// sender's identity.
func StrengthenMACKey(baselineKey [32]byte, senderSecret []byte) ([32]byte, error) {
	var out [32]byte
	r := hkdf.New(sha256.New, append(baselineKey[:0:0], baselineKey[:]...), senderSecret, []byte(macKeyInfoString))
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, fmt.Errorf("identity: HKDF key strengthening: %w", err)
	}
	return out, nil
}
