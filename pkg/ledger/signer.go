package ledger

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zen-systems/pipewarden/pkg/schema"
)

// Signer signs exported ledger segments so a receiver can pin who
// exported them in addition to verifying the chain.
type Signer struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	KeyID      string
}

// NewSigner loads the key for keyID from keyDir, generating and persisting
// one on first use.
func NewSigner(keyDir, keyID string) (*Signer, error) {
	if keyID == "" {
		return nil, fmt.Errorf("key id required")
	}
	if err := os.MkdirAll(keyDir, 0o700); err != nil {
		return nil, err
	}

	keyPath := filepath.Join(keyDir, keyID+".key")
	var privateKey ed25519.PrivateKey

	data, err := os.ReadFile(keyPath)
	if err == nil {
		if len(data) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("invalid private key size for %s", keyID)
		}
		privateKey = ed25519.PrivateKey(data)
	} else {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		privateKey = priv
		if err := os.WriteFile(keyPath, []byte(privateKey), 0o600); err != nil {
			return nil, err
		}
	}

	return &Signer{
		PrivateKey: privateKey,
		PublicKey:  privateKey.Public().(ed25519.PublicKey),
		KeyID:      keyID,
	}, nil
}

// Sign attaches a signature computed over the segment with Signature nil.
func (s *Signer) Sign(segment *Segment) error {
	if segment == nil {
		return fmt.Errorf("segment required")
	}
	if err := segment.Verify(); err != nil {
		return err
	}

	payload := *segment
	payload.Signature = nil
	data, err := json.Marshal(&payload)
	if err != nil {
		return err
	}

	segment.Signature = &Signature{
		Alg:      schema.SignatureAlgEd25519,
		PubKeyID: s.KeyID,
		Sig:      base64.StdEncoding.EncodeToString(ed25519.Sign(s.PrivateKey, data)),
	}
	return nil
}

// VerifySignature checks the attached signature against pub.
func (s *Segment) VerifySignature(pub ed25519.PublicKey) error {
	if s.Signature == nil {
		return fmt.Errorf("segment is unsigned")
	}
	if s.Signature.Alg != schema.SignatureAlgEd25519 {
		return fmt.Errorf("signature alg must be %q", schema.SignatureAlgEd25519)
	}

	payload := *s
	payload.Signature = nil
	data, err := json.Marshal(&payload)
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(s.Signature.Sig)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if !ed25519.Verify(pub, data, sig) {
		return fmt.Errorf("invalid segment signature")
	}
	return nil
}

// LoadPublicKey reads the public half of a stored signing key.
func LoadPublicKey(keyDir, keyID string) (ed25519.PublicKey, error) {
	if keyID == "" {
		return nil, fmt.Errorf("key id required")
	}
	data, err := os.ReadFile(filepath.Join(keyDir, keyID+".key"))
	if err != nil {
		return nil, err
	}
	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size for %s", keyID)
	}
	return ed25519.PrivateKey(data).Public().(ed25519.PublicKey), nil
}
