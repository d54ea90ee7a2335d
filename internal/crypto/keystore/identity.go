package keystore

import (
	"context"
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/vocdoni/gofirma/afipws/internal/model"
)

// Identity is the certificate registered with the identity service plus the
// key able to sign for it.
type Identity struct {
	Cert           *x509.Certificate
	Chain          []*x509.Certificate
	Fingerprint256 [32]byte
	Signer         crypto.Signer
}

// Source names where the key material lives. Exactly one of PEM files, a
// PKCS#12 bundle or a PKCS#11 token must be set.
type Source struct {
	CertPath string
	KeyPath  string

	PKCS12Path     string
	PKCS12Password string

	PKCS11 *PKCS11Config
}

type PKCS11Config struct {
	ModulePath string
	Slot       uint
	PIN        string
	KeyLabel   string
}

var ErrNoKeyMaterial = errors.New("no key material configured")

// Fingerprint returns the SHA-256 fingerprint for a certificate.
func Fingerprint(cert *x509.Certificate) [32]byte {
	return sha256.Sum256(cert.Raw)
}

// Load resolves src into an Identity.
func Load(ctx context.Context, src Source) (*Identity, error) {
	var (
		signer crypto.Signer
		cert   *x509.Certificate
		chain  []*x509.Certificate
		err    error
	)
	switch {
	case src.PKCS12Path != "":
		f, openErr := os.Open(src.PKCS12Path)
		if openErr != nil {
			return nil, fmt.Errorf("open pkcs12 bundle: %w", openErr)
		}
		defer f.Close()
		signer, cert, chain, err = ParsePKCS12(f, src.PKCS12Password)
	case src.PKCS11 != nil && src.CertPath != "":
		cert, err = LoadCertificate(src.CertPath)
		if err == nil {
			signer, err = NewPKCS11Signer(ctx, *src.PKCS11, cert.PublicKey)
		}
	case src.CertPath != "" && src.KeyPath != "":
		signer, cert, err = LoadPEM(src.CertPath, src.KeyPath)
	default:
		return nil, model.NewError(model.ErrConfiguration, "", ErrNoKeyMaterial)
	}
	if err != nil {
		return nil, err
	}
	return &Identity{
		Cert:           cert,
		Chain:          chain,
		Fingerprint256: Fingerprint(cert),
		Signer:         signer,
	}, nil
}
