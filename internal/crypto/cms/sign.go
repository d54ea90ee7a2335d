package cms

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"fmt"

	"github.com/smallstep/pkcs7"
	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/afipws/internal/model"
)

// Signer turns a document into a CMS SignedData blob with the document
// encapsulated.
type Signer interface {
	Sign(ctx context.Context, content []byte) ([]byte, error)
}

// PKCS7Signer signs in-process with a key held by a crypto.Signer (software
// key, PKCS#11 token...).
type PKCS7Signer struct {
	Key    crypto.Signer
	Cert   *x509.Certificate
	Chain  []*x509.Certificate
	Logger *zap.Logger
}

func NewPKCS7Signer(key crypto.Signer, cert *x509.Certificate, chain []*x509.Certificate, logger *zap.Logger) *PKCS7Signer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PKCS7Signer{Key: key, Cert: cert, Chain: chain, Logger: logger}
}

// Sign creates an attached (nodetach) SHA-256 CMS signature over content.
func (s *PKCS7Signer) Sign(ctx context.Context, content []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, signingError(err)
	}
	if s.Key == nil || s.Cert == nil {
		return nil, signingError(fmt.Errorf("signer has no key or certificate"))
	}
	s.Logger.Debug("starting CMS signing",
		zap.Int("content_len", len(content)),
		zap.String("subject", s.Cert.Subject.CommonName))

	sd, err := pkcs7.NewSignedData(content)
	if err != nil {
		return nil, signingError(fmt.Errorf("failed to create signed data: %w", err))
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)

	signingCertV2Bytes, err := signingCertificateV2(s.Cert)
	if err != nil {
		return nil, signingError(fmt.Errorf("failed to marshal signingCertificateV2: %w", err))
	}
	config := pkcs7.SignerInfoConfig{
		ExtraSignedAttributes: []pkcs7.Attribute{{
			Type:  OidSigningCertificateV2,
			Value: asn1.RawValue{FullBytes: signingCertV2Bytes},
		}},
	}
	if err := sd.AddSigner(s.Cert, s.Key, config); err != nil {
		return nil, signingError(fmt.Errorf("failed to add signer: %w", err))
	}
	for _, c := range s.Chain {
		sd.AddCertificate(c)
	}

	der, err := sd.Finish()
	if err != nil {
		return nil, signingError(fmt.Errorf("failed to finish signature: %w", err))
	}
	s.Logger.Debug("CMS signing complete", zap.Int("signature_len", len(der)))
	return der, nil
}

// Verify checks a CMS signature and returns the encapsulated content and the
// signer certificate.
func Verify(der []byte) ([]byte, *x509.Certificate, error) {
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, nil, fmt.Errorf("parse CMS: %w", err)
	}
	if err := p7.Verify(); err != nil {
		return nil, nil, fmt.Errorf("verify CMS: %w", err)
	}
	return p7.Content, p7.GetOnlySigner(), nil
}

func signingError(err error) error {
	return model.NewError(model.ErrSigningFailure, "", err)
}
