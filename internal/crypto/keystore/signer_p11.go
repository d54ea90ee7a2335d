//go:build cgo

package keystore

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"io"
	"math/big"
	"sync"

	"github.com/miekg/pkcs11"
)

type digestInfo struct {
	Algorithm pkix.AlgorithmIdentifier
	Digest    []byte
}

var (
	oidSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidSHA1   = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	oidSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	oidSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
)

// digestInfoPrefix returns the DER DigestInfo header CKM_RSA_PKCS expects in
// front of the raw digest.
func digestInfoPrefix(hash crypto.Hash) ([]byte, error) {
	var oid asn1.ObjectIdentifier
	switch hash {
	case crypto.SHA256:
		oid = oidSHA256
	case crypto.SHA1:
		oid = oidSHA1
	case crypto.SHA384:
		oid = oidSHA384
	case crypto.SHA512:
		oid = oidSHA512
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %v", hash)
	}
	full, err := asn1.Marshal(digestInfo{
		Algorithm: pkix.AlgorithmIdentifier{Algorithm: oid, Parameters: asn1.NullRawValue},
		Digest:    make([]byte, hash.Size()),
	})
	if err != nil {
		return nil, err
	}
	return full[:len(full)-hash.Size()], nil
}

// PKCS11Signer signs with a private key that never leaves a hardware token.
type PKCS11Signer struct {
	cfg       PKCS11Config
	publicKey crypto.PublicKey

	mu  sync.Mutex
	ctx *pkcs11.Ctx
}

func NewPKCS11Signer(_ context.Context, cfg PKCS11Config, pub crypto.PublicKey) (crypto.Signer, error) {
	p := pkcs11.New(cfg.ModulePath)
	if p == nil {
		return nil, fmt.Errorf("failed to load PKCS#11 module %s", cfg.ModulePath)
	}
	if err := p.Initialize(); err != nil {
		p.Destroy()
		return nil, fmt.Errorf("initialize PKCS#11 module: %w", err)
	}
	return &PKCS11Signer{cfg: cfg, publicKey: pub, ctx: p}, nil
}

func (s *PKCS11Signer) Public() crypto.PublicKey {
	return s.publicKey
}

func (s *PKCS11Signer) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.ctx.OpenSession(s.cfg.Slot, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return nil, fmt.Errorf("open session on slot %d: %w", s.cfg.Slot, err)
	}
	defer s.ctx.CloseSession(session)

	if s.cfg.PIN != "" {
		if err := s.ctx.Login(session, pkcs11.CKU_USER, s.cfg.PIN); err != nil {
			return nil, fmt.Errorf("token login: %w", err)
		}
		defer s.ctx.Logout(session)
	}

	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
	}
	if s.cfg.KeyLabel != "" {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_LABEL, s.cfg.KeyLabel))
	}
	if err := s.ctx.FindObjectsInit(session, template); err != nil {
		return nil, err
	}
	objs, _, err := s.ctx.FindObjects(session, 1)
	s.ctx.FindObjectsFinal(session)
	if err != nil || len(objs) == 0 {
		return nil, fmt.Errorf("private key %q not found in slot %d", s.cfg.KeyLabel, s.cfg.Slot)
	}

	var mechanism *pkcs11.Mechanism
	switch s.publicKey.(type) {
	case *rsa.PublicKey:
		mechanism = pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil)
		prefix, err := digestInfoPrefix(opts.HashFunc())
		if err != nil {
			return nil, err
		}
		digest = append(prefix, digest...)
	case *ecdsa.PublicKey:
		mechanism = pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil)
	default:
		return nil, fmt.Errorf("unsupported key type %T", s.publicKey)
	}

	if err := s.ctx.SignInit(session, []*pkcs11.Mechanism{mechanism}, objs[0]); err != nil {
		return nil, fmt.Errorf("sign init: %w", err)
	}
	sig, err := s.ctx.Sign(session, digest)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	if _, ok := s.publicKey.(*ecdsa.PublicKey); ok {
		// Tokens return r||s; x509 consumers want the ASN.1 form.
		if len(sig)%2 != 0 {
			return nil, fmt.Errorf("invalid ECDSA signature length")
		}
		n := len(sig) / 2
		return asn1.Marshal(struct{ R, S *big.Int }{
			new(big.Int).SetBytes(sig[:n]),
			new(big.Int).SetBytes(sig[n:]),
		})
	}
	return sig, nil
}

// Close finalizes the module.
func (s *PKCS11Signer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.ctx.Finalize()
	s.ctx.Destroy()
	return err
}
