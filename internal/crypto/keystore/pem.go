package keystore

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

var (
	ErrNoCertificate = errors.New("no certificate found in PEM file")
	ErrNoPrivateKey  = errors.New("no private key found in PEM file")
	ErrKeyMismatch   = errors.New("private key does not match certificate")
)

func LoadCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, ErrNoCertificate
		}
		if block.Type == "CERTIFICATE" {
			return x509.ParseCertificate(block.Bytes)
		}
	}
}

// LoadPEM reads the certificate and private key files the openssl-based
// workflow uses (PKCS#1, PKCS#8 or SEC1 keys).
func LoadPEM(certPath, keyPath string) (crypto.Signer, *x509.Certificate, error) {
	cert, err := LoadCertificate(certPath)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := parsePrivateKey(data)
	if err != nil {
		return nil, nil, err
	}
	if err := matchKey(signer, cert); err != nil {
		return nil, nil, err
	}
	return signer, cert, nil
}

func parsePrivateKey(data []byte) (crypto.Signer, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, ErrNoPrivateKey
		}
		var (
			key any
			err error
		)
		switch block.Type {
		case "RSA PRIVATE KEY":
			key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
		case "EC PRIVATE KEY":
			key, err = x509.ParseECPrivateKey(block.Bytes)
		case "PRIVATE KEY":
			key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return verifySigner(key)
	}
}

func verifySigner(priv any) (crypto.Signer, error) {
	signer, ok := priv.(crypto.Signer)
	if !ok {
		return nil, errors.New("parsed private key does not support signing")
	}
	return signer, nil
}

type equaler interface {
	Equal(crypto.PublicKey) bool
}

func matchKey(signer crypto.Signer, cert *x509.Certificate) error {
	pub, ok := signer.Public().(equaler)
	if !ok || !pub.Equal(cert.PublicKey) {
		return ErrKeyMismatch
	}
	return nil
}
