package keystore

import (
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"strings"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

var (
	ErrPasswordRequired = errors.New("certificate password required")
	ErrWrongPassword    = errors.New("certificate password incorrect")
	ErrInvalidFile      = errors.New("invalid certificate file")
)

type decodeChainFunc func(pfxData []byte, password string) (privateKey interface{}, certificate *x509.Certificate, caCerts []*x509.Certificate, err error)

// ParsePKCS12 parses a PKCS#12/PFX identity. Password-less exports are tried
// with the empty password when the supplied one fails.
func ParsePKCS12(r io.Reader, password string) (crypto.Signer, *x509.Certificate, []*x509.Certificate, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, nil, err
	}
	priv, cert, chain, err := decodeWithPasswords(pkcs12.DecodeChain, data, password)
	if err != nil {
		return nil, nil, nil, err
	}
	signer, err := verifySigner(priv)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := matchKey(signer, cert); err != nil {
		return nil, nil, nil, err
	}
	return signer, cert, chain, nil
}

func decodeWithPasswords(decode decodeChainFunc, data []byte, password string) (interface{}, *x509.Certificate, []*x509.Certificate, error) {
	passwords := []string{password}
	if password != "" {
		passwords = append(passwords, "")
	}

	var hasIncorrectPassword bool
	var firstOtherErr error
	for _, pass := range passwords {
		priv, cert, chain, err := decode(data, pass)
		if err == nil {
			return priv, cert, chain, nil
		}
		if isIncorrectPasswordError(err) {
			hasIncorrectPassword = true
		} else if firstOtherErr == nil {
			firstOtherErr = err
		}
	}

	if !hasIncorrectPassword {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrInvalidFile, firstOtherErr)
	}
	if strings.TrimSpace(password) == "" {
		return nil, nil, nil, ErrPasswordRequired
	}
	return nil, nil, nil, ErrWrongPassword
}

func isIncorrectPasswordError(err error) bool {
	if errors.Is(err, pkcs12.ErrIncorrectPassword) || errors.Is(err, pkcs12.ErrDecryption) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "decryption password incorrect") ||
		strings.Contains(msg, "incorrect padding")
}
