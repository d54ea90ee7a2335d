//go:build !cgo

package keystore

import (
	"context"
	"crypto"
	"errors"
)

func NewPKCS11Signer(_ context.Context, _ PKCS11Config, _ crypto.PublicKey) (crypto.Signer, error) {
	return nil, errors.New("pkcs11 signing is unavailable in this build (cgo disabled)")
}
