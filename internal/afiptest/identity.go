// Package afiptest provides in-process fakes of the identity, invoicing and
// registry services plus throw-away signing identities for tests.
package afiptest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

const TestCUIT = "20111111112"

// Identity is a self-signed certificate shaped like the ones the identity
// service issues (SERIALNUMBER=CUIT nnnnnnnnnnn).
type Identity struct {
	Key      *rsa.PrivateKey
	Cert     *x509.Certificate
	CertPath string
	KeyPath  string
	Dir      string
}

func NewIdentity(t testing.TB) *Identity {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			CommonName:   "afipws-test",
			Organization: []string{"Test SA"},
			SerialNumber: "CUIT " + TestCUIT,
		},
		NotBefore:   time.Now().Add(-time.Hour),
		NotAfter:    time.Now().Add(24 * time.Hour),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}

	dir := t.TempDir()
	id := &Identity{
		Key:      key,
		Cert:     cert,
		CertPath: filepath.Join(dir, "cert.pem"),
		KeyPath:  filepath.Join(dir, "key.pem"),
		Dir:      dir,
	}
	writePEM(t, id.CertPath, "CERTIFICATE", der)
	writePEM(t, id.KeyPath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key))
	return id
}

// WritePKCS12 exports the identity as a PFX bundle and returns its path.
func (id *Identity) WritePKCS12(t testing.TB, password string) string {
	t.Helper()
	pfx, err := pkcs12.Modern.Encode(id.Key, id.Cert, nil, password)
	if err != nil {
		t.Fatalf("encode pkcs12: %v", err)
	}
	path := filepath.Join(id.Dir, "identity.p12")
	if err := os.WriteFile(path, pfx, 0600); err != nil {
		t.Fatalf("write pkcs12: %v", err)
	}
	return path
}

func writePEM(t testing.TB, path, typ string, der []byte) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der})
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
