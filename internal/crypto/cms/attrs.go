package cms

import (
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
)

// OID for id-aa-signingCertificateV2
var OidSigningCertificateV2 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}
var OidSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}

type SigningCertificateV2 struct {
	Certs []ESSCertIDv2
}

type ESSCertIDv2 struct {
	HashAlgorithm pkix.AlgorithmIdentifier `asn1:"default:sha256"`
	CertHash      []byte
}

// signingCertificateV2 binds the signature to the signer certificate hash.
func signingCertificateV2(cert *x509.Certificate) ([]byte, error) {
	certHash := sha256.Sum256(cert.Raw)
	return asn1.Marshal(SigningCertificateV2{
		Certs: []ESSCertIDv2{{
			HashAlgorithm: pkix.AlgorithmIdentifier{
				Algorithm:  OidSHA256,
				Parameters: asn1.NullRawValue,
			},
			CertHash: certHash[:],
		}},
	})
}
