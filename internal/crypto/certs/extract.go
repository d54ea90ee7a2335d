package certs

import (
	"crypto/x509"
	"encoding/asn1"
	"regexp"
	"strings"
	"time"

	"github.com/vocdoni/gofirma/afipws/internal/model"
)

var (
	oidSerialNumber = asn1.ObjectIdentifier{2, 5, 4, 5}
	oidOrganization = asn1.ObjectIdentifier{2, 5, 4, 10}
)

var (
	reCUITTagged = regexp.MustCompile(`(?i)\bCUI[TL]\s*[:\-]?\s*(\d{2})-?(\d{8})-?(\d)\b`)
	reCUITBare   = regexp.MustCompile(`\b(\d{2})-?(\d{8})-?(\d)\b`)
)

// TaxIdentity is what the identity service certificates say about their holder.
type TaxIdentity struct {
	CUIT         string
	Alias        string
	Organization string
	Issuer       string
	NotAfter     time.Time
}

func (t TaxIdentity) Expired(now time.Time) bool {
	return !t.NotAfter.After(now)
}

// ExtractTaxIdentity reads the CUIT from SERIALNUMBER ("CUIT 20111111112"),
// falling back to the common name.
func ExtractTaxIdentity(cert *x509.Certificate) TaxIdentity {
	info := TaxIdentity{
		Alias:    normalizeSpace(cert.Subject.CommonName),
		Issuer:   cert.Issuer.CommonName,
		NotAfter: cert.NotAfter,
	}

	for _, name := range cert.Subject.Names {
		val, ok := name.Value.(string)
		if !ok {
			continue
		}
		if name.Type.Equal(oidSerialNumber) {
			if cuit := extractCUIT(val); cuit != "" {
				info.CUIT = cuit
			}
		} else if name.Type.Equal(oidOrganization) {
			info.Organization = normalizeSpace(val)
		}
	}
	if info.CUIT == "" {
		info.CUIT = extractCUIT(cert.Subject.CommonName)
	}
	return info
}

func extractCUIT(s string) string {
	s = normalizeSpace(s)
	for _, re := range []*regexp.Regexp{reCUITTagged, reCUITBare} {
		for _, m := range re.FindAllStringSubmatch(s, -1) {
			cuit := m[1] + m[2] + m[3]
			if model.ValidCUIT(cuit) {
				return cuit
			}
		}
	}
	return ""
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}
