package certs

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"testing"
	"time"
)

func TestExtractTaxIdentitySerialNumber(t *testing.T) {
	cert := &x509.Certificate{
		Subject: pkix.Name{
			CommonName: "facturacion",
			Names: []pkix.AttributeTypeAndValue{
				{Type: oidOrganization, Value: "ACME  SRL"},
				{Type: oidSerialNumber, Value: "CUIT 30714796476"},
			},
		},
		Issuer:   pkix.Name{CommonName: "Computadores Test"},
		NotAfter: time.Date(2027, 2, 22, 9, 10, 11, 0, time.UTC),
	}

	info := ExtractTaxIdentity(cert)
	if info.CUIT != "30714796476" {
		t.Fatalf("unexpected CUIT: %q", info.CUIT)
	}
	if info.Organization != "ACME SRL" {
		t.Fatalf("unexpected organization: %q", info.Organization)
	}
	if info.Alias != "facturacion" {
		t.Fatalf("unexpected alias: %q", info.Alias)
	}
	if info.Expired(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("certificate should not be expired")
	}
}

func TestExtractTaxIdentityCommonNameFallback(t *testing.T) {
	cert := &x509.Certificate{
		Subject: pkix.Name{CommonName: "PEREZ JUAN - 20-11111111-2"},
	}
	if got := ExtractTaxIdentity(cert).CUIT; got != "20111111112" {
		t.Fatalf("unexpected CUIT: %q", got)
	}
}

func TestExtractTaxIdentityRejectsBadCheckDigit(t *testing.T) {
	cert := &x509.Certificate{
		Subject: pkix.Name{
			Names: []pkix.AttributeTypeAndValue{
				{Type: oidSerialNumber, Value: "CUIT 20111111113"},
			},
		},
	}
	if got := ExtractTaxIdentity(cert).CUIT; got != "" {
		t.Fatalf("expected no CUIT, got %q", got)
	}
}
