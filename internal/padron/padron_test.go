package padron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocdoni/gofirma/afipws/internal/afiptest"
	"github.com/vocdoni/gofirma/afipws/internal/model"
	"github.com/vocdoni/gofirma/afipws/internal/soap"
)

type serverCredentials struct {
	srv *afiptest.Server
}

func (s serverCredentials) GetCredential(_ context.Context, service string) (*model.Credential, error) {
	return s.srv.IssueCredential(service), nil
}

var taxpayer = afiptest.Taxpayer{
	ID:       30714796476,
	Kind:     "JURIDICA",
	Company:  "ACME SRL",
	State:    "ACTIVO",
	Street:   "AV CORRIENTES 1234",
	City:     "CIUDAD AUTONOMA BUENOS AIRES",
	Province: "CIUDAD AUTONOMA BUENOS AIRES",
	Postal:   "1043",
}

func newTestClient(t *testing.T, a5, a13 bool) *Client {
	t.Helper()
	srv := afiptest.NewServer(t)
	srv.AddTaxpayer(taxpayer)
	cfg := Config{
		SOAP:        soap.NewClient(soap.Options{}, nil),
		Credentials: serverCredentials{srv: srv},
		IssuerTaxID: afiptest.TestCUIT,
	}
	if a5 {
		cfg.A5URL = srv.A5URL()
	}
	if a13 {
		cfg.A13URL = srv.A13URL()
	}
	return NewClient(cfg)
}

func TestRegistryService(t *testing.T) {
	assert.Equal(t, "ws_sr_padron_a5", A5.Service())
	assert.Equal(t, "ws_sr_padron_a13", A13.Service())
}

func TestLookupA5(t *testing.T) {
	c := newTestClient(t, true, true)
	rec, err := c.LookupTaxpayer(context.Background(), taxpayer.ID)
	require.NoError(t, err)

	assert.Equal(t, taxpayer.ID, rec.TaxID)
	assert.Equal(t, "JURIDICA", rec.Kind)
	assert.Equal(t, "ACME SRL", rec.Company)
	assert.Equal(t, "ACTIVO", rec.State)
	require.NotNil(t, rec.Address)
	assert.Equal(t, "AV CORRIENTES 1234", rec.Address.Street)
	assert.Equal(t, "1043", rec.Address.PostalCode)
	assert.Contains(t, string(rec.RawXML), "datosGenerales")
}

func TestLookupA13PicksFiscalAddress(t *testing.T) {
	c := newTestClient(t, false, true)
	rec, err := c.LookupTaxpayer(context.Background(), taxpayer.ID)
	require.NoError(t, err)

	assert.Equal(t, "ACME SRL", rec.Company)
	require.NotNil(t, rec.Address)
	assert.Equal(t, "AV CORRIENTES 1234", rec.Address.Street)
	assert.Equal(t, "1043", rec.Address.PostalCode)
}

func TestLookupUnknownTaxpayer(t *testing.T) {
	c := newTestClient(t, true, false)
	_, err := c.LookupTaxpayer(context.Background(), 20111111112)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrTransportFailure)
	assert.Contains(t, err.Error(), "No existe persona con ese Id")
}

func TestLookupUnconfiguredRegistry(t *testing.T) {
	c := newTestClient(t, true, false)
	_, err := c.Lookup(context.Background(), A13, taxpayer.ID)
	assert.ErrorIs(t, err, model.ErrConfiguration)
}
