package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidCUIT(t *testing.T) {
	assert.True(t, ValidCUIT("20111111112"))
	assert.True(t, ValidCUIT("30714796476"))
	assert.False(t, ValidCUIT("20111111113"))
	assert.False(t, ValidCUIT("2011111111"))
	assert.False(t, ValidCUIT("2011111111a"))
}

func validDetail() InvoiceDetail {
	return InvoiceDetail{
		Concept:      1,
		DocType:      80,
		DocNumber:    20111111112,
		VoucherDate:  "20250101",
		Total:        decimal.RequireFromString("121"),
		Net:          decimal.RequireFromString("100"),
		VAT:          decimal.RequireFromString("21"),
		CurrencyID:   "PES",
		CurrencyRate: decimal.NewFromInt(1),
		VATRates: []VATRate{
			{ID: 5, Base: decimal.RequireFromString("100"), Amount: decimal.RequireFromString("21")},
		},
	}
}

func TestInvoiceHeaderValidate(t *testing.T) {
	h := InvoiceHeader{SalesPoint: 1, VoucherType: 6, RecordCount: 1, IssuerTaxID: "20111111112"}
	require.NoError(t, h.Validate())

	bad := h
	bad.IssuerTaxID = "123"
	err := bad.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInvoice))

	bad = h
	bad.RecordCount = 2
	assert.ErrorIs(t, bad.Validate(), ErrInvalidInvoice)
}

func TestInvoiceDetailValidate(t *testing.T) {
	d := validDetail()
	require.NoError(t, d.Validate())

	t.Run("services require period", func(t *testing.T) {
		s := validDetail()
		s.Concept = 2
		assert.ErrorIs(t, s.Validate(), ErrInvalidInvoice)

		s.ServiceFrom, s.ServiceTo, s.PaymentDueDate = "20250101", "20250131", "20250210"
		assert.NoError(t, s.Validate())
	})

	t.Run("currency rate", func(t *testing.T) {
		s := validDetail()
		s.CurrencyRate = decimal.Zero
		assert.ErrorIs(t, s.Validate(), ErrInvalidInvoice)
	})

	t.Run("incomplete associated voucher", func(t *testing.T) {
		s := validDetail()
		s.AssociatedVouchers = []AssociatedVoucher{{Type: 1}}
		assert.ErrorIs(t, s.Validate(), ErrInvalidInvoice)
	})
}

func TestErrorTagging(t *testing.T) {
	cause := NewError(ErrSigningFailure, "wsfe", errors.New("openssl exited 1"))
	err := NewError(ErrCredentialUnavailable, "wsfe", cause)

	assert.ErrorIs(t, err, ErrCredentialUnavailable)
	assert.ErrorIs(t, err, ErrSigningFailure)
	assert.Equal(t, "wsfe", KeyOf(err))
	assert.Contains(t, err.Error(), "credential unavailable [wsfe]")
	assert.Equal(t, "Could not obtain an access ticket from the identity service.", PublicMessage(err))
}

func TestInvoiceRequestSingle(t *testing.T) {
	var req InvoiceRequest
	require.NoError(t, json.Unmarshal([]byte(`{
		"FeCabReq": {"PtoVta": 1, "CbteTipo": 6, "CantReg": 1},
		"FeDetReq": [{"Concepto": 1, "DocTipo": 80, "DocNro": 30714796476, "ImpTotal": "121.5", "ImpNeto": 100, "MonId": "PES", "MonCotiz": 1,
			"Iva": [{"Id": 5, "BaseImp": 100, "Importe": 21}]}]
	}`), &req))

	header, detail, err := req.Single()
	require.NoError(t, err)
	assert.Equal(t, 1, header.SalesPoint)
	assert.Equal(t, "121.5", detail.Total.String())
	require.Len(t, detail.VATRates, 1)
	assert.Equal(t, "21", detail.VATRates[0].Amount.String())

	_, _, err = InvoiceRequest{FeCabReq: header}.Single()
	assert.ErrorIs(t, err, ErrInvalidInvoice)
}
