package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// InvoiceHeader identifies the batch being authorized (FeCabReq).
type InvoiceHeader struct {
	SalesPoint  int    `json:"PtoVta"`
	VoucherType int    `json:"CbteTipo"`
	RecordCount int    `json:"CantReg"`
	IssuerTaxID string `json:"CuitRepresentada"`
}

// TupleKey identifies one independent sequence counter.
func (h InvoiceHeader) TupleKey() string {
	return fmt.Sprintf("%s/%d/%d", h.IssuerTaxID, h.SalesPoint, h.VoucherType)
}

// InvoiceDetail is a single voucher record (FECAEDetRequest). From and To are
// assigned by the authorization protocol and ignored on input.
type InvoiceDetail struct {
	Concept        int             `json:"Concepto"`
	DocType        int             `json:"DocTipo"`
	DocNumber      int64           `json:"DocNro"`
	From           int64           `json:"CbteDesde,omitempty"`
	To             int64           `json:"CbteHasta,omitempty"`
	VoucherDate    string          `json:"CbteFch"`
	Total          decimal.Decimal `json:"ImpTotal"`
	UntaxedNet     decimal.Decimal `json:"ImpTotConc"`
	Net            decimal.Decimal `json:"ImpNeto"`
	Exempt         decimal.Decimal `json:"ImpOpEx"`
	Taxes          decimal.Decimal `json:"ImpTrib"`
	VAT            decimal.Decimal `json:"ImpIVA"`
	ServiceFrom    string          `json:"FchServDesde,omitempty"`
	ServiceTo      string          `json:"FchServHasta,omitempty"`
	PaymentDueDate string          `json:"FchVtoPago,omitempty"`
	CurrencyID     string          `json:"MonId"`
	CurrencyRate   decimal.Decimal `json:"MonCotiz"`

	VATRates           []VATRate           `json:"Iva"`
	AssociatedVouchers []AssociatedVoucher `json:"CbtesAsoc,omitempty"`
	Optionals          []Optional          `json:"Opcionales,omitempty"`
}

type VATRate struct {
	ID     int             `json:"Id"`
	Base   decimal.Decimal `json:"BaseImp"`
	Amount decimal.Decimal `json:"Importe"`
}

type AssociatedVoucher struct {
	Type        int    `json:"Tipo"`
	SalesPoint  int    `json:"PtoVta"`
	Number      int64  `json:"Nro"`
	IssuerTaxID string `json:"Cuit,omitempty"`
	VoucherDate string `json:"CbteFch,omitempty"`
}

type Optional struct {
	ID    string `json:"Id"`
	Value string `json:"Valor"`
}

// TaxpayerRecord is the decoded getPersona answer of the registry services.
type TaxpayerRecord struct {
	TaxID   int64            `json:"idPersona"`
	Kind    string           `json:"tipoPersona,omitempty"`
	Name    string           `json:"nombre,omitempty"`
	Surname string           `json:"apellido,omitempty"`
	Company string           `json:"razonSocial,omitempty"`
	State   string           `json:"estadoClave,omitempty"`
	Address *TaxpayerAddress `json:"domicilioFiscal,omitempty"`
	Errors  []string         `json:"errores,omitempty"`
	RawXML  []byte           `json:"-"`
}

type TaxpayerAddress struct {
	Street     string `json:"direccion,omitempty"`
	City       string `json:"localidad,omitempty"`
	Province   string `json:"descripcionProvincia,omitempty"`
	PostalCode string `json:"codPostal,omitempty"`
}

// InvoiceRequest is the JSON document accepted by the authorize command.
type InvoiceRequest struct {
	FeCabReq InvoiceHeader   `json:"FeCabReq"`
	FeDetReq []InvoiceDetail `json:"FeDetReq"`
}

// Single returns the header and the only detail record of r.
func (r InvoiceRequest) Single() (InvoiceHeader, InvoiceDetail, error) {
	if len(r.FeDetReq) != 1 {
		return InvoiceHeader{}, InvoiceDetail{}, invalid(fmt.Errorf("FeDetReq must hold exactly one record, got %d", len(r.FeDetReq)))
	}
	return r.FeCabReq, r.FeDetReq[0], nil
}
