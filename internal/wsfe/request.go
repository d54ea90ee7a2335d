package wsfe

import (
	"encoding/xml"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vocdoni/gofirma/afipws/internal/model"
	"github.com/vocdoni/gofirma/afipws/internal/soap"
)

const Namespace = "http://ar.gov.afip.dif.FEV1/"

func action(op string) string { return Namespace + op }

type auth struct {
	Token string `xml:"Token"`
	Sign  string `xml:"Sign"`
	Cuit  string `xml:"Cuit"`
}

func newAuth(cred *model.Credential, cuit string) auth {
	token, sign := cred.Auth()
	return auth{Token: token, Sign: sign, Cuit: cuit}
}

type feDummyRequest struct {
	XMLName xml.Name `xml:"http://ar.gov.afip.dif.FEV1/ FEDummy"`
}

type feCompUltimoAutorizadoRequest struct {
	XMLName  xml.Name `xml:"http://ar.gov.afip.dif.FEV1/ FECompUltimoAutorizado"`
	Auth     auth     `xml:"Auth"`
	PtoVta   int      `xml:"PtoVta"`
	CbteTipo int      `xml:"CbteTipo"`
}

type feCAESolicitarRequest struct {
	XMLName  xml.Name `xml:"http://ar.gov.afip.dif.FEV1/ FECAESolicitar"`
	Auth     auth     `xml:"Auth"`
	FeCAEReq feCAEReq `xml:"FeCAEReq"`
}

type feCAEReq struct {
	FeCabReq feCabReq `xml:"FeCabReq"`
	FeDetReq feDetReq `xml:"FeDetReq"`
}

type feCabReq struct {
	CantReg  int `xml:"CantReg"`
	PtoVta   int `xml:"PtoVta"`
	CbteTipo int `xml:"CbteTipo"`
}

type feDetReq struct {
	Records []fecaeDetRequest `xml:"FECAEDetRequest"`
}

// Element order follows the service schema.
type fecaeDetRequest struct {
	Concepto     int         `xml:"Concepto"`
	DocTipo      int         `xml:"DocTipo"`
	DocNro       int64       `xml:"DocNro"`
	CbteDesde    int64       `xml:"CbteDesde"`
	CbteHasta    int64       `xml:"CbteHasta"`
	CbteFch      string      `xml:"CbteFch,omitempty"`
	ImpTotal     string      `xml:"ImpTotal"`
	ImpTotConc   string      `xml:"ImpTotConc"`
	ImpNeto      string      `xml:"ImpNeto"`
	ImpOpEx      string      `xml:"ImpOpEx"`
	ImpTrib      string      `xml:"ImpTrib"`
	ImpIVA       string      `xml:"ImpIVA"`
	FchServDesde string      `xml:"FchServDesde,omitempty"`
	FchServHasta string      `xml:"FchServHasta,omitempty"`
	FchVtoPago   string      `xml:"FchVtoPago,omitempty"`
	MonId        string      `xml:"MonId"`
	MonCotiz     string      `xml:"MonCotiz"`
	CbtesAsoc    *cbtesAsoc  `xml:"CbtesAsoc"`
	Iva          iva         `xml:"Iva"`
	Opcionales   *opcionales `xml:"Opcionales"`
}

type cbtesAsoc struct {
	Items []cbteAsoc `xml:"CbteAsoc"`
}

type cbteAsoc struct {
	Tipo    int    `xml:"Tipo"`
	PtoVta  int    `xml:"PtoVta"`
	Nro     int64  `xml:"Nro"`
	Cuit    string `xml:"Cuit,omitempty"`
	CbteFch string `xml:"CbteFch,omitempty"`
}

type iva struct {
	Items []alicIva `xml:"AlicIva"`
}

type alicIva struct {
	Id      int    `xml:"Id"`
	BaseImp string `xml:"BaseImp"`
	Importe string `xml:"Importe"`
}

type opcionales struct {
	Items []opcional `xml:"Opcional"`
}

type opcional struct {
	Id    string `xml:"Id"`
	Valor string `xml:"Valor"`
}

func amount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// AssignSequenceRange returns the range for a single-voucher batch following
// last.
func AssignSequenceRange(last int64) (from, to int64) {
	return last + 1, last + 1
}

// BuildAuthorizationRequest builds the FECAESolicitar envelope for one
// voucher. detail.From and detail.To must already be assigned. The
// associated-vouchers and optionals blocks are emitted only when non-empty.
func BuildAuthorizationRequest(cred *model.Credential, header model.InvoiceHeader, detail model.InvoiceDetail) ([]byte, error) {
	if detail.From <= 0 || detail.To < detail.From {
		return nil, fmt.Errorf("invalid sequence range %d-%d", detail.From, detail.To)
	}
	rec := fecaeDetRequest{
		Concepto:     detail.Concept,
		DocTipo:      detail.DocType,
		DocNro:       detail.DocNumber,
		CbteDesde:    detail.From,
		CbteHasta:    detail.To,
		CbteFch:      detail.VoucherDate,
		ImpTotal:     amount(detail.Total),
		ImpTotConc:   amount(detail.UntaxedNet),
		ImpNeto:      amount(detail.Net),
		ImpOpEx:      amount(detail.Exempt),
		ImpTrib:      amount(detail.Taxes),
		ImpIVA:       amount(detail.VAT),
		FchServDesde: detail.ServiceFrom,
		FchServHasta: detail.ServiceTo,
		FchVtoPago:   detail.PaymentDueDate,
		MonId:        detail.CurrencyID,
		MonCotiz:     detail.CurrencyRate.String(),
	}
	for _, v := range detail.VATRates {
		rec.Iva.Items = append(rec.Iva.Items, alicIva{Id: v.ID, BaseImp: amount(v.Base), Importe: amount(v.Amount)})
	}
	if len(detail.AssociatedVouchers) > 0 {
		rec.CbtesAsoc = &cbtesAsoc{}
		for _, av := range detail.AssociatedVouchers {
			rec.CbtesAsoc.Items = append(rec.CbtesAsoc.Items, cbteAsoc{
				Tipo:    av.Type,
				PtoVta:  av.SalesPoint,
				Nro:     av.Number,
				Cuit:    av.IssuerTaxID,
				CbteFch: av.VoucherDate,
			})
		}
	}
	if len(detail.Optionals) > 0 {
		rec.Opcionales = &opcionales{}
		for _, o := range detail.Optionals {
			rec.Opcionales.Items = append(rec.Opcionales.Items, opcional{Id: o.ID, Valor: o.Value})
		}
	}

	return soap.Marshal(feCAESolicitarRequest{
		Auth: newAuth(cred, header.IssuerTaxID),
		FeCAEReq: feCAEReq{
			FeCabReq: feCabReq{
				CantReg:  1,
				PtoVta:   header.SalesPoint,
				CbteTipo: header.VoucherType,
			},
			FeDetReq: feDetReq{Records: []fecaeDetRequest{rec}},
		},
	})
}
