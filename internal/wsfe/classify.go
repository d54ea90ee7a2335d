package wsfe

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/vocdoni/gofirma/afipws/internal/model"
	"github.com/vocdoni/gofirma/afipws/internal/soap"
)

type feCAESolicitarResponse struct {
	XMLName xml.Name `xml:"FECAESolicitarResponse"`
	Result  struct {
		FeCabResp *struct {
			Cuit       string `xml:"Cuit"`
			PtoVta     int    `xml:"PtoVta"`
			CbteTipo   int    `xml:"CbteTipo"`
			FchProceso string `xml:"FchProceso"`
			CantReg    int    `xml:"CantReg"`
			Resultado  string `xml:"Resultado"`
			Reproceso  string `xml:"Reproceso"`
		} `xml:"FeCabResp"`
		FeDetResp struct {
			Records []fecaeDetResponse `xml:"FECAEDetResponse"`
		} `xml:"FeDetResp"`
		Events feEvents `xml:"Events"`
		Errors feErrors `xml:"Errors"`
	} `xml:"FECAESolicitarResult"`
}

type fecaeDetResponse struct {
	Concepto      int    `xml:"Concepto"`
	DocTipo       int    `xml:"DocTipo"`
	DocNro        int64  `xml:"DocNro"`
	CbteDesde     int64  `xml:"CbteDesde"`
	CbteHasta     int64  `xml:"CbteHasta"`
	CbteFch       string `xml:"CbteFch"`
	Resultado     string `xml:"Resultado"`
	CAE           string `xml:"CAE"`
	CAEFchVto     string `xml:"CAEFchVto"`
	Observaciones struct {
		Items []feErr `xml:"Obs"`
	} `xml:"Observaciones"`
}

// Classify turns a raw FECAESolicitar response document into an outcome.
// Observations, errors and events are always non-nil. An approved outcome
// always carries a CAE and a rejected one never does.
func Classify(raw []byte) (*model.AuthorizationOutcome, error) {
	body, err := soap.Unwrap(raw)
	if err != nil {
		return nil, model.NewError(model.ErrResponseParseFailure, "", err)
	}
	var resp feCAESolicitarResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, model.NewError(model.ErrResponseParseFailure, "", fmt.Errorf("failed to decode answer: %w", err))
	}

	res := resp.Result
	out := &model.AuthorizationOutcome{
		Observations: []model.Message{},
		Errors:       messages(res.Errors.Items),
		Events:       messages(res.Events.Items),
	}

	if res.FeCabResp == nil || strings.TrimSpace(res.FeCabResp.Resultado) == "" {
		// Request-level validation failures come back with Errors only.
		if len(out.Errors) > 0 {
			out.Result = model.ResultRejected
			return out, nil
		}
		return nil, model.NewError(model.ErrResponseParseFailure, "", fmt.Errorf("answer has neither a header result nor errors"))
	}

	cab := res.FeCabResp
	out.IssuerTaxID = cab.Cuit
	out.SalesPoint = cab.PtoVta
	out.VoucherType = cab.CbteTipo
	out.ProcessedAt = cab.FchProceso
	out.Reprocess = cab.Reproceso

	switch model.Result(strings.TrimSpace(cab.Resultado)) {
	case model.ResultApproved:
		out.Result = model.ResultApproved
	case model.ResultRejected:
		out.Result = model.ResultRejected
	case model.ResultPartiallyObserved:
		out.Result = model.ResultPartiallyObserved
	default:
		return nil, model.NewError(model.ErrResponseParseFailure, "", fmt.Errorf("unknown result %q", cab.Resultado))
	}

	if len(res.FeDetResp.Records) > 0 {
		det := res.FeDetResp.Records[0]
		out.Detail = &model.OutcomeDetail{
			Concept:     det.Concepto,
			DocType:     det.DocTipo,
			DocNumber:   det.DocNro,
			From:        det.CbteDesde,
			To:          det.CbteHasta,
			VoucherDate: det.CbteFch,
			Result:      det.Resultado,
		}
		out.From = det.CbteDesde
		out.To = det.CbteHasta
		out.CAE = strings.TrimSpace(det.CAE)
		out.CAEExpiry = strings.TrimSpace(det.CAEFchVto)
		out.Observations = messages(det.Observaciones.Items)
	}

	switch out.Result {
	case model.ResultApproved:
		if out.CAE == "" {
			return nil, model.NewError(model.ErrResponseParseFailure, "", fmt.Errorf("approved answer without CAE"))
		}
	case model.ResultRejected:
		out.CAE = ""
		out.CAEExpiry = ""
	}
	return out, nil
}
