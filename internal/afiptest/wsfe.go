package afiptest

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type feAuth struct {
	Token string `xml:"Auth>Token"`
	Sign  string `xml:"Auth>Sign"`
	Cuit  string `xml:"Auth>Cuit"`
}

type feUltimoRequest struct {
	feAuth
	PtoVta   int `xml:"PtoVta"`
	CbteTipo int `xml:"CbteTipo"`
}

type feSolicitarRequest struct {
	feAuth
	CantReg  int `xml:"FeCAEReq>FeCabReq>CantReg"`
	PtoVta   int `xml:"FeCAEReq>FeCabReq>PtoVta"`
	CbteTipo int `xml:"FeCAEReq>FeCabReq>CbteTipo"`
	Records  []struct {
		Concepto  int    `xml:"Concepto"`
		DocTipo   int    `xml:"DocTipo"`
		DocNro    int64  `xml:"DocNro"`
		CbteDesde int64  `xml:"CbteDesde"`
		CbteHasta int64  `xml:"CbteHasta"`
		CbteFch   string `xml:"CbteFch"`
	} `xml:"FeCAEReq>FeDetReq>FECAEDetRequest"`
}

type feMsg struct {
	Code int    `xml:"Code"`
	Msg  string `xml:"Msg"`
}

type feUltimoResponse struct {
	XMLName xml.Name `xml:"http://ar.gov.afip.dif.FEV1/ FECompUltimoAutorizadoResponse"`
	Result  struct {
		PtoVta   int     `xml:"PtoVta"`
		CbteTipo int     `xml:"CbteTipo"`
		CbteNro  *int64  `xml:"CbteNro,omitempty"`
		Errors   []feMsg `xml:"Errors>Err,omitempty"`
	} `xml:"FECompUltimoAutorizadoResult"`
}

type feCabResp struct {
	Cuit       string `xml:"Cuit"`
	PtoVta     int    `xml:"PtoVta"`
	CbteTipo   int    `xml:"CbteTipo"`
	FchProceso string `xml:"FchProceso"`
	CantReg    int    `xml:"CantReg"`
	Resultado  string `xml:"Resultado"`
	Reproceso  string `xml:"Reproceso"`
}

type feDetResp struct {
	Concepto      int     `xml:"Concepto"`
	DocTipo       int     `xml:"DocTipo"`
	DocNro        int64   `xml:"DocNro"`
	CbteDesde     int64   `xml:"CbteDesde"`
	CbteHasta     int64   `xml:"CbteHasta"`
	CbteFch       string  `xml:"CbteFch"`
	Resultado     string  `xml:"Resultado"`
	Observaciones []feMsg `xml:"Observaciones>Obs,omitempty"`
	CAE           string  `xml:"CAE"`
	CAEFchVto     string  `xml:"CAEFchVto"`
}

type feSolicitarResponse struct {
	XMLName xml.Name `xml:"http://ar.gov.afip.dif.FEV1/ FECAESolicitarResponse"`
	Result  struct {
		FeCabResp *feCabResp  `xml:"FeCabResp,omitempty"`
		FeDetResp []feDetResp `xml:"FeDetResp>FECAEDetResponse,omitempty"`
		Events    []feMsg     `xml:"Events>Evt,omitempty"`
		Errors    []feMsg     `xml:"Errors>Err,omitempty"`
	} `xml:"FECAESolicitarResult"`
}

type feDummyResponse struct {
	XMLName xml.Name `xml:"http://ar.gov.afip.dif.FEV1/ FEDummyResponse"`
	Result  struct {
		AppServer  string `xml:"AppServer"`
		DbServer   string `xml:"DbServer"`
		AuthServer string `xml:"AuthServer"`
	} `xml:"FEDummyResult"`
}

var errBadToken = feMsg{Code: 600, Msg: "ValidacionDeToken: No validaron las credenciales"}

func (s *Server) handleWSFE(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	op := strings.TrimPrefix(strings.Trim(r.Header.Get("SOAPAction"), `"`), wsfeNS)
	switch op {
	case "FEDummy":
		var resp feDummyResponse
		resp.Result.AppServer, resp.Result.DbServer, resp.Result.AuthServer = "OK", "OK", "OK"
		writeBody(w, resp)
	case "FECompUltimoAutorizado":
		s.handleUltimo(w, body)
	case "FECAESolicitar":
		s.handleSolicitar(w, body)
	default:
		writeFault(w, "soap:Client", "Server did not recognize the value of HTTP Header SOAPAction: "+op)
	}
}

func (s *Server) handleUltimo(w http.ResponseWriter, body []byte) {
	s.SequenceCalls.Add(1)
	var req feUltimoRequest
	if err := xml.Unmarshal(body, &req); err != nil {
		writeFault(w, "soap:Client", err.Error())
		return
	}
	var resp feUltimoResponse
	resp.Result.PtoVta, resp.Result.CbteTipo = req.PtoVta, req.CbteTipo
	if !s.validToken(req.Token, "wsfe") {
		resp.Result.Errors = []feMsg{errBadToken}
		writeBody(w, resp)
		return
	}
	last := s.Last(req.Cuit, req.PtoVta, req.CbteTipo)
	resp.Result.CbteNro = &last
	writeBody(w, resp)
}

func (s *Server) handleSolicitar(w http.ResponseWriter, body []byte) {
	s.SolicitarCalls.Add(1)
	s.mu.Lock()
	s.submitted = append(s.submitted, append([]byte(nil), body...))
	s.mu.Unlock()

	var req feSolicitarRequest
	if err := xml.Unmarshal(body, &req); err != nil {
		writeFault(w, "soap:Client", err.Error())
		return
	}
	var resp feSolicitarResponse
	if !s.validToken(req.Token, "wsfe") {
		resp.Result.Errors = []feMsg{errBadToken}
		writeBody(w, resp)
		return
	}
	if req.CantReg != 1 || len(req.Records) != 1 {
		resp.Result.Errors = []feMsg{{Code: 10001, Msg: "CantReg debe coincidir con la cantidad de registros"}}
		writeBody(w, resp)
		return
	}

	now := time.Now()
	rec := req.Records[0]
	det := feDetResp{
		Concepto:  rec.Concepto,
		DocTipo:   rec.DocTipo,
		DocNro:    rec.DocNro,
		CbteDesde: rec.CbteDesde,
		CbteHasta: rec.CbteHasta,
		CbteFch:   rec.CbteFch,
	}
	if det.CbteFch == "" {
		det.CbteFch = now.Format("20060102")
	}

	s.mu.Lock()
	key := tupleKey(req.Cuit, req.PtoVta, req.CbteTipo)
	switch {
	case rec.CbteDesde != s.last[key]+1:
		det.Resultado = "R"
		det.Observaciones = []feMsg{{Code: 10016, Msg: fmt.Sprintf(
			"El numero o fecha del comprobante no se corresponde con el proximo a autorizar. Consultar metodo FECompUltimoAutorizado. Ultimo %d", s.last[key])}}
	case s.reject != nil:
		det.Resultado = "R"
		det.Observaciones = []feMsg{{Code: s.reject.Code, Msg: s.reject.Message}}
		s.reject = nil
	default:
		s.last[key] = rec.CbteHasta
		s.caeSeq++
		det.Resultado = "A"
		det.CAE = fmt.Sprint(s.caeSeq)
		det.CAEFchVto = now.AddDate(0, 0, 10).Format("20060102")
	}
	s.mu.Unlock()

	resp.Result.FeCabResp = &feCabResp{
		Cuit:       req.Cuit,
		PtoVta:     req.PtoVta,
		CbteTipo:   req.CbteTipo,
		FchProceso: now.Format("20060102150405"),
		CantReg:    1,
		Resultado:  det.Resultado,
		Reproceso:  "N",
	}
	resp.Result.FeDetResp = []feDetResp{det}
	writeBody(w, resp)
}
