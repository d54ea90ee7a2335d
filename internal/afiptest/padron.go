package afiptest

import (
	"encoding/xml"
	"net/http"
)

type getPersonaRequest struct {
	Token            string `xml:"token"`
	Sign             string `xml:"sign"`
	CuitRepresentada string `xml:"cuitRepresentada"`
	IDPersona        int64  `xml:"idPersona"`
}

type personaAddress struct {
	Direccion            string `xml:"direccion,omitempty"`
	Localidad            string `xml:"localidad,omitempty"`
	DescripcionProvincia string `xml:"descripcionProvincia,omitempty"`
	CodPostal            string `xml:"codPostal,omitempty"`
	CodigoPostal         string `xml:"codigoPostal,omitempty"`
	TipoDomicilio        string `xml:"tipoDomicilio,omitempty"`
}

type personaData struct {
	IDPersona       int64            `xml:"idPersona"`
	TipoPersona     string           `xml:"tipoPersona,omitempty"`
	Nombre          string           `xml:"nombre,omitempty"`
	Apellido        string           `xml:"apellido,omitempty"`
	RazonSocial     string           `xml:"razonSocial,omitempty"`
	EstadoClave     string           `xml:"estadoClave,omitempty"`
	DomicilioFiscal *personaAddress  `xml:"domicilioFiscal,omitempty"`
	Domicilio       []personaAddress `xml:"domicilio,omitempty"`
}

// The registry answers with a prefixed root and unqualified children.
type getPersonaResponse struct {
	XMLName xml.Name `xml:"ns2:getPersonaResponse"`
	NS      string   `xml:"xmlns:ns2,attr"`
	Return  struct {
		DatosGenerales *personaData `xml:"datosGenerales,omitempty"`
		Persona        *personaData `xml:"persona,omitempty"`
	} `xml:"personaReturn"`
}

func (s *Server) handlePadron(ns, service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := readBody(w, r)
		if !ok {
			return
		}
		var req getPersonaRequest
		if err := xml.Unmarshal(body, &req); err != nil {
			writeFault(w, "ns0:Client", err.Error())
			return
		}
		if !s.validToken(req.Token, service) {
			writeFault(w, "ns0:Server", "token expirado o invalido")
			return
		}
		s.mu.Lock()
		tp, found := s.taxpayers[req.IDPersona]
		s.mu.Unlock()
		if !found {
			writeFault(w, "ns0:Server", "No existe persona con ese Id")
			return
		}

		data := &personaData{
			IDPersona:   tp.ID,
			TipoPersona: tp.Kind,
			Nombre:      tp.Name,
			Apellido:    tp.Surname,
			RazonSocial: tp.Company,
			EstadoClave: tp.State,
		}
		resp := getPersonaResponse{NS: ns}
		if ns == a5NS {
			data.DomicilioFiscal = &personaAddress{
				Direccion:            tp.Street,
				Localidad:            tp.City,
				DescripcionProvincia: tp.Province,
				CodPostal:            tp.Postal,
			}
			resp.Return.DatosGenerales = data
		} else {
			data.Domicilio = []personaAddress{
				{TipoDomicilio: "LEGAL/REAL", Direccion: "otra 1"},
				{
					TipoDomicilio:        "FISCAL",
					Direccion:            tp.Street,
					Localidad:            tp.City,
					DescripcionProvincia: tp.Province,
					CodigoPostal:         tp.Postal,
				},
			}
			resp.Return.Persona = data
		}
		writeBody(w, resp)
	}
}
