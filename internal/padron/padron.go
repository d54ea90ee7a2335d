// Package padron looks up taxpayers in the A5 and A13 registry services.
package padron

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/afipws/internal/logging"
	"github.com/vocdoni/gofirma/afipws/internal/model"
	"github.com/vocdoni/gofirma/afipws/internal/soap"
	"github.com/vocdoni/gofirma/afipws/internal/storage"
)

// Registry selects one of the registry services.
type Registry string

const (
	A5  Registry = "a5"
	A13 Registry = "a13"
)

// Service returns the identity service name a credential must be issued for.
func (r Registry) Service() string {
	return "ws_sr_padron_" + string(r)
}

func (r Registry) namespace() string {
	return "http://" + string(r) + ".soap.ws.server.puc.sr/"
}

// CredentialSource hands out valid credentials per identity service name.
type CredentialSource interface {
	GetCredential(ctx context.Context, service string) (*model.Credential, error)
}

type Config struct {
	SOAP        *soap.Client
	Credentials CredentialSource
	IssuerTaxID string // cuitRepresentada
	A5URL       string
	A13URL      string
	Audit       *storage.AuditLogger // optional
	Logger      *zap.Logger
}

type Client struct {
	soap        *soap.Client
	credentials CredentialSource
	issuer      string
	urls        map[Registry]string
	audit       *storage.AuditLogger
	logger      *zap.Logger
}

func NewClient(cfg Config) *Client {
	urls := make(map[Registry]string)
	if cfg.A5URL != "" {
		urls[A5] = cfg.A5URL
	}
	if cfg.A13URL != "" {
		urls[A13] = cfg.A13URL
	}
	return &Client{
		soap:        cfg.SOAP,
		credentials: cfg.Credentials,
		issuer:      cfg.IssuerTaxID,
		urls:        urls,
		audit:       cfg.Audit,
		logger:      logging.OrNop(cfg.Logger),
	}
}

// getPersonaRequest uses a prefixed root so the parameters stay unqualified,
// as the registry schemas require.
type getPersonaRequest struct {
	XMLName          xml.Name `xml:"ns:getPersona"`
	NS               string   `xml:"xmlns:ns,attr"`
	Token            string   `xml:"token"`
	Sign             string   `xml:"sign"`
	CuitRepresentada string   `xml:"cuitRepresentada"`
	IDPersona        int64    `xml:"idPersona"`
}

type address struct {
	Type         string `xml:"tipoDomicilio"`
	Street       string `xml:"direccion"`
	City         string `xml:"localidad"`
	Province     string `xml:"descripcionProvincia"`
	PostalCode   string `xml:"codPostal"`
	PostalCodeV2 string `xml:"codigoPostal"`
}

func (a address) toModel() *model.TaxpayerAddress {
	postal := a.PostalCode
	if postal == "" {
		postal = a.PostalCodeV2
	}
	return &model.TaxpayerAddress{
		Street:     strings.TrimSpace(a.Street),
		City:       strings.TrimSpace(a.City),
		Province:   strings.TrimSpace(a.Province),
		PostalCode: strings.TrimSpace(postal),
	}
}

type persona struct {
	IDPersona       int64     `xml:"idPersona"`
	TipoPersona     string    `xml:"tipoPersona"`
	Nombre          string    `xml:"nombre"`
	Apellido        string    `xml:"apellido"`
	RazonSocial     string    `xml:"razonSocial"`
	EstadoClave     string    `xml:"estadoClave"`
	DomicilioFiscal *address  `xml:"domicilioFiscal"`
	Domicilio       []address `xml:"domicilio"`
}

type getPersonaResponse struct {
	Return struct {
		DatosGenerales  *persona `xml:"datosGenerales"`
		Persona         *persona `xml:"persona"`
		ErrorConstancia struct {
			Errors []string `xml:"error"`
		} `xml:"errorConstancia"`
	} `xml:"personaReturn"`
}

// LookupTaxpayer queries the A5 registry, or A13 when only that one is
// configured.
func (c *Client) LookupTaxpayer(ctx context.Context, id int64) (*model.TaxpayerRecord, error) {
	if _, ok := c.urls[A5]; ok {
		return c.Lookup(ctx, A5, id)
	}
	return c.Lookup(ctx, A13, id)
}

// Lookup runs getPersona against registry for the taxpayer id.
func (c *Client) Lookup(ctx context.Context, registry Registry, id int64) (*model.TaxpayerRecord, error) {
	key := strconv.FormatInt(id, 10)
	rec, err := c.lookup(ctx, registry, id)
	c.auditLookup(registry, key, err)
	return rec, err
}

func (c *Client) lookup(ctx context.Context, registry Registry, id int64) (*model.TaxpayerRecord, error) {
	key := strconv.FormatInt(id, 10)
	url, ok := c.urls[registry]
	if !ok {
		return nil, model.NewError(model.ErrConfiguration, string(registry), errors.New("registry endpoint not configured"))
	}
	if id <= 0 {
		return nil, fmt.Errorf("invalid taxpayer id %d", id)
	}

	cred, err := c.credentials.GetCredential(ctx, registry.Service())
	if err != nil {
		return nil, err
	}
	token, sign := cred.Auth()
	body, err := c.soap.Call(ctx, url, "", getPersonaRequest{
		NS:               registry.namespace(),
		Token:            token,
		Sign:             sign,
		CuitRepresentada: c.issuer,
		IDPersona:        id,
	})
	if err != nil {
		// Faults carry the registry's own message, e.g. unknown taxpayer.
		return nil, model.NewError(model.ErrTransportFailure, key, err)
	}

	var resp getPersonaResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, model.NewError(model.ErrResponseParseFailure, key, fmt.Errorf("failed to decode answer: %w", err))
	}
	p := resp.Return.DatosGenerales
	if p == nil {
		p = resp.Return.Persona
	}
	if p == nil {
		return nil, model.NewError(model.ErrResponseParseFailure, key, errors.New("answer has no taxpayer data"))
	}

	rec := &model.TaxpayerRecord{
		TaxID:   p.IDPersona,
		Kind:    strings.TrimSpace(p.TipoPersona),
		Name:    strings.TrimSpace(p.Nombre),
		Surname: strings.TrimSpace(p.Apellido),
		Company: strings.TrimSpace(p.RazonSocial),
		State:   strings.TrimSpace(p.EstadoClave),
		Errors:  resp.Return.ErrorConstancia.Errors,
		RawXML:  body,
	}
	if rec.TaxID == 0 {
		rec.TaxID = id
	}
	if p.DomicilioFiscal != nil {
		rec.Address = p.DomicilioFiscal.toModel()
	} else {
		for _, a := range p.Domicilio {
			if strings.EqualFold(a.Type, "FISCAL") {
				rec.Address = a.toModel()
				break
			}
		}
	}
	c.logger.Debug("taxpayer found",
		zap.String("registry", string(registry)),
		zap.Int64("id", rec.TaxID),
		zap.String("state", rec.State))
	return rec, nil
}

func (c *Client) auditLookup(registry Registry, key string, err error) {
	if c.audit == nil {
		return
	}
	entry := storage.AuditEntry{
		Operation: storage.AuditOpLookup,
		Service:   registry.Service(),
		TupleKey:  key,
		Status:    "ok",
	}
	if err != nil {
		entry.Status = "error"
		entry.Error = model.PublicMessage(err)
	}
	if logErr := c.audit.Log(entry); logErr != nil {
		c.logger.Warn("failed to write audit entry", zap.Error(logErr))
	}
}
