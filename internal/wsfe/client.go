package wsfe

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/afipws/internal/logging"
	"github.com/vocdoni/gofirma/afipws/internal/model"
	"github.com/vocdoni/gofirma/afipws/internal/soap"
	"github.com/vocdoni/gofirma/afipws/internal/storage"
)

// Service is the identity service name of the invoicing service.
const Service = "wsfe"

// CredentialSource hands out valid credentials and accepts invalidations when
// the invoicing service rejects one.
type CredentialSource interface {
	GetCredential(ctx context.Context, service string) (*model.Credential, error)
	Invalidate(ctx context.Context, service string) error
}

type Config struct {
	SOAP        *soap.Client
	URL         string
	Credentials CredentialSource
	Audit       *storage.AuditLogger // optional
	Logger      *zap.Logger
}

// Client authorizes vouchers. Authorizations for the same
// (CUIT, sales point, voucher type) tuple are serialized so that reading the
// last number and submitting the next one never interleave within a process.
type Client struct {
	soap        *soap.Client
	url         string
	credentials CredentialSource
	audit       *storage.AuditLogger
	logger      *zap.Logger
	locks       *tupleLocks
}

func NewClient(cfg Config) *Client {
	return &Client{
		soap:        cfg.SOAP,
		url:         cfg.URL,
		credentials: cfg.Credentials,
		audit:       cfg.Audit,
		logger:      logging.OrNop(cfg.Logger),
		locks:       newTupleLocks(),
	}
}

// FetchLastAuthorizedSequence returns the last authorized number for the
// tuple of header, 0 when none was ever authorized.
func (c *Client) FetchLastAuthorizedSequence(ctx context.Context, cred *model.Credential, header model.InvoiceHeader) (int64, error) {
	key := header.TupleKey()
	body, err := c.soap.Call(ctx, c.url, action("FECompUltimoAutorizado"), feCompUltimoAutorizadoRequest{
		Auth:     newAuth(cred, header.IssuerTaxID),
		PtoVta:   header.SalesPoint,
		CbteTipo: header.VoucherType,
	})
	if err != nil {
		return 0, model.NewError(model.ErrSequenceQueryFailure, key, model.NewError(model.ErrTransportFailure, "", err))
	}
	last, err := parseLastAuthorized(key, body)
	if err != nil {
		if errors.Is(err, model.ErrCredentialUnavailable) {
			c.invalidate(ctx)
		}
		return 0, err
	}
	c.logger.Debug("last authorized voucher", zap.String("tuple", key), zap.Int64("number", last))
	return last, nil
}

// Submit posts a built FECAESolicitar envelope and returns the raw answer.
func (c *Client) Submit(ctx context.Context, envelope []byte) ([]byte, error) {
	return c.submit(ctx, "", envelope)
}

func (c *Client) submit(ctx context.Context, key string, envelope []byte) ([]byte, error) {
	raw, err := c.soap.Post(ctx, c.url, action("FECAESolicitar"), envelope)
	if err != nil {
		return nil, model.NewError(model.ErrTransportFailure, key, err)
	}
	return raw, nil
}

// Authorize runs the full protocol for one voucher: obtain a credential,
// read the last number of the tuple, submit the next one and classify the
// answer. Remote rejections are returned as an outcome, not as an error.
func (c *Client) Authorize(ctx context.Context, header model.InvoiceHeader, detail model.InvoiceDetail) (*model.AuthorizationOutcome, error) {
	if err := header.Validate(); err != nil {
		return nil, err
	}
	if err := detail.Validate(); err != nil {
		return nil, err
	}
	key := header.TupleKey()
	log := c.logger.With(zap.String("tuple", key))

	cred, err := c.credentials.GetCredential(ctx, Service)
	if err != nil {
		c.auditAuthorize(key, 0, nil, err)
		return nil, err
	}

	release, err := c.locks.acquire(ctx, key)
	if err != nil {
		err = model.NewError(model.ErrSequenceQueryFailure, key, err)
		c.auditAuthorize(key, 0, nil, err)
		return nil, err
	}
	defer release()

	last, err := c.FetchLastAuthorizedSequence(ctx, cred, header)
	if err != nil {
		c.auditAuthorize(key, 0, nil, err)
		return nil, err
	}
	detail.From, detail.To = AssignSequenceRange(last)
	log = log.With(zap.Int64("number", detail.From))

	envelope, err := BuildAuthorizationRequest(cred, header, detail)
	if err != nil {
		err = model.NewError(model.ErrInvalidInvoice, key, err)
		c.auditAuthorize(key, detail.From, nil, err)
		return nil, err
	}

	raw, err := c.submit(ctx, key, envelope)
	if err != nil {
		log.Warn("authorization request failed", zap.Error(err))
		c.auditAuthorize(key, detail.From, nil, err)
		return nil, err
	}

	outcome, err := Classify(raw)
	if err != nil {
		log.Warn("could not classify authorization answer", zap.Error(err))
		c.auditAuthorize(key, detail.From, nil, err)
		return nil, err
	}
	if outcome.Detail != nil && (outcome.From != detail.From || outcome.To != detail.To) {
		log.Warn("answer echoes a different voucher range",
			zap.Int64("sent_from", detail.From), zap.Int64("sent_to", detail.To),
			zap.Int64("echo_from", outcome.From), zap.Int64("echo_to", outcome.To))
	}
	if hasAuthError(outcome.Errors) {
		c.invalidate(ctx)
	}

	log.Info("voucher processed",
		zap.Stringer("result", outcome.Result),
		zap.Int("observations", len(outcome.Observations)),
		zap.Int("errors", len(outcome.Errors)))
	c.auditAuthorize(key, detail.From, outcome, nil)
	return outcome, nil
}

type feDummyResponse struct {
	XMLName xml.Name `xml:"FEDummyResponse"`
	Result  struct {
		AppServer  string `xml:"AppServer"`
		DbServer   string `xml:"DbServer"`
		AuthServer string `xml:"AuthServer"`
	} `xml:"FEDummyResult"`
}

// Health reports the state of the invoicing service components.
type Health struct {
	AppServer  string `json:"appServer"`
	DbServer   string `json:"dbServer"`
	AuthServer string `json:"authServer"`
}

func (h Health) OK() bool {
	return h.AppServer == "OK" && h.DbServer == "OK" && h.AuthServer == "OK"
}

// ServerStatus calls FEDummy, which needs no credential.
func (c *Client) ServerStatus(ctx context.Context) (Health, error) {
	body, err := c.soap.Call(ctx, c.url, action("FEDummy"), feDummyRequest{})
	if err != nil {
		return Health{}, model.NewError(model.ErrTransportFailure, "", err)
	}
	var resp feDummyResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return Health{}, model.NewError(model.ErrResponseParseFailure, "", fmt.Errorf("failed to decode answer: %w", err))
	}
	return Health(resp.Result), nil
}

func (c *Client) invalidate(ctx context.Context) {
	if err := c.credentials.Invalidate(ctx, Service); err != nil {
		c.logger.Warn("failed to invalidate rejected credential", zap.Error(err))
	}
}

func (c *Client) auditAuthorize(key string, from int64, outcome *model.AuthorizationOutcome, err error) {
	if c.audit == nil {
		return
	}
	entry := storage.AuditEntry{
		Operation: storage.AuditOpAuthorize,
		Service:   Service,
		TupleKey:  key,
		From:      from,
		To:        from,
		Status:    "ok",
	}
	if outcome != nil {
		entry.Result = outcome.Result.String()
		entry.CAE = outcome.CAE
	}
	if err != nil {
		entry.Status = "error"
		entry.Error = model.PublicMessage(err)
	}
	if logErr := c.audit.Log(entry); logErr != nil {
		c.logger.Warn("failed to write audit entry", zap.Error(logErr))
	}
}
