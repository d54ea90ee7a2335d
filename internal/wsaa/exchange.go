package wsaa

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/afipws/internal/logging"
	"github.com/vocdoni/gofirma/afipws/internal/model"
	"github.com/vocdoni/gofirma/afipws/internal/soap"
)

const Namespace = "http://wsaa.view.sua.dvadac.desein.afip.gov"

type loginCmsRequest struct {
	XMLName xml.Name `xml:"http://wsaa.view.sua.dvadac.desein.afip.gov loginCms"`
	In0     string   `xml:"in0"`
}

type loginCmsResponse struct {
	Return string `xml:"loginCmsReturn"`
}

// Exchanger trades a signed ticket request for a login ticket.
type Exchanger struct {
	client *soap.Client
	url    string
	logger *zap.Logger
}

func NewExchanger(client *soap.Client, url string, logger *zap.Logger) *Exchanger {
	return &Exchanger{client: client, url: url, logger: logging.OrNop(logger)}
}

func (e *Exchanger) Exchange(ctx context.Context, service string, envelope []byte) (*model.Credential, error) {
	inner, err := e.client.Call(ctx, e.url, "", loginCmsRequest{
		In0: base64.StdEncoding.EncodeToString(envelope),
	})
	if err != nil {
		return nil, model.NewError(model.ErrExchangeFailure, service, err)
	}

	var resp loginCmsResponse
	if err := xml.Unmarshal(inner, &resp); err != nil {
		return nil, model.NewError(model.ErrExchangeFailure, service, fmt.Errorf("unmarshal loginCms response: %w", err))
	}
	if strings.TrimSpace(resp.Return) == "" {
		return nil, model.NewError(model.ErrExchangeFailure, service, errors.New("empty loginCmsReturn"))
	}

	cred, err := ParseTicket(service, []byte(resp.Return))
	if err != nil {
		return nil, err
	}
	e.logger.Info("login ticket issued",
		zap.String("service", service),
		zap.Time("expiration", cred.Expiration))
	return cred, nil
}

// ParseTicket decodes a loginTicketResponse document.
func ParseTicket(service string, doc []byte) (*model.Credential, error) {
	var ticket model.TicketResponse
	if err := xml.Unmarshal(doc, &ticket); err != nil {
		return nil, model.NewError(model.ErrExchangeFailure, service, fmt.Errorf("unmarshal login ticket: %w", err))
	}

	token := strings.TrimSpace(ticket.Credentials.Token)
	sign := strings.TrimSpace(ticket.Credentials.Sign)
	expRaw := strings.TrimSpace(ticket.Header.ExpirationTime)
	switch {
	case token == "":
		return nil, model.NewError(model.ErrMalformedTicket, service, errors.New("missing credentials.token"))
	case sign == "":
		return nil, model.NewError(model.ErrMalformedTicket, service, errors.New("missing credentials.sign"))
	case expRaw == "":
		return nil, model.NewError(model.ErrMalformedTicket, service, errors.New("missing header.expirationTime"))
	}
	exp, err := time.Parse(time.RFC3339Nano, expRaw)
	if err != nil {
		return nil, model.NewError(model.ErrMalformedTicket, service, fmt.Errorf("invalid header.expirationTime: %w", err))
	}
	return &model.Credential{
		Service:    service,
		Token:      token,
		Sign:       sign,
		Expiration: exp,
	}, nil
}
