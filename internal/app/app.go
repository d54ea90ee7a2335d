// Package app wires configuration, key material, storage and the remote
// service clients together.
package app

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/afipws/internal/config"
	"github.com/vocdoni/gofirma/afipws/internal/crypto/certs"
	"github.com/vocdoni/gofirma/afipws/internal/crypto/cms"
	"github.com/vocdoni/gofirma/afipws/internal/crypto/keystore"
	"github.com/vocdoni/gofirma/afipws/internal/logging"
	"github.com/vocdoni/gofirma/afipws/internal/model"
	"github.com/vocdoni/gofirma/afipws/internal/padron"
	"github.com/vocdoni/gofirma/afipws/internal/soap"
	"github.com/vocdoni/gofirma/afipws/internal/storage"
	"github.com/vocdoni/gofirma/afipws/internal/wsaa"
	"github.com/vocdoni/gofirma/afipws/internal/wsfe"
)

type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	IssuerTaxID string
	TaxIdentity certs.TaxIdentity

	Audit       *storage.AuditLogger
	Credentials *wsaa.Manager
	Invoices    *wsfe.Client
	Registry    *padron.Client

	closers []io.Closer
}

// Options overrides collaborators, mostly for tests.
type Options struct {
	Transport http.RoundTripper
	Now       func() time.Time
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	return NewWithOptions(ctx, cfg, logger, Options{})
}

func NewWithOptions(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	logger = logging.OrNop(logger)
	a := &App{Config: cfg, Logger: logger}

	signer, cert, err := a.loadSigner(ctx)
	if err != nil {
		return nil, err
	}
	a.checkCertificate(cert)

	a.IssuerTaxID = cfg.CUITRepresentada
	if a.IssuerTaxID == "" {
		a.IssuerTaxID = a.TaxIdentity.CUIT
	}
	if a.IssuerTaxID == "" {
		a.Close()
		return nil, model.NewError(model.ErrConfiguration, "", fmt.Errorf("cuit_representada is not set and the certificate carries no CUIT"))
	}

	var vaultPW []byte
	if cfg.Storage.VaultPassword != "" {
		vaultPW = []byte(cfg.Storage.VaultPassword)
	}
	tokens, err := storage.NewFileBackend(cfg.Storage.TokensDir, vaultPW)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open token store: %w", err)
	}
	artifacts, err := storage.NewFileBackend(cfg.Storage.ArtifactsDir, vaultPW)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open artifact store: %w", err)
	}
	a.Audit, err = storage.NewAuditLogger(cfg.Storage.AuditDir, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create audit logger: %w", err)
	}

	client := soap.NewClient(soap.Options{
		Timeout:   cfg.HTTP.Timeout,
		RateLimit: cfg.HTTP.RateLimit,
		RateBurst: cfg.HTTP.RateBurst,
		Transport: opts.Transport,
	}, logger.Named("soap"))

	ep := cfg.ActiveEndpoints()
	a.Credentials = wsaa.NewManager(wsaa.ManagerConfig{
		Store:     storage.NewCredentialStore(tokens, logger.Named("tokens")),
		Artifacts: storage.NewArtifactStore(artifacts),
		Signer:    signer,
		Exchanger: wsaa.NewExchanger(client, ep.WSAA, logger.Named("wsaa")),
		Audit:     a.Audit,
		Logger:    logger.Named("wsaa"),
		Now:       opts.Now,
	})
	a.Invoices = wsfe.NewClient(wsfe.Config{
		SOAP:        client,
		URL:         ep.WSFE,
		Credentials: a.Credentials,
		Audit:       a.Audit,
		Logger:      logger.Named("wsfe"),
	})
	a.Registry = padron.NewClient(padron.Config{
		SOAP:        client,
		Credentials: a.Credentials,
		IssuerTaxID: a.IssuerTaxID,
		A5URL:       ep.PadronA5,
		A13URL:      ep.PadronA13,
		Audit:       a.Audit,
		Logger:      logger.Named("padron"),
	})

	logger.Info("afipws ready",
		zap.String("mode", cfg.Mode),
		zap.String("cuit", a.IssuerTaxID),
		zap.String("signer", cfg.Signer.Backend))
	return a, nil
}

func (a *App) loadSigner(ctx context.Context) (cms.Signer, *x509.Certificate, error) {
	km := a.Config.ActiveKeyMaterial()
	if a.Config.Signer.Backend == "openssl" {
		cert, err := keystore.LoadCertificate(km.CertPath)
		if err != nil {
			return nil, nil, model.NewError(model.ErrConfiguration, "", err)
		}
		return cms.NewOpenSSLSigner(a.Config.Signer.OpenSSLBinary, km.CertPath, km.KeyPath, a.Logger.Named("openssl")), cert, nil
	}

	src := keystore.Source{
		CertPath:       km.CertPath,
		KeyPath:        km.KeyPath,
		PKCS12Path:     km.PKCS12Path,
		PKCS12Password: km.PKCS12Password,
	}
	if km.PKCS11Module != "" {
		src.PKCS11 = &keystore.PKCS11Config{
			ModulePath: km.PKCS11Module,
			Slot:       km.PKCS11Slot,
			PIN:        km.PKCS11PIN,
			KeyLabel:   km.PKCS11Label,
		}
	}
	id, err := keystore.Load(ctx, src)
	if err != nil {
		return nil, nil, model.NewError(model.ErrConfiguration, "", fmt.Errorf("load key material: %w", err))
	}
	if c, ok := id.Signer.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	a.Logger.Debug("key material loaded", zap.String("fingerprint", fmt.Sprintf("%x", id.Fingerprint256[:8])))
	return cms.NewPKCS7Signer(id.Signer, id.Cert, id.Chain, a.Logger.Named("cms")), id.Cert, nil
}

// checkCertificate only warns: the identity service is the authority on
// whether the certificate is accepted.
func (a *App) checkCertificate(cert *x509.Certificate) {
	a.TaxIdentity = certs.ExtractTaxIdentity(cert)
	if a.TaxIdentity.Expired(time.Now()) {
		a.Logger.Warn("signing certificate has expired", zap.Time("not_after", a.TaxIdentity.NotAfter))
	}
	if cuit := a.Config.CUITRepresentada; cuit != "" && a.TaxIdentity.CUIT != "" && cuit != a.TaxIdentity.CUIT {
		a.Logger.Warn("cuit_representada differs from the certificate CUIT",
			zap.String("configured", cuit),
			zap.String("certificate", a.TaxIdentity.CUIT))
	}
}

// AuthorizeInvoice authorizes one voucher. An empty header issuer defaults to
// the configured CUIT.
func (a *App) AuthorizeInvoice(ctx context.Context, header model.InvoiceHeader, detail model.InvoiceDetail) (*model.AuthorizationOutcome, error) {
	if header.IssuerTaxID == "" {
		header.IssuerTaxID = a.IssuerTaxID
	}
	return a.Invoices.Authorize(ctx, header, detail)
}

// LastAuthorized returns the last authorized number of the tuple.
func (a *App) LastAuthorized(ctx context.Context, salesPoint, voucherType int) (int64, error) {
	header := model.InvoiceHeader{SalesPoint: salesPoint, VoucherType: voucherType, IssuerTaxID: a.IssuerTaxID}
	if err := header.Validate(); err != nil {
		return 0, err
	}
	cred, err := a.Credentials.GetCredential(ctx, wsfe.Service)
	if err != nil {
		return 0, err
	}
	return a.Invoices.FetchLastAuthorizedSequence(ctx, cred, header)
}

func (a *App) LookupTaxpayer(ctx context.Context, id int64) (*model.TaxpayerRecord, error) {
	return a.Registry.LookupTaxpayer(ctx, id)
}

// Login returns a valid credential for service, obtaining one if needed.
func (a *App) Login(ctx context.Context, service string) (*model.Credential, error) {
	return a.Credentials.GetCredential(ctx, service)
}

func (a *App) Close() error {
	var firstErr error
	for _, c := range a.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}
