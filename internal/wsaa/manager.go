package wsaa

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vocdoni/gofirma/afipws/internal/crypto/cms"
	"github.com/vocdoni/gofirma/afipws/internal/logging"
	"github.com/vocdoni/gofirma/afipws/internal/model"
	"github.com/vocdoni/gofirma/afipws/internal/soap"
	"github.com/vocdoni/gofirma/afipws/internal/storage"
)

// TicketExchanger is the identity service side of a refresh.
type TicketExchanger interface {
	Exchange(ctx context.Context, service string, envelope []byte) (*model.Credential, error)
}

type ManagerConfig struct {
	Store     *storage.CredentialStore
	Artifacts *storage.ArtifactStore
	Signer    cms.Signer
	Exchanger TicketExchanger
	Audit     *storage.AuditLogger // optional
	Logger    *zap.Logger
	Now       func() time.Time
}

// Manager hands out login tickets that are valid at the time of return,
// refreshing them at most once concurrently per service.
type Manager struct {
	store     *storage.CredentialStore
	artifacts *storage.ArtifactStore
	signer    cms.Signer
	exchanger TicketExchanger
	audit     *storage.AuditLogger
	logger    *zap.Logger
	now       func() time.Time

	group singleflight.Group
}

func NewManager(cfg ManagerConfig) *Manager {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store:     cfg.Store,
		artifacts: cfg.Artifacts,
		signer:    cfg.Signer,
		exchanger: cfg.Exchanger,
		audit:     cfg.Audit,
		logger:    logging.OrNop(cfg.Logger),
		now:       now,
	}
}

// GetCredential returns a credential for service whose expiration is in the
// future. Failures are tagged ErrCredentialUnavailable and are not retried.
func (m *Manager) GetCredential(ctx context.Context, service string) (*model.Credential, error) {
	cred, err := m.store.Load(ctx, service)
	if err != nil {
		return nil, model.NewError(model.ErrCredentialUnavailable, service, err)
	}
	if cred.Valid(m.now()) {
		return cred, nil
	}

	v, err, shared := m.group.Do(service, func() (any, error) {
		return m.refresh(ctx, service)
	})
	if err != nil {
		return nil, model.NewError(model.ErrCredentialUnavailable, service, err)
	}
	if shared {
		m.logger.Debug("joined in-flight refresh", zap.String("service", service))
	}
	c := *v.(*model.Credential)
	return &c, nil
}

// Invalidate drops the stored credential of service, forcing the next
// GetCredential to refresh.
func (m *Manager) Invalidate(ctx context.Context, service string) error {
	m.logger.Info("invalidating credential", zap.String("service", service))
	return m.store.Invalidate(ctx, service)
}

func (m *Manager) refresh(ctx context.Context, service string) (*model.Credential, error) {
	// A flight that finished just before this one started may already have
	// stored a fresh ticket.
	if cred, err := m.store.Load(ctx, service); err == nil && cred.Valid(m.now()) {
		return cred, nil
	}
	m.logger.Info("credential missing or expired, refreshing", zap.String("service", service))

	envelope, err := m.signedEnvelope(ctx, service)
	if err != nil {
		m.auditLogin(service, err)
		return nil, err
	}

	cred, err := m.exchanger.Exchange(ctx, service, envelope)
	if err != nil {
		// The service answered and refused this envelope; it must not be reused.
		var fault *soap.Fault
		if errors.As(err, &fault) || errors.Is(err, model.ErrMalformedTicket) {
			m.discardArtifacts(ctx, service)
		}
		m.auditLogin(service, err)
		return nil, err
	}
	cred.Service = service
	if !cred.Valid(m.now()) {
		err := model.NewError(model.ErrMalformedTicket, service, fmt.Errorf("ticket expired at %s", cred.Expiration.Format(time.RFC3339)))
		m.discardArtifacts(ctx, service)
		m.auditLogin(service, err)
		return nil, err
	}

	if err := m.store.Save(ctx, cred); err != nil {
		m.auditLogin(service, err)
		return nil, fmt.Errorf("persist credential: %w", err)
	}
	m.discardArtifacts(ctx, service)
	m.auditLogin(service, nil)
	return cred, nil
}

// signedEnvelope returns the signed ticket request for service, reusing the
// persisted artifacts while their request window is open.
func (m *Manager) signedEnvelope(ctx context.Context, service string) ([]byte, error) {
	doc, signed, err := m.artifacts.Load(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("load artifacts: %w", err)
	}
	if doc != nil {
		req, parseErr := model.ParseTicketRequest(doc)
		if parseErr == nil && req.Service == service && !req.Expired(m.now()) {
			if signed != nil && signedContentMatches(signed, doc) {
				m.logger.Debug("reusing signed ticket request", zap.String("service", service))
				return signed, nil
			}
			m.logger.Debug("signing stored ticket request", zap.String("service", service))
			return m.sign(ctx, service, doc)
		}
		m.logger.Debug("stored ticket request unusable, building a new one", zap.String("service", service))
	}

	_, doc, err = BuildRequestDocument(service, m.now())
	if err != nil {
		return nil, err
	}
	if err := m.artifacts.SaveRequest(ctx, service, doc); err != nil {
		return nil, fmt.Errorf("save ticket request: %w", err)
	}
	return m.sign(ctx, service, doc)
}

func (m *Manager) sign(ctx context.Context, service string, doc []byte) ([]byte, error) {
	signed, err := m.signer.Sign(ctx, doc)
	if err != nil {
		return nil, err
	}
	if err := m.artifacts.SaveSigned(ctx, service, signed); err != nil {
		return nil, fmt.Errorf("save signed ticket request: %w", err)
	}
	return signed, nil
}

// signedContentMatches reports whether signed encapsulates doc. openssl
// smime canonicalizes line endings to CRLF. Envelopes that cannot be parsed
// are treated as stale.
func signedContentMatches(signed, doc []byte) bool {
	content, _, err := cms.Verify(signed)
	if err != nil {
		return false
	}
	return bytes.Equal(normalizeLines(content), normalizeLines(doc))
}

func normalizeLines(b []byte) []byte {
	return bytes.TrimSpace(bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n")))
}

func (m *Manager) discardArtifacts(ctx context.Context, service string) {
	if err := m.artifacts.Remove(ctx, service); err != nil {
		m.logger.Warn("failed to remove ticket request artifacts", zap.String("service", service), zap.Error(err))
	}
}

func (m *Manager) auditLogin(service string, err error) {
	if m.audit == nil {
		return
	}
	entry := storage.AuditEntry{Operation: storage.AuditOpLogin, Service: service, Status: "ok"}
	if err != nil {
		entry.Status = "error"
		entry.Error = err.Error()
	}
	if logErr := m.audit.Log(entry); logErr != nil {
		m.logger.Warn("failed to write audit entry", zap.Error(logErr))
	}
}
