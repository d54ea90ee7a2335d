package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/afipws/internal/logging"
	"github.com/vocdoni/gofirma/afipws/internal/model"
)

// credentialRecord is the persisted form, one per service.
type credentialRecord struct {
	Token          string `json:"token"`
	Sign           string `json:"sign"`
	ExpirationTime string `json:"expirationTime"`
}

func credentialKey(service string) string {
	return service + "_token.json"
}

// CredentialStore persists login tickets per service and keeps the last
// loaded value of each in memory.
type CredentialStore struct {
	backend Backend
	logger  *zap.Logger

	mu    sync.RWMutex
	cache map[string]*model.Credential
}

func NewCredentialStore(backend Backend, logger *zap.Logger) *CredentialStore {
	return &CredentialStore{
		backend: backend,
		logger:  logging.OrNop(logger),
		cache:   make(map[string]*model.Credential),
	}
}

// Load returns the stored credential for service, or nil when none exists.
func (s *CredentialStore) Load(ctx context.Context, service string) (*model.Credential, error) {
	s.mu.RLock()
	cached, ok := s.cache[service]
	s.mu.RUnlock()
	if ok {
		c := *cached
		return &c, nil
	}

	data, err := s.backend.Get(ctx, credentialKey(service))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	cred, err := decodeCredential(service, data)
	if err != nil {
		return nil, model.NewError(model.ErrStorageCorrupt, service, err)
	}

	s.mu.Lock()
	s.cache[service] = cred
	s.mu.Unlock()
	c := *cred
	return &c, nil
}

// Save overwrites the credential of cred.Service.
func (s *CredentialStore) Save(ctx context.Context, cred *model.Credential) error {
	data, err := json.MarshalIndent(credentialRecord{
		Token:          cred.Token,
		Sign:           cred.Sign,
		ExpirationTime: cred.Expiration.Format(time.RFC3339Nano),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}
	if err := s.backend.Put(ctx, credentialKey(cred.Service), data); err != nil {
		return err
	}

	c := *cred
	s.mu.Lock()
	s.cache[cred.Service] = &c
	s.mu.Unlock()
	s.logger.Debug("credential saved",
		zap.String("service", cred.Service),
		zap.Time("expiration", cred.Expiration))
	return nil
}

// Invalidate forgets the credential of service both in memory and on the backend.
func (s *CredentialStore) Invalidate(ctx context.Context, service string) error {
	s.mu.Lock()
	delete(s.cache, service)
	s.mu.Unlock()
	return s.backend.Delete(ctx, credentialKey(service))
}

// IsValid reports whether cred is alive at now.
func IsValid(cred *model.Credential, now time.Time) bool {
	return cred.Valid(now)
}

func decodeCredential(service string, data []byte) (*model.Credential, error) {
	var rec credentialRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	switch {
	case rec.Token == "":
		return nil, errors.New("missing token")
	case rec.Sign == "":
		return nil, errors.New("missing sign")
	case rec.ExpirationTime == "":
		return nil, errors.New("missing expirationTime")
	}
	exp, err := time.Parse(time.RFC3339Nano, rec.ExpirationTime)
	if err != nil {
		return nil, fmt.Errorf("invalid expirationTime: %w", err)
	}
	return &model.Credential{
		Service:    service,
		Token:      rec.Token,
		Sign:       rec.Sign,
		Expiration: exp,
	}, nil
}
