package storage

import (
	"context"
	"errors"
)

// ArtifactStore keeps the last login ticket request of each service and its
// signed form, so an interrupted refresh can resume without re-signing.
type ArtifactStore struct {
	backend Backend
}

func NewArtifactStore(backend Backend) *ArtifactStore {
	return &ArtifactStore{backend: backend}
}

func requestKey(service string) string { return service + "_TRA.xml" }
func signedKey(service string) string  { return service + "_TRA.cms" }

// Load returns the stored request document and signed envelope. Either may
// be nil when missing.
func (a *ArtifactStore) Load(ctx context.Context, service string) (request, signed []byte, err error) {
	request, err = a.get(ctx, requestKey(service))
	if err != nil {
		return nil, nil, err
	}
	signed, err = a.get(ctx, signedKey(service))
	if err != nil {
		return nil, nil, err
	}
	return request, signed, nil
}

func (a *ArtifactStore) SaveRequest(ctx context.Context, service string, doc []byte) error {
	return a.backend.Put(ctx, requestKey(service), doc)
}

func (a *ArtifactStore) SaveSigned(ctx context.Context, service string, envelope []byte) error {
	return a.backend.Put(ctx, signedKey(service), envelope)
}

// Remove drops both artifacts once they have been exchanged.
func (a *ArtifactStore) Remove(ctx context.Context, service string) error {
	return errors.Join(
		a.backend.Delete(ctx, signedKey(service)),
		a.backend.Delete(ctx, requestKey(service)),
	)
}

func (a *ArtifactStore) get(ctx context.Context, key string) ([]byte, error) {
	data, err := a.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return data, err
}
