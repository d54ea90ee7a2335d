package wsaa

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocdoni/gofirma/afipws/internal/afiptest"
	"github.com/vocdoni/gofirma/afipws/internal/crypto/cms"
	"github.com/vocdoni/gofirma/afipws/internal/model"
	"github.com/vocdoni/gofirma/afipws/internal/soap"
	"github.com/vocdoni/gofirma/afipws/internal/storage"
)

type countingSigner struct {
	inner cms.Signer
	calls atomic.Int64
}

func (s *countingSigner) Sign(ctx context.Context, content []byte) ([]byte, error) {
	s.calls.Add(1)
	return s.inner.Sign(ctx, content)
}

type failingSigner struct{}

func (failingSigner) Sign(context.Context, []byte) ([]byte, error) {
	return nil, model.NewError(model.ErrSigningFailure, "", errors.New("token removed"))
}

type stubExchanger struct {
	err error
}

func (s stubExchanger) Exchange(_ context.Context, service string, _ []byte) (*model.Credential, error) {
	return nil, model.NewError(model.ErrExchangeFailure, service, s.err)
}

type fixture struct {
	srv       *afiptest.Server
	signer    *countingSigner
	backend   *storage.MemoryBackend
	store     *storage.CredentialStore
	artifacts *storage.ArtifactStore
	manager   *Manager
}

func newFixture(t *testing.T, configure func(*afiptest.Server)) *fixture {
	t.Helper()
	srv := afiptest.NewServer(t)
	if configure != nil {
		configure(srv)
	}
	id := afiptest.NewIdentity(t)
	f := &fixture{
		srv:     srv,
		signer:  &countingSigner{inner: cms.NewPKCS7Signer(id.Key, id.Cert, nil, nil)},
		backend: storage.NewMemoryBackend(),
	}
	f.store = storage.NewCredentialStore(f.backend, nil)
	f.artifacts = storage.NewArtifactStore(f.backend)
	client := soap.NewClient(soap.Options{Timeout: 5 * time.Second}, nil)
	f.manager = NewManager(ManagerConfig{
		Store:     f.store,
		Artifacts: f.artifacts,
		Signer:    f.signer,
		Exchanger: NewExchanger(client, srv.WSAAURL(), nil),
	})
	return f
}

func TestBuildRequestDocument(t *testing.T) {
	now := time.Date(2024, 5, 10, 15, 30, 0, 0, time.FixedZone("ART", -3*3600))
	req, doc, err := BuildRequestDocument("wsfe", now)
	require.NoError(t, err)

	assert.Equal(t, "1.0", req.Version)
	assert.Equal(t, "wsfe", req.Service)
	assert.Equal(t, now.Unix(), req.Header.UniqueID)
	assert.Equal(t, "2024-05-10T18:25:00Z", req.Header.GenerationTime)
	assert.Equal(t, "2024-05-11T06:30:00Z", req.Header.ExpirationTime)

	parsed, err := model.ParseTicketRequest(doc)
	require.NoError(t, err)
	assert.Equal(t, req.Header, parsed.Header)
	assert.False(t, parsed.Expired(now))
	assert.True(t, parsed.Expired(now.Add(RequestTTL)))
}

func TestBuildRequestDocumentEmptyService(t *testing.T) {
	_, _, err := BuildRequestDocument("", time.Now())
	assert.Error(t, err)
}

func TestParseTicket(t *testing.T) {
	const valid = `<loginTicketResponse version="1.0"><header><expirationTime>2024-05-11T06:30:00.123-03:00</expirationTime></header><credentials><token>T</token><sign>S</sign></credentials></loginTicketResponse>`
	cred, err := ParseTicket("wsfe", []byte(valid))
	require.NoError(t, err)
	assert.Equal(t, "T", cred.Token)
	assert.Equal(t, "S", cred.Sign)
	assert.Equal(t, "wsfe", cred.Service)
	assert.Equal(t, 2024, cred.Expiration.Year())

	tests := []struct {
		name string
		doc  string
		kind error
	}{
		{"not xml", `garbage`, model.ErrExchangeFailure},
		{"no token", `<loginTicketResponse><header><expirationTime>2024-05-11T06:30:00Z</expirationTime></header><credentials><sign>S</sign></credentials></loginTicketResponse>`, model.ErrMalformedTicket},
		{"no sign", `<loginTicketResponse><header><expirationTime>2024-05-11T06:30:00Z</expirationTime></header><credentials><token>T</token></credentials></loginTicketResponse>`, model.ErrMalformedTicket},
		{"no expiration", `<loginTicketResponse><credentials><token>T</token><sign>S</sign></credentials></loginTicketResponse>`, model.ErrMalformedTicket},
		{"bad expiration", `<loginTicketResponse><header><expirationTime>tomorrow</expirationTime></header><credentials><token>T</token><sign>S</sign></credentials></loginTicketResponse>`, model.ErrMalformedTicket},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTicket("wsfe", []byte(tt.doc))
			assert.ErrorIs(t, err, tt.kind)
			assert.Equal(t, "wsfe", model.KeyOf(err))
		})
	}
}

func TestExchangerIssuesTicket(t *testing.T) {
	srv := afiptest.NewServer(t)
	id := afiptest.NewIdentity(t)
	_, doc, err := BuildRequestDocument("wsfe", time.Now())
	require.NoError(t, err)
	envelope, err := cms.NewPKCS7Signer(id.Key, id.Cert, nil, nil).Sign(context.Background(), doc)
	require.NoError(t, err)

	ex := NewExchanger(soap.NewClient(soap.Options{}, nil), srv.WSAAURL(), nil)
	cred, err := ex.Exchange(context.Background(), "wsfe", envelope)
	require.NoError(t, err)
	assert.NotEmpty(t, cred.Token)
	assert.NotEmpty(t, cred.Sign)
	assert.True(t, cred.Valid(time.Now().Add(11*time.Hour)))
	assert.EqualValues(t, 1, srv.LoginCalls.Load())
}

func TestExchangerFault(t *testing.T) {
	srv := afiptest.NewServer(t)
	srv.LoginFault = "El CEE ya posee un TA valido para el acceso al WSN solicitado"

	ex := NewExchanger(soap.NewClient(soap.Options{}, nil), srv.WSAAURL(), nil)
	_, err := ex.Exchange(context.Background(), "wsfe", []byte("not-a-cms"))
	require.ErrorIs(t, err, model.ErrExchangeFailure)
	assert.Contains(t, err.Error(), "ya posee un TA valido")

	var fault *soap.Fault
	assert.True(t, errors.As(err, &fault))
}

func TestExchangerRejectsBadEnvelope(t *testing.T) {
	srv := afiptest.NewServer(t)
	ex := NewExchanger(soap.NewClient(soap.Options{}, nil), srv.WSAAURL(), nil)
	_, err := ex.Exchange(context.Background(), "wsfe", []byte("not-a-cms"))
	assert.ErrorIs(t, err, model.ErrExchangeFailure)
}

func TestManagerCachesCredential(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.manager.GetCredential(ctx, "wsfe")
	require.NoError(t, err)
	second, err := f.manager.GetCredential(ctx, "wsfe")
	require.NoError(t, err)

	assert.Equal(t, first.Token, second.Token)
	assert.EqualValues(t, 1, f.srv.LoginCalls.Load())
	assert.EqualValues(t, 1, f.signer.calls.Load())

	// Consumed artifacts are removed.
	doc, signed, err := f.artifacts.Load(ctx, "wsfe")
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.Nil(t, signed)
}

func TestManagerRefreshesExpiredCredential(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.store.Save(ctx, &model.Credential{
		Service:    "wsfe",
		Token:      "old",
		Sign:       "old",
		Expiration: time.Now().Add(-time.Minute),
	}))

	cred, err := f.manager.GetCredential(ctx, "wsfe")
	require.NoError(t, err)
	assert.NotEqual(t, "old", cred.Token)
	assert.True(t, cred.Valid(time.Now()))
	assert.EqualValues(t, 1, f.srv.LoginCalls.Load())

	stored, err := f.store.Load(ctx, "wsfe")
	require.NoError(t, err)
	assert.Equal(t, cred.Token, stored.Token)
}

func TestManagerSingleFlight(t *testing.T) {
	f := newFixture(t, func(s *afiptest.Server) { s.LoginDelay = 200 * time.Millisecond })

	const callers = 10
	tokens := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cred, err := f.manager.GetCredential(context.Background(), "wsfe")
			errs[i] = err
			if cred != nil {
				tokens[i] = cred.Token
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, tokens[0], tokens[i])
	}
	assert.EqualValues(t, 1, f.srv.LoginCalls.Load())
}

func TestManagerServicesAreIndependent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	a, err := f.manager.GetCredential(ctx, "wsfe")
	require.NoError(t, err)
	b, err := f.manager.GetCredential(ctx, "ws_sr_padron_a5")
	require.NoError(t, err)

	assert.NotEqual(t, a.Token, b.Token)
	assert.Equal(t, "ws_sr_padron_a5", b.Service)
	assert.EqualValues(t, 2, f.srv.LoginCalls.Load())
}

func TestManagerReusesSignedArtifacts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, doc, err := BuildRequestDocument("wsfe", time.Now())
	require.NoError(t, err)
	signed, err := f.signer.inner.Sign(ctx, doc)
	require.NoError(t, err)
	require.NoError(t, f.artifacts.SaveRequest(ctx, "wsfe", doc))
	require.NoError(t, f.artifacts.SaveSigned(ctx, "wsfe", signed))

	_, err = f.manager.GetCredential(ctx, "wsfe")
	require.NoError(t, err)
	assert.EqualValues(t, 0, f.signer.calls.Load())
	assert.EqualValues(t, 1, f.srv.LoginCalls.Load())
}

func TestManagerResignsStoredRequest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, doc, err := BuildRequestDocument("wsfe", time.Now())
	require.NoError(t, err)
	require.NoError(t, f.artifacts.SaveRequest(ctx, "wsfe", doc))
	require.NoError(t, f.artifacts.SaveSigned(ctx, "wsfe", []byte("truncated")))

	_, err = f.manager.GetCredential(ctx, "wsfe")
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.signer.calls.Load())
}

func TestManagerReplacesExpiredRequest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, stale, err := BuildRequestDocument("wsfe", time.Now().Add(-13*time.Hour))
	require.NoError(t, err)
	require.NoError(t, f.artifacts.SaveRequest(ctx, "wsfe", stale))

	_, err = f.manager.GetCredential(ctx, "wsfe")
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.signer.calls.Load())
	assert.EqualValues(t, 1, f.srv.LoginCalls.Load())
}

func TestManagerSigningFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.manager.signer = failingSigner{}

	_, err := f.manager.GetCredential(context.Background(), "wsfe")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrCredentialUnavailable)
	assert.ErrorIs(t, err, model.ErrSigningFailure)
	assert.Equal(t, "wsfe", model.KeyOf(err))
	assert.EqualValues(t, 0, f.srv.LoginCalls.Load())
}

func TestManagerFaultDiscardsArtifacts(t *testing.T) {
	f := newFixture(t, func(s *afiptest.Server) { s.LoginFault = "cms.bad" })
	ctx := context.Background()

	_, err := f.manager.GetCredential(ctx, "wsfe")
	assert.ErrorIs(t, err, model.ErrCredentialUnavailable)
	assert.ErrorIs(t, err, model.ErrExchangeFailure)

	doc, signed, err := f.artifacts.Load(ctx, "wsfe")
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.Nil(t, signed)
}

func TestManagerTransportFailureKeepsArtifacts(t *testing.T) {
	f := newFixture(t, nil)
	f.manager.exchanger = stubExchanger{err: errors.New("connection refused")}
	ctx := context.Background()

	_, err := f.manager.GetCredential(ctx, "wsfe")
	assert.ErrorIs(t, err, model.ErrExchangeFailure)

	doc, signed, err := f.artifacts.Load(ctx, "wsfe")
	require.NoError(t, err)
	assert.NotNil(t, doc)
	assert.NotNil(t, signed)
}

func TestManagerMalformedTicket(t *testing.T) {
	f := newFixture(t, func(s *afiptest.Server) { s.OmitSign = true })
	ctx := context.Background()

	_, err := f.manager.GetCredential(ctx, "wsfe")
	assert.ErrorIs(t, err, model.ErrCredentialUnavailable)
	assert.ErrorIs(t, err, model.ErrMalformedTicket)

	cred, err := f.store.Load(ctx, "wsfe")
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestManagerCorruptStore(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.backend.Put(ctx, "wsfe_token.json", []byte("{")))

	_, err := f.manager.GetCredential(ctx, "wsfe")
	assert.ErrorIs(t, err, model.ErrCredentialUnavailable)
	assert.ErrorIs(t, err, model.ErrStorageCorrupt)
	assert.EqualValues(t, 0, f.srv.LoginCalls.Load())
}

func TestManagerInvalidate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.manager.GetCredential(ctx, "wsfe")
	require.NoError(t, err)
	require.NoError(t, f.manager.Invalidate(ctx, "wsfe"))
	second, err := f.manager.GetCredential(ctx, "wsfe")
	require.NoError(t, err)

	assert.NotEqual(t, first.Token, second.Token)
	assert.EqualValues(t, 2, f.srv.LoginCalls.Load())
}

func TestNormalizeLines(t *testing.T) {
	assert.Equal(t, []byte("a\nb"), normalizeLines([]byte("a\r\nb\r\n")))
}
