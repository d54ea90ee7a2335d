package afiptest

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vocdoni/gofirma/afipws/internal/crypto/cms"
	"github.com/vocdoni/gofirma/afipws/internal/model"
	"github.com/vocdoni/gofirma/afipws/internal/soap"
)

const (
	wsaaNS = "http://wsaa.view.sua.dvadac.desein.afip.gov"
	wsfeNS = "http://ar.gov.afip.dif.FEV1/"
	a5NS   = "http://a5.soap.ws.server.puc.sr/"
	a13NS  = "http://a13.soap.ws.server.puc.sr/"
)

// Taxpayer is a registry entry served by the fake registry services.
type Taxpayer struct {
	ID       int64
	Kind     string
	Name     string
	Surname  string
	Company  string
	State    string
	Street   string
	City     string
	Province string
	Postal   string
}

type issued struct {
	service    string
	expiration time.Time
}

// Server fakes the identity service (loginCms), the invoicing service
// (FEDummy, FECompUltimoAutorizado, FECAESolicitar) and the A5/A13 registry
// (getPersona). Exported fields may be changed before the first request.
type Server struct {
	TicketTTL  time.Duration
	LoginDelay time.Duration
	// LoginFault, when set, makes loginCms answer with that fault string.
	LoginFault string
	// OmitSign makes loginCms issue tickets without a sign.
	OmitSign bool

	LoginCalls     atomic.Int64
	SequenceCalls  atomic.Int64
	SolicitarCalls atomic.Int64

	mu        sync.Mutex
	tokens    map[string]issued
	last      map[string]int64
	submitted [][]byte
	reject    *model.Message
	taxpayers map[int64]Taxpayer
	caeSeq    int64

	srv *httptest.Server
}

func newServer() *Server {
	return &Server{
		TicketTTL: 12 * time.Hour,
		tokens:    make(map[string]issued),
		last:      make(map[string]int64),
		taxpayers: make(map[int64]Taxpayer),
		caeSeq:    75000000000000,
	}
}

// NewServer starts a fake on a local port and stops it when t finishes.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := newServer()
	s.srv = httptest.NewServer(s.Handler())
	t.Cleanup(s.srv.Close)
	return s
}

// NewStandalone returns a fake that is not listening, for use with Handler.
func NewStandalone() *Server {
	return newServer()
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/wsaa", s.handleWSAA)
	mux.HandleFunc("/wsfe", s.handleWSFE)
	mux.HandleFunc("/padron-a5", s.handlePadron(a5NS, "ws_sr_padron_a5"))
	mux.HandleFunc("/padron-a13", s.handlePadron(a13NS, "ws_sr_padron_a13"))
	return mux
}

func (s *Server) URL() string          { return s.srv.URL }
func (s *Server) WSAAURL() string      { return s.srv.URL + "/wsaa" }
func (s *Server) WSFEURL() string      { return s.srv.URL + "/wsfe" }
func (s *Server) A5URL() string        { return s.srv.URL + "/padron-a5" }
func (s *Server) A13URL() string       { return s.srv.URL + "/padron-a13" }
func (s *Server) Client() *http.Client { return s.srv.Client() }

// IssueCredential mints a credential for service without going through
// loginCms.
func (s *Server) IssueCredential(service string) *model.Credential {
	token, sign := "token-"+uuid.NewString(), "sign-"+uuid.NewString()
	exp := time.Now().Add(s.TicketTTL)
	s.mu.Lock()
	s.tokens[token] = issued{service: service, expiration: exp}
	s.mu.Unlock()
	return &model.Credential{Service: service, Token: token, Sign: sign, Expiration: exp}
}

// RevokeAll makes every issued token invalid.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]issued)
}

// SetLast sets the last authorized number of a tuple.
func (s *Server) SetLast(cuit string, salesPoint, voucherType int, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[tupleKey(cuit, salesPoint, voucherType)] = n
}

func (s *Server) Last(cuit string, salesPoint, voucherType int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[tupleKey(cuit, salesPoint, voucherType)]
}

// RejectNext makes the next valid FECAESolicitar answer R with obs as
// observation.
func (s *Server) RejectNext(obs model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = &obs
}

// Submitted returns the raw FECAESolicitar request envelopes received so far.
func (s *Server) Submitted() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.submitted))
	copy(out, s.submitted)
	return out
}

func (s *Server) AddTaxpayer(tp Taxpayer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taxpayers[tp.ID] = tp
}

func tupleKey(cuit string, salesPoint, voucherType int) string {
	return fmt.Sprintf("%s/%d/%d", cuit, salesPoint, voucherType)
}

func (s *Server) validToken(token, service string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.tokens[token]
	return ok && it.service == service && it.expiration.After(time.Now())
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	body, err := soap.Unwrap(raw)
	if err != nil {
		writeFault(w, "soapenv:Client", err.Error())
		return nil, false
	}
	return body, true
}

func writeBody(w http.ResponseWriter, payload any) {
	out, err := soap.Marshal(payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = w.Write(out)
}

type fault struct {
	XMLName xml.Name `xml:"soapenv:Fault"`
	Code    string   `xml:"faultcode"`
	String  string   `xml:"faultstring"`
}

func writeFault(w http.ResponseWriter, code, msg string) {
	out, err := soap.Marshal(fault{Code: code, String: msg})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write(out)
}

// Identity service.

type loginCms struct {
	In0 string `xml:"in0"`
}

type loginCmsResponse struct {
	XMLName xml.Name `xml:"http://wsaa.view.sua.dvadac.desein.afip.gov loginCmsResponse"`
	Return  string   `xml:"loginCmsReturn"`
}

func (s *Server) handleWSAA(w http.ResponseWriter, r *http.Request) {
	s.LoginCalls.Add(1)
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	if s.LoginDelay > 0 {
		time.Sleep(s.LoginDelay)
	}
	if s.LoginFault != "" {
		writeFault(w, "ns1:coe.alreadyAuthenticated", s.LoginFault)
		return
	}

	var req loginCms
	if err := xml.Unmarshal(body, &req); err != nil {
		writeFault(w, "ns1:xml.bad", err.Error())
		return
	}
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(req.In0))
	if err != nil {
		writeFault(w, "ns1:cms.bad.base64", "CMS no es base64")
		return
	}
	content, signer, err := cms.Verify(der)
	if err != nil || signer == nil {
		writeFault(w, "ns1:cms.bad", "CMS invalido")
		return
	}
	tra, err := model.ParseTicketRequest(content)
	if err != nil || tra.Service == "" {
		writeFault(w, "ns1:xml.bad", "TRA invalido")
		return
	}
	now := time.Now()
	if tra.Expired(now) {
		writeFault(w, "ns1:cms.ticket.expired", "TRA expirado")
		return
	}

	cred := s.IssueCredential(tra.Service)
	ticket := model.TicketResponse{Version: "1.0"}
	ticket.Header = model.TicketResponseHeader{
		Source:         "CN=wsaahomo, O=AFIP, C=AR, SERIALNUMBER=CUIT 33693450239",
		Destination:    signer.Subject.String(),
		UniqueID:       fmt.Sprint(tra.Header.UniqueID),
		GenerationTime: now.Format(time.RFC3339Nano),
		ExpirationTime: cred.Expiration.Format(time.RFC3339Nano),
	}
	ticket.Credentials.Token = cred.Token
	if !s.OmitSign {
		ticket.Credentials.Sign = cred.Sign
	}
	doc, err := xml.Marshal(ticket)
	if err != nil {
		writeFault(w, "ns1:internal", err.Error())
		return
	}
	writeBody(w, loginCmsResponse{Return: xml.Header + string(doc)})
}
