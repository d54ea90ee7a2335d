package soap

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dummy struct {
	XMLName xml.Name `xml:"http://ar.gov.afip.dif.FEV1/ FEDummy"`
	Value   string   `xml:"Value,omitempty"`
}

func TestMarshal(t *testing.T) {
	out, err := Marshal(dummy{Value: "x"})
	require.NoError(t, err)

	s := string(out)
	assert.Contains(t, s, `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">`)
	assert.Contains(t, s, `<soapenv:Body><FEDummy xmlns="http://ar.gov.afip.dif.FEV1/"><Value>x</Value></FEDummy></soapenv:Body>`)
}

func TestCall(t *testing.T) {
	var gotAction, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAction = r.Header.Get("SOAPAction")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		io.WriteString(w, `<?xml version="1.0"?><soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body><FEDummyResponse><AppServer>OK</AppServer></FEDummyResponse></soap:Body></soap:Envelope>`)
	}))
	defer srv.Close()

	c := NewClient(Options{Timeout: time.Second}, nil)
	inner, err := c.Call(context.Background(), srv.URL, "http://ar.gov.afip.dif.FEV1/FEDummy", dummy{})
	require.NoError(t, err)

	assert.Equal(t, `"http://ar.gov.afip.dif.FEV1/FEDummy"`, gotAction)
	assert.Equal(t, "text/xml; charset=utf-8", gotType)
	assert.Contains(t, string(gotBody), "FEDummy")

	var resp struct {
		AppServer string `xml:"AppServer"`
	}
	require.NoError(t, xml.Unmarshal(inner, &resp))
	assert.Equal(t, "OK", resp.AppServer)
}

func TestCallFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body><soapenv:Fault><faultcode>ns1:coe.alreadyAuthenticated</faultcode><faultstring>El CEE ya posee un TA valido para el acceso al WSN solicitado</faultstring></soapenv:Fault></soapenv:Body></soapenv:Envelope>`)
	}))
	defer srv.Close()

	_, err := NewClient(Options{}, nil).Call(context.Background(), srv.URL, "", dummy{})
	require.Error(t, err)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "ns1:coe.alreadyAuthenticated", fault.Code)
	assert.Contains(t, fault.String, "TA valido")
}

func TestCallStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(Options{}, nil).Call(context.Background(), srv.URL, "", dummy{})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Equal(t, "bad gateway", statusErr.Body)
}

func TestCallContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(Options{RateLimit: 1, RateBurst: 1}, nil).Call(ctx, "http://127.0.0.1:0", "", dummy{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUnwrapEmptyBody(t *testing.T) {
	_, err := Unwrap([]byte(`<Envelope><Body>  </Body></Envelope>`))
	assert.Error(t, err)
}
