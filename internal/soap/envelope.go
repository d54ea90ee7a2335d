package soap

import (
	"encoding/xml"
	"fmt"
	"strings"
)

const EnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"

type requestEnvelope struct {
	XMLName xml.Name    `xml:"soapenv:Envelope"`
	NS      string      `xml:"xmlns:soapenv,attr"`
	Header  struct{}    `xml:"soapenv:Header"`
	Body    requestBody `xml:"soapenv:Body"`
}

type requestBody struct {
	Payload any
}

// Marshal wraps payload in a SOAP 1.1 envelope. payload must carry its own
// XMLName.
func Marshal(payload any) ([]byte, error) {
	out, err := xml.Marshal(requestEnvelope{
		NS:   EnvelopeNS,
		Body: requestBody{Payload: payload},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

type responseEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Fault *Fault `xml:"Fault"`
		Inner []byte `xml:",innerxml"`
	} `xml:"Body"`
}

// Fault is a SOAP 1.1 fault returned by the remote service.
type Fault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
	Actor  string `xml:"faultactor"`
	Detail struct {
		Inner string `xml:",innerxml"`
	} `xml:"detail"`
}

func (f *Fault) Error() string {
	return fmt.Sprintf("soap fault %s: %s", strings.TrimSpace(f.Code), strings.TrimSpace(f.String))
}

// Unwrap parses a SOAP response and returns the raw content of its Body. A
// fault in the body is returned as *Fault.
func Unwrap(data []byte) ([]byte, error) {
	var env responseEnvelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Body.Fault != nil {
		return nil, env.Body.Fault
	}
	if len(strings.TrimSpace(string(env.Body.Inner))) == 0 {
		return nil, fmt.Errorf("empty SOAP body")
	}
	return env.Body.Inner, nil
}
