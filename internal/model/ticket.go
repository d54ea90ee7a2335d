package model

import (
	"encoding/xml"
	"time"
)

const TicketRequestVersion = "1.0"

// TicketRequest is the login ticket request (TRA) submitted to the identity service.
type TicketRequest struct {
	XMLName xml.Name            `xml:"loginTicketRequest"`
	Version string              `xml:"version,attr"`
	Header  TicketRequestHeader `xml:"header"`
	Service string              `xml:"service"`
}

type TicketRequestHeader struct {
	UniqueID       int64  `xml:"uniqueId"`
	GenerationTime string `xml:"generationTime"` // RFC3339
	ExpirationTime string `xml:"expirationTime"` // RFC3339
}

// Expired reports whether the request window has closed at now. Unparsable
// expiration times count as expired.
func (r *TicketRequest) Expired(now time.Time) bool {
	exp, err := time.Parse(time.RFC3339, r.Header.ExpirationTime)
	if err != nil {
		return true
	}
	return !exp.After(now)
}

func (r *TicketRequest) MarshalDocument() ([]byte, error) {
	output, err := xml.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}

func ParseTicketRequest(data []byte) (*TicketRequest, error) {
	var req TicketRequest
	if err := xml.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// TicketResponse is the login ticket returned by loginCms.
type TicketResponse struct {
	XMLName     xml.Name             `xml:"loginTicketResponse"`
	Version     string               `xml:"version,attr"`
	Header      TicketResponseHeader `xml:"header"`
	Credentials struct {
		Token string `xml:"token"`
		Sign  string `xml:"sign"`
	} `xml:"credentials"`
}

type TicketResponseHeader struct {
	Source         string `xml:"source"`
	Destination    string `xml:"destination"`
	UniqueID       string `xml:"uniqueId"`
	GenerationTime string `xml:"generationTime"`
	ExpirationTime string `xml:"expirationTime"`
}
