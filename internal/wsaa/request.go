// Package wsaa obtains and caches login tickets from the identity service.
package wsaa

import (
	"fmt"
	"time"

	"github.com/vocdoni/gofirma/afipws/internal/model"
)

// Skew applied around now when building a ticket request. The backward skew
// tolerates clocks running ahead of the identity service.
const (
	GenerationSkew = 5 * time.Minute
	RequestTTL     = 12 * time.Hour
)

// BuildRequestDocument builds the login ticket request for service and
// returns it together with its XML encoding.
func BuildRequestDocument(service string, now time.Time) (*model.TicketRequest, []byte, error) {
	if service == "" {
		return nil, nil, fmt.Errorf("empty service name")
	}
	now = now.UTC()
	req := &model.TicketRequest{
		Version: model.TicketRequestVersion,
		Header: model.TicketRequestHeader{
			UniqueID:       now.Unix(),
			GenerationTime: now.Add(-GenerationSkew).Format(time.RFC3339),
			ExpirationTime: now.Add(RequestTTL).Format(time.RFC3339),
		},
		Service: service,
	}
	doc, err := req.MarshalDocument()
	if err != nil {
		return nil, nil, fmt.Errorf("marshal ticket request: %w", err)
	}
	return req, doc, nil
}
