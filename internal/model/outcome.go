package model

type Result string

const (
	ResultApproved          Result = "A"
	ResultRejected          Result = "R"
	ResultPartiallyObserved Result = "P"
)

func (r Result) String() string {
	switch r {
	case ResultApproved:
		return "approved"
	case ResultRejected:
		return "rejected"
	case ResultPartiallyObserved:
		return "partially-observed"
	default:
		return "unknown"
	}
}

// Message is a code/message pair as reported by the invoicing service for
// observations, errors and events.
type Message struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// AuthorizationOutcome is the classified FECAESolicitar answer.
type AuthorizationOutcome struct {
	Result       Result         `json:"result"`
	IssuerTaxID  string         `json:"cuit,omitempty"`
	SalesPoint   int            `json:"puntoVenta,omitempty"`
	VoucherType  int            `json:"tipoComprobante,omitempty"`
	ProcessedAt  string         `json:"fechaProceso,omitempty"`
	Reprocess    string         `json:"reproceso,omitempty"`
	From         int64          `json:"cbteDesde,omitempty"`
	To           int64          `json:"cbteHasta,omitempty"`
	CAE          string         `json:"cae,omitempty"`
	CAEExpiry    string         `json:"caeFchVto,omitempty"`
	Detail       *OutcomeDetail `json:"detalle,omitempty"`
	Observations []Message      `json:"observaciones"`
	Errors       []Message      `json:"errors"`
	Events       []Message      `json:"events"`
}

// OutcomeDetail echoes the per-voucher part of the answer.
type OutcomeDetail struct {
	Concept     int    `json:"concepto"`
	DocType     int    `json:"docTipo"`
	DocNumber   int64  `json:"docNro"`
	From        int64  `json:"cbteDesde"`
	To          int64  `json:"cbteHasta"`
	VoucherDate string `json:"cbteFch"`
	Result      string `json:"resultado"`
}

func (o *AuthorizationOutcome) Approved() bool {
	return o != nil && o.Result == ResultApproved
}
