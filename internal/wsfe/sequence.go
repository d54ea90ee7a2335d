package wsfe

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/vocdoni/gofirma/afipws/internal/model"
)

type feErr struct {
	Code int    `xml:"Code"`
	Msg  string `xml:"Msg"`
}

type feErrors struct {
	Items []feErr `xml:"Err"`
}

type feEvents struct {
	Items []feErr `xml:"Evt"`
}

func messages(items []feErr) []model.Message {
	out := make([]model.Message, 0, len(items))
	for _, it := range items {
		out = append(out, model.Message{Code: it.Code, Message: strings.TrimSpace(it.Msg)})
	}
	return out
}

type feCompUltimoAutorizadoResponse struct {
	XMLName xml.Name `xml:"FECompUltimoAutorizadoResponse"`
	Result  struct {
		PtoVta   int      `xml:"PtoVta"`
		CbteTipo int      `xml:"CbteTipo"`
		CbteNro  *string  `xml:"CbteNro"`
		Errors   feErrors `xml:"Errors"`
		Events   feEvents `xml:"Events"`
	} `xml:"FECompUltimoAutorizadoResult"`
}

// Codes 600 to 602 report an invalid, expired or mismatched token/sign.
func isAuthErrorCode(code int) bool {
	return code >= 600 && code <= 602
}

func hasAuthError(msgs []model.Message) bool {
	for _, m := range msgs {
		if isAuthErrorCode(m.Code) {
			return true
		}
	}
	return false
}

// parseLastAuthorized extracts the last authorized number from the body of a
// FECompUltimoAutorizado answer.
func parseLastAuthorized(key string, body []byte) (int64, error) {
	var resp feCompUltimoAutorizadoResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return 0, model.NewError(model.ErrSequenceQueryFailure, key, fmt.Errorf("failed to decode answer: %w", err))
	}
	if errs := messages(resp.Result.Errors.Items); len(errs) > 0 {
		if hasAuthError(errs) {
			return 0, model.NewError(model.ErrCredentialUnavailable, key,
				fmt.Errorf("service rejected the credential (code %d)", errs[0].Code))
		}
		return 0, model.NewError(model.ErrSequenceQueryFailure, key,
			fmt.Errorf("service reported error %d: %s", errs[0].Code, errs[0].Message))
	}
	if resp.Result.CbteNro == nil {
		return 0, model.NewError(model.ErrSequenceQueryFailure, key, fmt.Errorf("answer has no CbteNro"))
	}
	n, err := strconv.ParseInt(strings.TrimSpace(*resp.Result.CbteNro), 10, 64)
	if err != nil || n < 0 {
		return 0, model.NewError(model.ErrSequenceQueryFailure, key, fmt.Errorf("invalid CbteNro %q", *resp.Result.CbteNro))
	}
	return n, nil
}
