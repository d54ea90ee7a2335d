package model

import (
	"errors"
	"fmt"
	"time"
)

const dateLayout = "20060102"

// ValidCUIT checks the length and verifier digit of a CUIT/CUIL.
func ValidCUIT(cuit string) bool {
	if len(cuit) != 11 {
		return false
	}
	weights := [10]int{5, 4, 3, 2, 7, 6, 5, 4, 3, 2}
	sum := 0
	for i := 0; i < 11; i++ {
		c := cuit[i]
		if c < '0' || c > '9' {
			return false
		}
		if i < 10 {
			sum += int(c-'0') * weights[i]
		}
	}
	check := 11 - sum%11
	switch check {
	case 11:
		check = 0
	case 10:
		check = 9
	}
	return int(cuit[10]-'0') == check
}

func (h *InvoiceHeader) Validate() error {
	if h.SalesPoint <= 0 {
		return invalid(errors.New("PtoVta must be positive"))
	}
	if h.VoucherType <= 0 {
		return invalid(errors.New("CbteTipo must be positive"))
	}
	if h.RecordCount > 1 {
		return invalid(fmt.Errorf("CantReg %d not supported, one record per request", h.RecordCount))
	}
	if !ValidCUIT(h.IssuerTaxID) {
		return invalid(errors.New("CuitRepresentada is not a valid CUIT"))
	}
	return nil
}

func (d *InvoiceDetail) Validate() error {
	if d.Concept < 1 || d.Concept > 3 {
		return invalid(fmt.Errorf("unsupported Concepto %d", d.Concept))
	}
	if d.DocType <= 0 {
		return invalid(errors.New("missing DocTipo"))
	}
	if d.VoucherDate != "" {
		if _, err := time.Parse(dateLayout, d.VoucherDate); err != nil {
			return invalid(fmt.Errorf("invalid CbteFch: %w", err))
		}
	}
	// Services (2) and products+services (3) carry the service period.
	if d.Concept != 1 {
		for name, v := range map[string]string{
			"FchServDesde": d.ServiceFrom,
			"FchServHasta": d.ServiceTo,
			"FchVtoPago":   d.PaymentDueDate,
		} {
			if _, err := time.Parse(dateLayout, v); err != nil {
				return invalid(fmt.Errorf("concept %d requires %s: %w", d.Concept, name, err))
			}
		}
	}
	if d.Total.IsNegative() {
		return invalid(errors.New("ImpTotal must not be negative"))
	}
	if d.CurrencyID == "" {
		return invalid(errors.New("missing MonId"))
	}
	if !d.CurrencyRate.IsPositive() {
		return invalid(errors.New("MonCotiz must be positive"))
	}
	for i, av := range d.AssociatedVouchers {
		if av.Type <= 0 || av.SalesPoint <= 0 || av.Number <= 0 {
			return invalid(fmt.Errorf("CbtesAsoc[%d] is incomplete", i))
		}
	}
	for i, opt := range d.Optionals {
		if opt.ID == "" {
			return invalid(fmt.Errorf("Opcionales[%d] missing Id", i))
		}
	}
	return nil
}

func invalid(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidInvoice, err)
}
