package domain

import (
	"strings"
	"time"
)

const DefaultCashMethod = "CASH"

// legacyMethodCodes maps free-text method names found in historic data to
// catalog codes.
var legacyMethodCodes = map[string]string{
	"EFECTIVO":      "CASH",
	"CONTADO":       "CASH",
	"TARJETA":       "CARD",
	"POS":           "CARD",
	"TRANSFERENCIA": "BANK_TRANSFER",
	"TRANSFER":      "BANK_TRANSFER",
	"DEPOSITO":      "BANK_TRANSFER",
	"YAPE":          "YAPE",
	"PLIN":          "PLIN",
}

// NormalizeMethodCode turns operator or legacy input into a catalog code.
func NormalizeMethodCode(raw string) string {
	code := strings.ToUpper(strings.TrimSpace(raw))
	code = strings.Join(strings.Fields(code), "_")
	code = strings.ReplaceAll(code, "-", "_")
	if mapped, ok := legacyMethodCodes[code]; ok {
		return mapped
	}
	return code
}

// DefaultPaymentMethods is the catalog a tenant starts with.
func DefaultPaymentMethods(tenantID string, now time.Time) []PaymentMethod {
	return []PaymentMethod{
		{TenantID: tenantID, Code: DefaultCashMethod, DisplayName: "Efectivo", IsCash: true, Active: true, CreatedAt: now},
		{TenantID: tenantID, Code: "YAPE", DisplayName: "Yape", Active: true, CreatedAt: now},
		{TenantID: tenantID, Code: "PLIN", DisplayName: "Plin", Active: true, CreatedAt: now},
		{TenantID: tenantID, Code: "CARD", DisplayName: "Tarjeta", Active: true, CreatedAt: now},
		{TenantID: tenantID, Code: "BANK_TRANSFER", DisplayName: "Transferencia", Active: true, CreatedAt: now},
	}
}

// CashMethodCode picks the tenant's cash method. CASH wins when several
// methods are flagged as cash; DefaultCashMethod is used when none is.
func CashMethodCode(methods []PaymentMethod) string {
	code := ""
	for _, m := range methods {
		if !m.IsCash {
			continue
		}
		if m.Code == DefaultCashMethod {
			return m.Code
		}
		if code == "" || m.Code < code {
			code = m.Code
		}
	}
	if code == "" {
		return DefaultCashMethod
	}
	return code
}

// NormalizeDirection accepts IN/OUT and the legacy INGRESO/EGRESO spelling.
func NormalizeDirection(raw string) string {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case DirectionIn, "INGRESO":
		return DirectionIn
	case DirectionOut, "EGRESO":
		return DirectionOut
	default:
		return ""
	}
}
