// Package timeline renders sessions and their ledger entries as one
// chronologically ordered audit log.
package timeline

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"washly/backend/internal/domain"
)

// BuildSession returns every event of one session: its opening, all sale
// payments (voided included), all manual movements and, once closed, its close.
func BuildSession(ledger domain.SessionLedger) []domain.TimelineEvent {
	s := ledger.Session
	events := make([]domain.TimelineEvent, 0, 2+len(ledger.Payments)+len(ledger.Movements))
	events = append(events, openEvent(s))
	for _, p := range ledger.Payments {
		events = append(events, saleEvent(p))
	}
	for _, m := range ledger.Movements {
		events = append(events, movementEvent(m))
	}
	if s.State == domain.SessionStateClosed && s.ClosedAt != nil {
		events = append(events, closeEvent(s))
	}
	sortEvents(events)
	return events
}

// BuildRange returns a tenant's events whose timestamp falls inside window.
// Session boundaries are filtered individually, so a session opened before
// the window but closed inside it contributes only its close.
func BuildRange(ledger domain.RangeLedger, window domain.TimeRange) []domain.TimelineEvent {
	events := make([]domain.TimelineEvent, 0, len(ledger.Sessions)+len(ledger.Payments)+len(ledger.Movements))
	for _, s := range ledger.Sessions {
		if window.Contains(s.OpenedAt) {
			events = append(events, openEvent(s))
		}
		if s.State == domain.SessionStateClosed && s.ClosedAt != nil && window.Contains(*s.ClosedAt) {
			events = append(events, closeEvent(s))
		}
	}
	for _, p := range ledger.Payments {
		if window.Contains(p.CreatedAt) {
			events = append(events, saleEvent(p))
		}
	}
	for _, m := range ledger.Movements {
		if window.Contains(m.CreatedAt) {
			events = append(events, movementEvent(m))
		}
	}
	sortEvents(events)
	return events
}

// sortEvents orders by timestamp; the shared sequence breaks ties so repeated
// calls return identical output.
func sortEvents(events []domain.TimelineEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.At.Equal(b.At) {
			return a.At.Before(b.At)
		}
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return a.ID < b.ID
	})
}

func flag(v bool) *bool {
	return &v
}

func openEvent(s domain.CashSession) domain.TimelineEvent {
	details := map[string]string{
		"opening_cash": s.OpeningCash.StringFixed(domain.MinorUnits),
	}
	for _, code := range s.OpeningDigital.Codes() {
		details[code] = s.OpeningDigital[code].StringFixed(domain.MinorUnits)
	}
	if s.Notes != "" {
		details["notes"] = s.Notes
	}
	return domain.TimelineEvent{
		ID:          "open-" + s.ID,
		Kind:        domain.EventKindOpen,
		At:          s.OpenedAt,
		Amount:      s.OpeningCash.Add(s.OpeningDigital.Total()),
		Description: "Cash session opened",
		Operator:    s.OperatorName,
		IsInflow:    flag(true),
		State:       domain.EventStateOK,
		SessionID:   s.ID,
		Details:     details,
		Seq:         s.OpenSeq,
	}
}

func closeEvent(s domain.CashSession) domain.TimelineEvent {
	counted := valueOrZero(s.CountedTotal)
	variance := valueOrZero(s.Variance)
	details := map[string]string{
		"counted_total":  counted.StringFixed(domain.MinorUnits),
		"expected_total": valueOrZero(s.ExpectedTotal).StringFixed(domain.MinorUnits),
		"variance":       variance.StringFixed(domain.MinorUnits),
	}
	for _, code := range s.ClosingSnapshot.Codes() {
		details[code] = s.ClosingSnapshot[code].StringFixed(domain.MinorUnits)
	}
	if s.ClosingNotes != "" {
		details["notes"] = s.ClosingNotes
	}
	return domain.TimelineEvent{
		ID:          "close-" + s.ID,
		Kind:        domain.EventKindClose,
		At:          *s.ClosedAt,
		Amount:      counted,
		Description: fmt.Sprintf("Cash session closed (variance %s)", variance.StringFixed(domain.MinorUnits)),
		Operator:    s.OperatorName,
		State:       domain.EventStateOK,
		SessionID:   s.ID,
		Details:     details,
		Seq:         s.CloseSeq,
	}
}

func saleEvent(p domain.SalePayment) domain.TimelineEvent {
	state := domain.EventStateOK
	description := fmt.Sprintf("Payment %s for sale %s", p.Number, p.SaleRef)
	if p.State == domain.PaymentStateVoided {
		state = domain.EventStateVoided
		description += " (VOIDED)"
	}
	details := map[string]string{
		"method":   methodLabel(p.MethodName, p.MethodCode),
		"sale_ref": p.SaleRef,
		"number":   p.Number,
	}
	if p.Reference != "" {
		details["reference"] = p.Reference
	}
	return domain.TimelineEvent{
		ID:          "sale-" + p.ID,
		Kind:        domain.EventKindSale,
		At:          p.CreatedAt,
		Amount:      p.Amount,
		Description: description,
		Operator:    operatorLabel(p.CreatedByName, p.CreatedBy),
		IsInflow:    flag(true),
		State:       state,
		SessionID:   p.SessionID,
		Details:     details,
		Seq:         p.Seq,
	}
}

func movementEvent(m domain.ManualMovement) domain.TimelineEvent {
	label := "Income"
	if m.Direction == domain.DirectionOut {
		label = "Expense"
	}
	description := fmt.Sprintf("%s - %s", label, m.Category)
	if m.Description != "" {
		description += ": " + m.Description
	}
	details := map[string]string{
		"direction": m.Direction,
		"category":  m.Category,
		"method":    methodLabel(m.MethodName, m.MethodCode),
	}
	if m.Description != "" {
		details["note"] = m.Description
	}
	return domain.TimelineEvent{
		ID:          "mov-" + m.ID,
		Kind:        domain.EventKindMovement,
		At:          m.CreatedAt,
		Amount:      m.Amount,
		Description: description,
		Operator:    operatorLabel(m.CreatedByName, m.CreatedBy),
		IsInflow:    flag(m.Direction == domain.DirectionIn),
		State:       domain.EventStateOK,
		SessionID:   m.SessionID,
		Details:     details,
		Seq:         m.Seq,
	}
}

func valueOrZero(v *decimal.Decimal) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return *v
}

func methodLabel(name, code string) string {
	if name != "" {
		return name
	}
	return code
}

func operatorLabel(name, username string) string {
	if name != "" {
		return name
	}
	if username != "" {
		return username
	}
	return "system"
}
