// Package reconcile derives a cash session's balances from its opening
// declaration and ledger entries. It is a pure fold: the same ledger always
// yields the same balances regardless of entry order.
package reconcile

import (
	"sort"

	"github.com/shopspring/decimal"

	"washly/backend/internal/domain"
)

type accumulator struct {
	order []string
	byKey map[string]*domain.MethodBalance
}

// Reconcile computes per-method and aggregate balances for a session.
// methods is the tenant catalog, including disabled methods; it only supplies
// names and the cash flag.
func Reconcile(ledger domain.SessionLedger, methods []domain.PaymentMethod) domain.Balances {
	catalog := make(map[string]domain.PaymentMethod, len(methods))
	for _, m := range methods {
		catalog[m.Code] = m
	}
	cashCode := domain.CashMethodCode(methods)

	acc := accumulator{byKey: make(map[string]*domain.MethodBalance)}
	row := func(code string, frozenName string) *domain.MethodBalance {
		if b, ok := acc.byKey[code]; ok {
			if b.Name == code && frozenName != "" {
				b.Name = frozenName
			}
			return b
		}
		b := &domain.MethodBalance{Code: code, Name: code, IsCash: code == cashCode}
		if m, ok := catalog[code]; ok {
			b.Name = m.DisplayName
			b.IsCash = m.IsCash
		} else if frozenName != "" {
			b.Name = frozenName
		}
		acc.byKey[code] = b
		acc.order = append(acc.order, code)
		return b
	}

	session := ledger.Session
	row(cashCode, "")
	opening := session.OpeningSnapshot(cashCode)
	for _, code := range opening.Codes() {
		b := row(code, "")
		b.Opening = b.Opening.Add(opening[code])
	}

	totalSales := decimal.Zero
	for _, p := range ledger.Payments {
		if p.State != domain.PaymentStateConfirmed {
			continue
		}
		b := row(p.MethodCode, p.MethodName)
		b.Sales = b.Sales.Add(p.Amount)
		totalSales = totalSales.Add(p.Amount)
	}

	totalExpenses := decimal.Zero
	for _, m := range ledger.Movements {
		b := row(m.MethodCode, m.MethodName)
		switch m.Direction {
		case domain.DirectionIn:
			b.Inflows = b.Inflows.Add(m.Amount)
		case domain.DirectionOut:
			b.Outflows = b.Outflows.Add(m.Amount)
			totalExpenses = totalExpenses.Add(m.Amount)
		}
	}

	out := domain.Balances{
		SessionID:     session.ID,
		Methods:       make([]domain.MethodBalance, 0, len(acc.order)),
		TotalCash:     decimal.Zero,
		TotalDigital:  decimal.Zero,
		TotalSales:    totalSales,
		TotalExpenses: totalExpenses,
	}
	for _, code := range acc.order {
		b := acc.byKey[code]
		b.Balance = b.Opening.Add(b.Sales).Add(b.Inflows).Sub(b.Outflows)
		if b.IsCash {
			out.TotalCash = out.TotalCash.Add(b.Balance)
		} else {
			out.TotalDigital = out.TotalDigital.Add(b.Balance)
		}
		out.Methods = append(out.Methods, *b)
	}
	out.ExpectedTotal = out.TotalCash.Add(out.TotalDigital)

	sort.SliceStable(out.Methods, func(i, j int) bool {
		a, b := out.Methods[i], out.Methods[j]
		if a.IsCash != b.IsCash {
			return a.IsCash
		}
		return a.Code < b.Code
	})
	return out
}

// Settle computes the close result for a session: the expected total from
// its ledger and the variance against what the operator counted.
func Settle(ledger domain.SessionLedger, methods []domain.PaymentMethod, counted decimal.Decimal, closing domain.Snapshot, notes string) (domain.Settlement, domain.Balances) {
	balances := Reconcile(ledger, methods)
	if closing == nil {
		closing = domain.Snapshot{}
	}
	return domain.Settlement{
		CountedTotal:    counted,
		ExpectedTotal:   balances.ExpectedTotal,
		Variance:        counted.Sub(balances.ExpectedTotal),
		ClosingSnapshot: closing,
		Notes:           notes,
	}, balances
}
