package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Snapshot maps a payment method code to a declared balance.
type Snapshot map[string]decimal.Decimal

func (s Snapshot) Total() decimal.Decimal {
	total := decimal.Zero
	for _, amount := range s {
		total = total.Add(amount)
	}
	return total
}

func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for code, amount := range s {
		out[code] = amount
	}
	return out
}

// Codes returns the method codes in ascending order.
func (s Snapshot) Codes() []string {
	codes := make([]string, 0, len(s))
	for code := range s {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// NormalizeSnapshot canonicalizes method codes and validates every amount.
// Zero entries are kept so an operator can declare an empty wallet explicitly.
func NormalizeSnapshot(raw map[string]decimal.Decimal) (Snapshot, error) {
	out := make(Snapshot, len(raw))
	for key, amount := range raw {
		code := NormalizeMethodCode(key)
		if code == "" {
			return nil, fmt.Errorf("%w: empty payment method code in snapshot", ErrInvalidInput)
		}
		if _, dup := out[code]; dup {
			return nil, fmt.Errorf("%w: payment method %s declared twice", ErrInvalidInput, code)
		}
		if err := ValidateBalance(amount); err != nil {
			return nil, fmt.Errorf("%w (method %s)", err, code)
		}
		out[code] = amount
	}
	return out, nil
}

func (s Snapshot) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	payload, err := json.Marshal(map[string]decimal.Decimal(s))
	if err != nil {
		return nil, err
	}
	return string(payload), nil
}

func (s *Snapshot) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("snapshot: unsupported source type %T", src)
	}
	decoded := map[string]decimal.Decimal{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	*s = decoded
	return nil
}
