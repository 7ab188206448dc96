package xid

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// New returns a time-ordered identifier such as "ses_0190c1b2-...".
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + "_" + id.String()
}

// PaymentNumber builds the receipt number PAG-YYMMDD-NNNN for a payment taken
// at the given local time.
func PaymentNumber(at time.Time) string {
	suffix := time.Now().UnixNano() % 10000
	if n, err := rand.Int(rand.Reader, big.NewInt(10000)); err == nil {
		suffix = n.Int64()
	}
	return fmt.Sprintf("PAG-%s-%04d", at.Format("060102"), suffix)
}
