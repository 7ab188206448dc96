package xid

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		id := New("pay")
		assert.True(t, strings.HasPrefix(id, "pay_"))
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestPaymentNumberFormat(t *testing.T) {
	lima := time.FixedZone("PET", -5*3600)
	at := time.Date(2025, 2, 7, 23, 30, 0, 0, lima)

	number := PaymentNumber(at)

	assert.Regexp(t, regexp.MustCompile(`^PAG-250207-\d{4}$`), number)
}
