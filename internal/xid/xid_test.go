package xid

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOrderIDMatchesPublicFormat(t *testing.T) {
	for i := 0; i < 500; i++ {
		id := OrderID()
		assert.Truef(t, ValidOrderID(id), "generated id %q is malformed", id)
	}
}

func TestValidOrderIDRejectsMalformed(t *testing.T) {
	for _, id := range []string{"", "1a2345", "AB1234", "1A234", "1A23456", "12A345", " 1A2345"} {
		assert.Falsef(t, ValidOrderID(id), "expected %q to be rejected", id)
	}
	assert.True(t, ValidOrderID("7K0042"))
}

func TestPINCodeIsFourDigits(t *testing.T) {
	for i := 0; i < 200; i++ {
		pin := PINCode()
		assert.Len(t, pin, 4)
		assert.Empty(t, strings.Trim(pin, "0123456789"))
	}
}

func TestSessionIDCarriesOpenTimestamp(t *testing.T) {
	at := time.Date(2026, 10, 18, 19, 32, 5, 0, time.UTC)
	id := SessionID(at)
	assert.True(t, strings.HasPrefix(id, "CX-20261018-193205-"), id)
}
