package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"time"
)

var orderIDPattern = regexp.MustCompile(`^[0-9][A-Z][0-9]{4}$`)

const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// SessionID returns a sortable, human-readable session identifier such as
// CX-20261018-193205-9f2c.
func SessionID(at time.Time) string {
	buf := make([]byte, 2)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("CX-%s-%04d", at.UTC().Format("20060102-150405"), at.Nanosecond()%10000)
	}
	return fmt.Sprintf("CX-%s-%s", at.UTC().Format("20060102-150405"), hex.EncodeToString(buf))
}

// OrderID returns one digit, one uppercase letter and four digits.
func OrderID() string {
	return fmt.Sprintf("%d%c%04d", randomInt(10), letters[randomInt(len(letters))], randomInt(10000))
}

func ValidOrderID(id string) bool {
	return orderIDPattern.MatchString(id)
}

// PINCode returns the 4-digit code a customer quotes at pickup.
func PINCode() string {
	return fmt.Sprintf("%04d", randomInt(10000))
}

func randomInt(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return int(time.Now().UnixNano() % int64(max))
	}
	return int(n.Int64())
}
