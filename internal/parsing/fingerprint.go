package parsing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Fingerprint derives the content-duplicate key from the transaction's
// amount, minute-truncated timestamp, and card last four. Two receipts
// that describe the same real-world transaction produce the same
// fingerprint even when delivered through different chat addresses.
func Fingerprint(amount decimal.Decimal, when time.Time, cardLast4 string) string {
	truncated := when.Truncate(time.Minute).Format("2006-01-02 15:04")
	input := fmt.Sprintf("%s|%s|%s", amount.Abs().String(), truncated, cardLast4)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
