package booking

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ConversationID derives the deterministic conversation id for a
// booking-scoped conversation. The participant ids are order-normalized
// so both parties derive the same id regardless of who initiates.
func ConversationID(bookingID, userA, userB string) string {
	lo, hi := strings.TrimSpace(userA), strings.TrimSpace(userB)
	if lo > hi {
		lo, hi = hi, lo
	}

	sum := sha256.Sum256([]byte("bk|" + strings.TrimSpace(bookingID) + "|" + lo + "|" + hi))
	return "conv_" + hex.EncodeToString(sum[:16])
}
