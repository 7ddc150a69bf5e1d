package payment

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

var (
	// ErrBadSignature means the sha1_hash field does not match the digest
	// computed with the notification secret.
	ErrBadSignature = errors.New("notification signature mismatch")
	// ErrBadLabel means the label does not carry a decimal user id.
	ErrBadLabel = errors.New("notification label is not a user id")
	// ErrBadAmount means the amount is missing, malformed or non-positive.
	ErrBadAmount = errors.New("notification amount is not positive")
)

// Notification is one incoming payment event from the provider.
type Notification struct {
	OperationID string
	UserID      int64
	// Amount in whole currency units; the provider's decimal is floored.
	Amount int
}

// VerifySignature checks the provider digest over the documented field
// order. Must be called before ParseNotification's result is acted on.
func VerifySignature(form url.Values, secret string) error {
	fields := []string{
		form.Get("notification_type"),
		form.Get("operation_id"),
		form.Get("amount"),
		form.Get("currency"),
		form.Get("datetime"),
		form.Get("sender"),
		form.Get("codepro"),
		secret,
		form.Get("label"),
	}
	sum := sha1.Sum([]byte(strings.Join(fields, "&")))
	want := hex.EncodeToString(sum[:])
	got := strings.ToLower(strings.TrimSpace(form.Get("sha1_hash")))
	if got == "" || subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		return ErrBadSignature
	}
	return nil
}

// ParseNotification extracts and validates the (operation, label, amount)
// tuple from a verified webhook form.
func ParseNotification(form url.Values) (Notification, error) {
	label := strings.TrimSpace(form.Get("label"))
	userID, err := strconv.ParseInt(label, 10, 64)
	if err != nil || userID <= 0 {
		return Notification{}, fmt.Errorf("%w: %q", ErrBadLabel, label)
	}

	rawAmount := strings.TrimSpace(form.Get("amount"))
	amount, err := strconv.ParseFloat(rawAmount, 64)
	if err != nil || amount <= 0 {
		return Notification{}, fmt.Errorf("%w: %q", ErrBadAmount, rawAmount)
	}

	return Notification{
		OperationID: strings.TrimSpace(form.Get("operation_id")),
		UserID:      userID,
		Amount:      int(math.Floor(amount)),
	}, nil
}
