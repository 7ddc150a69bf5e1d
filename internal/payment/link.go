// Package payment integrates the YooMoney quickpay flow: issuing hosted
// payment links and verifying webhook notifications.
package payment

import (
	"net/url"
	"strconv"
)

const quickpayURL = "https://yoomoney.ru/quickpay/confirm.xml"

// LinkIssuer builds hosted payment URLs. The user id travels as the form's
// label and must round-trip unchanged through the provider; it is the only
// binding between a payment and a user. No state is created at issuance.
type LinkIssuer struct {
	wallet     string
	targets    string
	successURL string
}

func NewLinkIssuer(wallet, targets, successURL string) *LinkIssuer {
	if targets == "" {
		targets = "Оплата примерок"
	}
	return &LinkIssuer{
		wallet:     wallet,
		targets:    targets,
		successURL: successURL,
	}
}

// Link returns the hosted payment URL for the given user and amount in
// whole currency units.
func (l *LinkIssuer) Link(userID int64, amount int) string {
	q := url.Values{}
	q.Set("quickpay", "shop")
	q.Set("writer", "seller")
	q.Set("account", l.wallet)
	q.Set("targets", l.targets)
	q.Set("default-sum", strconv.Itoa(amount))
	q.Set("label", strconv.FormatInt(userID, 10))
	q.Set("successURL", l.successURL)
	return quickpayURL + "?" + q.Encode()
}
