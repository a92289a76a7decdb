package domain

import (
	"fmt"
	"strings"
	"time"
)

// DeliveryStatus is derived from an Email and its events; it is never stored.
type DeliveryStatus string

const (
	DeliveryStatusPending    DeliveryStatus = "pending"
	DeliveryStatusSendFailed DeliveryStatus = "send_failed"
	DeliveryStatusBounced    DeliveryStatus = "bounced"
	DeliveryStatusDelivered  DeliveryStatus = "delivered"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryStatusPending, DeliveryStatusSendFailed, DeliveryStatusBounced, DeliveryStatusDelivered:
		return true
	}
	return false
}

func ParseDeliveryStatusFromString(s string) (DeliveryStatus, error) {
	st := DeliveryStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid delivery status %q", ErrValidation, s)
	}
	return st, nil
}

// DeriveStatus computes the delivery status of one Email from its bounces and
// deliveries. A delivery to an address dated after a bounce for that same
// address supersedes the bounce, including one that marked the address
// inactive.
func DeriveStatus(email Email, bounces []Bounce, deliveries []Delivery) DeliveryStatus {
	if strings.TrimSpace(email.SendingError) != "" {
		return DeliveryStatusSendFailed
	}

	latestDelivery := make(map[string]time.Time, len(deliveries))
	for _, d := range deliveries {
		addr := NormalizeAddress(d.EmailAddress)
		if current, ok := latestDelivery[addr]; !ok || d.DeliveredAt.After(current) {
			latestDelivery[addr] = d.DeliveredAt
		}
	}

	for _, b := range bounces {
		if !BounceSuperseded(b, latestDelivery) {
			return DeliveryStatusBounced
		}
	}

	if len(deliveries) > 0 {
		return DeliveryStatusDelivered
	}
	return DeliveryStatusPending
}

// BounceSuperseded reports whether a later delivery exists for the bounced
// address. latestDelivery is keyed by normalized address.
func BounceSuperseded(b Bounce, latestDelivery map[string]time.Time) bool {
	deliveredAt, ok := latestDelivery[NormalizeAddress(b.EmailAddress)]
	return ok && deliveredAt.After(b.BouncedAt)
}
