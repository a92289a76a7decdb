package domain

// ResendResult is the terminal state of one bounce in a resend batch.
type ResendResult string

const (
	ResendResultResent  ResendResult = "resent"
	ResendResultSkipped ResendResult = "skipped"
	ResendResultFailed  ResendResult = "failed"
)

func (r ResendResult) String() string { return string(r) }

// SkipReason explains why an eligible-looking bounce was not resent.
type SkipReason string

const (
	SkipReasonAlreadyResent        SkipReason = "already_resent"
	SkipReasonInactiveAddress      SkipReason = "inactive_address"
	SkipReasonSupersededByDelivery SkipReason = "superseded_by_delivery"
)

func (r SkipReason) String() string { return string(r) }

// ResendOutcome reports what happened to a single selected bounce.
type ResendOutcome struct {
	BounceID     int64
	EmailAddress string
	Result       ResendResult
	Reason       SkipReason
	Error        string
	SendID       string
}
