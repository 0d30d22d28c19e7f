package claim

import "errors"

// ErrUnavailable marks infrastructure failures. They are safe to retry with
// the same scan; semantic rejections are reported in Result instead.
var ErrUnavailable = errors.New("stamp service unavailable")

// Reason names why a scan did not produce a stamp.
type Reason string

const (
	ReasonUnauthorized            Reason = "unauthorized"
	ReasonInvalidCode             Reason = "invalid_code"
	ReasonInvalidOrExpiredPayload Reason = "invalid_or_expired_payload"
	ReasonPayloadExpired          Reason = "payload_expired"
	ReasonClockSkew               Reason = "clock_skew"
	ReasonTagMismatch             Reason = "tag_mismatch"
	ReasonRateLimited             Reason = "rate_limited"
	ReasonAlreadyUsed             Reason = "already_used"
	ReasonTokenExpired            Reason = "token_expired"
	ReasonTokenVoided             Reason = "token_voided"
)

var reasonMessages = map[Reason]string{
	ReasonUnauthorized:            "Sign in to collect stamps.",
	ReasonInvalidCode:             "This code is not a valid stamp.",
	ReasonInvalidOrExpiredPayload: "This stamp could not be verified. Please scan again.",
	ReasonPayloadExpired:          "This stamp has expired. Please scan again.",
	ReasonClockSkew:               "This stamp is not valid yet. Please scan again.",
	ReasonTagMismatch:             "This stamp does not belong to this tag.",
	ReasonRateLimited:             "Too many stamps collected recently. Try again later.",
	ReasonAlreadyUsed:             "This stamp has already been collected.",
	ReasonTokenExpired:            "This stamp code has expired.",
	ReasonTokenVoided:             "This stamp code is no longer valid.",
}

// Message is the text shown to the customer.
func (r Reason) Message() string {
	if m, ok := reasonMessages[r]; ok {
		return m
	}
	return "This stamp could not be collected."
}

// Terminal reports whether the rejection is final for the scanned code.
func (r Reason) Terminal() bool {
	switch r {
	case ReasonAlreadyUsed, ReasonTokenExpired, ReasonTokenVoided:
		return true
	}
	return false
}

// Result is the outcome of one redemption attempt. Redeemed results carry
// the card progress; rejected results carry a Reason.
type Result struct {
	Redeemed        bool   `json:"redeemed"`
	Reason          Reason `json:"reason,omitempty"`
	Message         string `json:"message"`
	BusinessID      string `json:"business_id,omitempty"`
	StampsCollected int    `json:"stamps_collected,omitempty"`
	StampsRequired  int    `json:"stamps_required,omitempty"`
	IsCompleted     bool   `json:"is_completed"`
}

func rejected(r Reason) Result {
	return Result{Reason: r, Message: r.Message()}
}
