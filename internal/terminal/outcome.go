package terminal

type OutcomeKind string

const (
	OutcomeApproved  OutcomeKind = "APPROVED"
	OutcomeDeclined  OutcomeKind = "DECLINED"
	OutcomeCancelled OutcomeKind = "CANCELLED"
	OutcomeFailed    OutcomeKind = "FAILED"
)

// Outcome is the canonical result every adapter translates its native
// vocabulary into. ReceiptText is carried verbatim.
type Outcome struct {
	Kind        OutcomeKind `json:"kind"`
	Message     string      `json:"message,omitempty"`
	ReceiptText string      `json:"receiptText,omitempty"`
	Reason      string      `json:"reason,omitempty"`
}

func Approved(message, receiptText string) Outcome {
	return Outcome{Kind: OutcomeApproved, Message: message, ReceiptText: receiptText}
}

func Declined(message, receiptText string) Outcome {
	return Outcome{Kind: OutcomeDeclined, Message: message, ReceiptText: receiptText}
}

func Cancelled() Outcome {
	return Outcome{Kind: OutcomeCancelled}
}

func Failed(reason string) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: reason}
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeFailed:
		return string(o.Kind) + ": " + o.Reason
	case OutcomeCancelled:
		return string(o.Kind)
	default:
		if o.Message == "" {
			return string(o.Kind)
		}
		return string(o.Kind) + ": " + o.Message
	}
}
