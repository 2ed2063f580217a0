package domain

type RefundKind string

const (
	RefundFull    RefundKind = "FULL"
	RefundPartial RefundKind = "PARTIAL"
	RefundNone    RefundKind = "NONE"
)

// RefundDecision is the cancellation-policy outcome, evaluated by the
// caller before the cancel call. The engine applies it; it never
// re-derives the split.
type RefundDecision struct {
	Kind        RefundKind
	AmountCents int64
	Reason      string
}

func (d RefundDecision) Valid() bool {
	switch d.Kind {
	case RefundFull, RefundNone:
		return true
	case RefundPartial:
		return d.AmountCents > 0
	}
	return false
}

// RefundAmount resolves the decision against the amount actually captured
// for the booking. A partial refund is clamped to the captured amount.
func (d RefundDecision) RefundAmount(capturedCents int64) int64 {
	switch d.Kind {
	case RefundFull:
		return capturedCents
	case RefundPartial:
		if d.AmountCents > capturedCents {
			return capturedCents
		}
		return d.AmountCents
	}
	return 0
}
