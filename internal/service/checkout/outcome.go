package checkout

import "storefront/internal/domain"

// Source names the channel a payment result arrived on.
type Source string

const (
	SourceReturn   Source = "return"
	SourceCallback Source = "callback"
)

func (s Source) valid() bool {
	return s == SourceReturn || s == SourceCallback
}

// Outcome is a result code interpreted in the code space of its source.
type Outcome string

const (
	OutcomePaid    Outcome = "paid"
	OutcomePending Outcome = "pending"
	OutcomeFailed  Outcome = "failed"
	OutcomeUnknown Outcome = "unknown"
)

// The two tables below are the only place gateway result codes are read.
// Return and callback codes are separate enumerations; "01" is pending on
// the redirect and failed on the callback.

var returnOutcomes = map[domain.ReturnCode]Outcome{
	domain.ReturnCodeSuccess:   OutcomePaid,
	domain.ReturnCodePending:   OutcomePending,
	domain.ReturnCodeCancelled: OutcomeFailed,
}

var callbackOutcomes = map[domain.CallbackCode]Outcome{
	domain.CallbackCodeSuccess: OutcomePaid,
	domain.CallbackCodeFailed:  OutcomeFailed,
}

// ReturnOutcome maps a return-URL code. Unlisted codes are OutcomeUnknown.
func ReturnOutcome(code domain.ReturnCode) Outcome {
	if o, ok := returnOutcomes[code]; ok {
		return o
	}
	return OutcomeUnknown
}

// CallbackOutcome maps a callback code. Unlisted codes are OutcomeUnknown.
func CallbackOutcome(code domain.CallbackCode) Outcome {
	if o, ok := callbackOutcomes[code]; ok {
		return o
	}
	return OutcomeUnknown
}

func outcomeFor(source Source, code string) Outcome {
	switch source {
	case SourceReturn:
		return ReturnOutcome(domain.ReturnCode(code))
	case SourceCallback:
		return CallbackOutcome(domain.CallbackCode(code))
	}
	return OutcomeUnknown
}

// target is the status pair an outcome drives the order to. Pending and
// unknown outcomes have no target.
func (o Outcome) target() (domain.PaymentStatus, domain.OrderStatus, bool) {
	switch o {
	case OutcomePaid:
		return domain.PaymentStatusPaid, domain.OrderStatusProcessing, true
	case OutcomeFailed:
		return domain.PaymentStatusFailed, domain.OrderStatusCancelled, true
	}
	return "", "", false
}
