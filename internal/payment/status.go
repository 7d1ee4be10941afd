package payment

// Status is the payment state reported by the gateway. The gateway is the
// authority on transitions, so any value it reports is stored as-is.
type Status string

const (
	StatusNew             Status = "NEW"
	StatusFormShowed      Status = "FORM_SHOWED"
	StatusAuthorizing     Status = "AUTHORIZING"
	StatusAuthorized      Status = "AUTHORIZED"
	StatusConfirming      Status = "CONFIRMING"
	StatusConfirmed       Status = "CONFIRMED"
	StatusRejected        Status = "REJECTED"
	StatusReversing       Status = "REVERSING"
	StatusReversed        Status = "REVERSED"
	StatusRefunding       Status = "REFUNDING"
	StatusPartialRefunded Status = "PARTIAL_REFUNDED"
	StatusRefunded        Status = "REFUNDED"
	StatusCanceled        Status = "CANCELED"
	StatusDeadlineExpired Status = "DEADLINE_EXPIRED"
	StatusAttemptsExpired Status = "ATTEMPTS_EXPIRED"
)

var finalStatuses = map[Status]bool{
	StatusConfirmed:       true,
	StatusRejected:        true,
	StatusReversed:        true,
	StatusRefunded:        true,
	StatusPartialRefunded: true,
	StatusCanceled:        true,
	StatusDeadlineExpired: true,
	StatusAttemptsExpired: true,
}

var knownStatuses = map[Status]bool{
	StatusNew: true, StatusFormShowed: true, StatusAuthorizing: true,
	StatusAuthorized: true, StatusConfirming: true, StatusReversing: true,
	StatusRefunding: true,
}

func init() {
	for s := range finalStatuses {
		knownStatuses[s] = true
	}
}

// IsFinal reports whether the gateway is not expected to move the payment
// any further without a merchant action. It never restricts Apply.
func (s Status) IsFinal() bool {
	return finalStatuses[s]
}

func (s Status) IsKnown() bool {
	return knownStatuses[s]
}

func (s Status) String() string {
	return string(s)
}

// NonFinalStatuses lists the known statuses the reconciler keeps polling.
func NonFinalStatuses() []Status {
	return []Status{
		StatusNew, StatusFormShowed, StatusAuthorizing, StatusAuthorized,
		StatusConfirming, StatusReversing, StatusRefunding,
	}
}
