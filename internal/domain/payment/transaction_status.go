package payment

import "fmt"

// TransactionStatus is the state of a payment transaction.
type TransactionStatus string

const (
	StatusPending           TransactionStatus = "pending"
	StatusProcessing        TransactionStatus = "processing"
	StatusSuccess           TransactionStatus = "success"
	StatusFailed            TransactionStatus = "failed"
	StatusDeclined          TransactionStatus = "declined"
	StatusError             TransactionStatus = "error"
	StatusCancelled         TransactionStatus = "cancelled"
	StatusRefunded          TransactionStatus = "refunded"
	StatusPartiallyRefunded TransactionStatus = "partially_refunded"
	StatusAuthorized        TransactionStatus = "authorized"
	StatusCaptured          TransactionStatus = "captured"
	StatusVoided            TransactionStatus = "voided"
)

// validTransitions defines the state machine for transaction status transitions.
var validTransitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:           {StatusProcessing, StatusSuccess, StatusAuthorized, StatusFailed, StatusDeclined, StatusError, StatusCancelled},
	StatusProcessing:        {StatusSuccess, StatusAuthorized, StatusFailed, StatusDeclined, StatusError},
	StatusSuccess:           {StatusRefunded, StatusPartiallyRefunded},
	StatusAuthorized:        {StatusCaptured, StatusVoided},
	StatusCaptured:          {StatusRefunded, StatusPartiallyRefunded},
	StatusPartiallyRefunded: {StatusRefunded},
	StatusFailed:            {},
	StatusDeclined:          {},
	StatusError:             {},
	StatusCancelled:         {},
	StatusRefunded:          {},
	StatusVoided:            {},
}

// IsValid returns true if the status is recognized.
func (s TransactionStatus) IsValid() bool {
	_, exists := validTransitions[s]
	return exists
}

// CanTransitionTo returns true if a transition from this status to the target is allowed.
func (s TransactionStatus) CanTransitionTo(target TransactionStatus) bool {
	for _, t := range validTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no further transitions are possible from this status.
func (s TransactionStatus) IsTerminal() bool {
	return len(validTransitions[s]) == 0
}

// IsFailure reports whether the attempt ended without moving money.
func (s TransactionStatus) IsFailure() bool {
	return s == StatusFailed || s == StatusDeclined || s == StatusError
}

// IsInFlight reports whether the gateway outcome is not yet recorded.
func (s TransactionStatus) IsInFlight() bool {
	return s == StatusPending || s == StatusProcessing
}

// ParseTransactionStatus converts a string to a TransactionStatus.
func ParseTransactionStatus(s string) (TransactionStatus, error) {
	st := TransactionStatus(s)
	if !st.IsValid() {
		return "", fmt.Errorf("invalid transaction status: %s", s)
	}
	return st, nil
}

// TransactionType is what a transaction does with money.
type TransactionType string

const (
	TypePayment       TransactionType = "payment"
	TypeRefund        TransactionType = "refund"
	TypePartialRefund TransactionType = "partial_refund"
	TypeAuthorization TransactionType = "authorization"
	TypeCapture       TransactionType = "capture"
	TypeVoid          TransactionType = "void"
)

// IsRefund reports whether the type returns money to the payer.
func (t TransactionType) IsRefund() bool {
	return t == TypeRefund || t == TypePartialRefund
}

// Method is how the payer pays.
type Method string

const (
	MethodCreditCard Method = "credit_card"
	MethodDebitCard  Method = "debit_card"
)

// IsValid returns true if the method is accepted.
func (m Method) IsValid() bool {
	return m == MethodCreditCard || m == MethodDebitCard
}
