package errors

import (
	"fmt"

	"github.com/google/uuid"
)

// StockShortage is attached to INSUFFICIENT_STOCK errors.
type StockShortage struct {
	ItemRef   uuid.UUID `json:"itemRef"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name,omitempty"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
}

// MinimumShortfall is attached to BELOW_MINIMUM_ORDER_QUANTITY errors.
type MinimumShortfall struct {
	ItemRef   uuid.UUID `json:"itemRef"`
	Requested int       `json:"requested"`
	Minimum   int       `json:"minimum"`
}

// StateViolation is attached to INVALID_STATE errors raised by status transitions.
type StateViolation struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// LineProblem describes one failed line of a cart validation pass.
type LineProblem struct {
	ItemRef   uuid.UUID `json:"itemRef"`
	Kind      string    `json:"kind"`
	Reason    string    `json:"reason"`
	Requested int       `json:"requested,omitempty"`
	Available int       `json:"available,omitempty"`
	Minimum   int       `json:"minimum,omitempty"`
}

// ValidationFailure is attached to VALIDATION_ERROR errors produced from cart validation.
type ValidationFailure struct {
	Errors []LineProblem `json:"errors"`
}

func NewInsufficientStock(shortage StockShortage) *Error {
	msg := fmt.Sprintf("insufficient stock for %s: requested %d, available %d", shortage.ItemRef, shortage.Requested, shortage.Available)
	return New(CodeInsufficientStock, msg).WithDetails(shortage)
}

func NewBelowMinimum(shortfall MinimumShortfall) *Error {
	msg := fmt.Sprintf("quantity %d below minimum order quantity %d for %s", shortfall.Requested, shortfall.Minimum, shortfall.ItemRef)
	return New(CodeBelowMinimumQty, msg).WithDetails(shortfall)
}

func NewInvalidTransition(from, to string) *Error {
	return New(CodeInvalidState, fmt.Sprintf("cannot transition from %s to %s", from, to)).
		WithDetails(StateViolation{From: from, To: to})
}

// StockShortageFrom extracts the shortage details when err is INSUFFICIENT_STOCK.
func StockShortageFrom(err error) (StockShortage, bool) {
	typed := As(err)
	if typed == nil || typed.Code() != CodeInsufficientStock {
		return StockShortage{}, false
	}
	shortage, ok := typed.Details().(StockShortage)
	return shortage, ok
}
