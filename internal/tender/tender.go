// Package tender computes and validates payment breakdowns for a sale
// total. All amounts are integer cents so comparisons near equality
// never misclassify a payment as insufficient.
package tender

import (
	"fmt"

	"restopos/backend/internal/domain"
	"restopos/backend/internal/store"
)

// Amounts carries the operator-entered figures. TransferPartCents is a
// pointer so an unset transfer leg can be auto derived from the cash
// leg; an explicit value, including zero, is validated as entered.
type Amounts struct {
	CashReceivedCents int64
	CashPartCents     int64
	TransferPartCents *int64
}

type Breakdown struct {
	Method            string
	TotalCents        int64
	ReceivedCents     int64
	ChangeCents       int64
	CashPartCents     int64
	TransferPartCents int64
}

// Compute validates the entered amounts against the total and returns
// the breakdown to record on the sale.
//
// cash: change is received minus total, short payment is rejected.
// card: received equals total, no amounts consumed, change is zero.
// split: a missing transfer leg is derived as max(0, total-cash); the
// actual cash+transfer sum is validated either way, and change is
// always zero, overpayment is not returned.
func Compute(method string, totalCents int64, amounts Amounts) (Breakdown, error) {
	if totalCents < 0 {
		return Breakdown{}, fmt.Errorf("negative total %d", totalCents)
	}

	switch method {
	case domain.PaymentMethodCash:
		if amounts.CashReceivedCents < totalCents {
			return Breakdown{}, fmt.Errorf("cash %d below total %d: %w", amounts.CashReceivedCents, totalCents, store.ErrInsufficientPayment)
		}
		return Breakdown{
			Method:        method,
			TotalCents:    totalCents,
			ReceivedCents: amounts.CashReceivedCents,
			ChangeCents:   amounts.CashReceivedCents - totalCents,
		}, nil
	case domain.PaymentMethodCard:
		return Breakdown{
			Method:        method,
			TotalCents:    totalCents,
			ReceivedCents: totalCents,
		}, nil
	case domain.PaymentMethodSplit:
		cash := amounts.CashPartCents
		if cash < 0 {
			return Breakdown{}, fmt.Errorf("negative cash part %d", cash)
		}
		transfer := DeriveTransfer(totalCents, cash)
		if amounts.TransferPartCents != nil {
			transfer = *amounts.TransferPartCents
		}
		if transfer < 0 {
			return Breakdown{}, fmt.Errorf("negative transfer part %d", transfer)
		}
		if cash+transfer < totalCents {
			return Breakdown{}, fmt.Errorf("split sum %d below total %d: %w", cash+transfer, totalCents, store.ErrInsufficientPayment)
		}
		return Breakdown{
			Method:            method,
			TotalCents:        totalCents,
			ReceivedCents:     cash + transfer,
			CashPartCents:     cash,
			TransferPartCents: transfer,
		}, nil
	default:
		return Breakdown{}, fmt.Errorf("unsupported payment method %q", method)
	}
}

// DeriveTransfer is the convenience used when the transfer leg is left
// blank while editing the cash leg. It is a default, not a validation
// rule; Compute re-checks the actual sum regardless.
func DeriveTransfer(totalCents int64, cashPartCents int64) int64 {
	if remaining := totalCents - cashPartCents; remaining > 0 {
		return remaining
	}
	return 0
}
