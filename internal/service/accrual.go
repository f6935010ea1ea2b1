package service

import (
	"strings"

	"comanda/internal/domain"
)

var paymentMethods = map[string]bool{
	domain.PaymentCash:    true,
	domain.PaymentPix:     true,
	domain.PaymentCredit:  true,
	domain.PaymentDebit:   true,
	domain.PaymentPending: true,
}

func normalizePaymentMethod(raw string) (string, error) {
	method := strings.ToUpper(strings.TrimSpace(raw))
	if method == "" {
		return domain.PaymentPending, nil
	}
	if !paymentMethods[method] {
		return "", ErrInvalidPayment
	}
	return method, nil
}

func normalizePaymentStatus(raw string) (string, error) {
	status := strings.ToUpper(strings.TrimSpace(raw))
	switch status {
	case "":
		return domain.PaymentStatusPending, nil
	case domain.PaymentStatusPending, domain.PaymentStatusPaid:
		return status, nil
	}
	return "", ErrInvalidPayment
}

// isAccrued derives whether an order's total has been recognized in the
// session from its payment fields alone: paid, with a concrete method.
func isAccrued(paymentStatus, method string) bool {
	return paymentStatus == domain.PaymentStatusPaid && method != "" && method != domain.PaymentPending
}

func accrualDelta(amount domain.Money, method string) domain.SessionDelta {
	return domain.SessionDelta{
		Sales:     amount,
		ByPayment: map[string]domain.Money{method: amount},
	}
}

// paymentTransitionDelta is the session change implied by moving an order's
// payment fields from prev to next. It is zero unless the accrued state or
// the accrued method actually changes, which keeps accrual exactly-once.
func paymentTransitionDelta(prev, next domain.Order) domain.SessionDelta {
	total := prev.Total
	if total <= 0 {
		return domain.SessionDelta{}
	}
	wasPaid := isAccrued(prev.PaymentStatus, prev.Payment)
	nowPaid := isAccrued(next.PaymentStatus, next.Payment)

	switch {
	case !wasPaid && nowPaid:
		return accrualDelta(total, next.Payment)
	case wasPaid && !nowPaid:
		return accrualDelta(-total, prev.Payment)
	case wasPaid && nowPaid && prev.Payment != next.Payment:
		return domain.SessionDelta{ByPayment: map[string]domain.Money{
			prev.Payment: -total,
			next.Payment: total,
		}}
	}
	return domain.SessionDelta{}
}

// loyaltyPoints is the award for an item total: a fixed number of points per
// whole currency unit.
func (s *Service) loyaltyPoints(total domain.Money) int64 {
	if total <= 0 {
		return 0
	}
	return total.Units() * s.pointsPerUnit
}

func soldCounters(items []domain.OrderItem, sign int) (map[string]int, map[string]int) {
	byName := make(map[string]int, len(items))
	byCategory := make(map[string]int, len(items))
	for _, item := range items {
		byName[item.Name] += sign * item.Quantity
		if item.Category != "" {
			byCategory[item.Category] += sign * item.Quantity
		}
	}
	return byName, byCategory
}
