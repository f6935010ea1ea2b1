package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"comanda/internal/domain"
	"comanda/internal/store"
)

type reservationLine struct {
	productID string
	qty       int
}

// reservationLines sums quantities per product so that two lines for the
// same product are checked against stock together.
func reservationLines(items []domain.OrderItem) []reservationLine {
	totals := make(map[string]int, len(items))
	for _, item := range items {
		totals[item.ProductID] += item.Quantity
	}
	lines := make([]reservationLine, 0, len(totals))
	for id, qty := range totals {
		lines = append(lines, reservationLine{productID: id, qty: qty})
	}
	sort.Slice(lines, func(i, j int) bool {
		return lines[i].productID < lines[j].productID
	})
	return lines
}

// checkAvailability rejects the whole batch before anything is written.
func checkAvailability(products map[string]domain.Product, lines []reservationLine) error {
	for _, line := range lines {
		product, ok := products[line.productID]
		if !ok {
			return fmt.Errorf("%w: unknown product %s", ErrInvalidItems, line.productID)
		}
		if !product.TracksStock() {
			continue
		}
		if product.Stock < line.qty {
			return &InsufficientStockError{ProductID: line.productID, Available: product.Stock, Requested: line.qty}
		}
	}
	return nil
}

// reserve applies guarded decrements for every stock-tracked line. If fewer
// guarded writes land than expected, another request took the stock in the
// meantime and the creation is rejected; applied decrements are released by
// the compensation stack or the surrounding transaction.
func (s *Service) reserve(ctx context.Context, orderID string, products map[string]domain.Product, lines []reservationLine, undo *compensations) error {
	expected, applied := 0, 0
	for _, line := range lines {
		if !products[line.productID].TracksStock() {
			continue
		}
		expected++
		ok, err := s.repo.DecrementStock(ctx, line.productID, line.qty)
		if err != nil {
			return fmt.Errorf("reserve %s: %w", line.productID, err)
		}
		if !ok {
			continue
		}
		applied++
		productID, qty := line.productID, line.qty
		undo.add("release stock "+productID, func(ctx context.Context) error {
			return s.repo.IncrementStock(ctx, productID, qty)
		})
	}

	if applied != expected {
		log.Warn().Str("order_id", orderID).Int("expected", expected).Int("applied", applied).Msg("stock reservation lost a race")
		return ErrStockConflict
	}
	return nil
}

// release restores stock for every line of a cancelled order, resolving each
// item back to its product. Missing products and unlimited stock are skipped.
func (s *Service) release(ctx context.Context, items []domain.OrderItem) error {
	lines := reservationLines(items)
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.productID)
	}
	products, err := s.repo.GetProducts(ctx, ids)
	if err != nil {
		return err
	}

	var errs []error
	for _, line := range lines {
		product, ok := products[line.productID]
		if !ok || !product.TracksStock() {
			continue
		}
		if err := s.repo.IncrementStock(ctx, line.productID, line.qty); err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Warn().Err(err).Str("product_id", line.productID).Int("qty", line.qty).Msg("failed to restock product")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
