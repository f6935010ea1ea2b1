package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMoneyDecimalConversion(t *testing.T) {
	cases := map[string]Money{
		"28.90":  2890,
		"0.005":  1,
		"10":     1000,
		"-6.999": -700,
	}
	for in, want := range cases {
		if got := MoneyFromDecimal(decimal.RequireFromString(in)); got != want {
			t.Fatalf("MoneyFromDecimal(%s) = %d, want %d", in, got, want)
		}
	}
	if got := Money(2890).String(); got != "28.90" {
		t.Fatalf("expected 28.90, got %s", got)
	}
	if got := Money(5789).Units(); got != 57 {
		t.Fatalf("expected 57 whole units, got %d", got)
	}
}

func TestMoneyJSON(t *testing.T) {
	payload, err := json.Marshal(struct {
		Total Money `json:"total"`
	}{Total: 12550})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(payload) != `{"total":125.50}` {
		t.Fatalf("unexpected payload %s", payload)
	}

	var decoded struct {
		Total Money `json:"total"`
	}
	if err := json.Unmarshal([]byte(`{"total":"7.5"}`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Total != 750 {
		t.Fatalf("expected 750 cents, got %d", decoded.Total)
	}
}

func TestApplyThenNegateRestoresSession(t *testing.T) {
	var s CashSession
	s.Normalize()
	s.Totals.ByPayment[PaymentCash] = 1000

	delta := SessionDelta{
		Sales:      4400,
		ByPayment:  map[string]Money{PaymentPix: 4400},
		Items:      map[string]int{"Acai 500ml": 2},
		Categories: map[string]int{"Sobremesas": 2},
	}
	s.Apply(delta)
	if s.Totals.Sales != 4400 || s.Sold.Items["Acai 500ml"] != 2 {
		t.Fatalf("delta not applied: %+v", s.Totals)
	}

	s.Apply(delta.Negate())
	if s.Totals.Sales != 0 {
		t.Fatalf("expected sales back to zero, got %d", s.Totals.Sales)
	}
	if len(s.Totals.ByPayment) != 1 || s.Totals.ByPayment[PaymentCash] != 1000 {
		t.Fatalf("expected only the cash counter to remain, got %v", s.Totals.ByPayment)
	}
	if len(s.Sold.Items) != 0 || len(s.Sold.Categories) != 0 {
		t.Fatalf("expected zeroed counters to be dropped, got %v / %v", s.Sold.Items, s.Sold.Categories)
	}
	if delta.Negate().IsZero() {
		t.Fatalf("negated delta should be non-zero like the original")
	}
	if !(SessionDelta{ByPayment: map[string]Money{PaymentPix: 0}}).IsZero() {
		t.Fatalf("a delta of zero counters is zero")
	}
}

func TestExpectedCash(t *testing.T) {
	s := CashSession{
		StartingFloat: 10000,
		Totals: SessionTotals{
			Sales:     9000,
			CashIn:    2550,
			CashOut:   800,
			ByPayment: map[string]Money{PaymentCash: 3000, PaymentPix: 6000},
		},
	}
	if got := s.ExpectedCash(); got != 10000+3000+2550-800 {
		t.Fatalf("unexpected expected cash %d", got)
	}
}

func TestRemoveOrderOutflow(t *testing.T) {
	s := CashSession{
		Totals: SessionTotals{CashOut: 2300},
		Movements: []CashMovement{
			{ID: "manual", Type: MovementOut, Amount: 800, Note: "taxa de entrega pedido 1A0001"},
			{ID: "a", Type: MovementOut, Amount: 700, Note: "taxa", OrderID: "1A0001"},
			{ID: "b", Type: MovementOut, Amount: 800, Note: "taxa de entrega pedido 1A0001", OrderID: "1A0001"},
		},
	}
	removed, ok := s.RemoveOrderOutflow("1A0001", "taxa de entrega pedido 1A0001")
	if !ok || removed.ID != "b" {
		t.Fatalf("expected movement b to be removed, got %+v %v", removed, ok)
	}
	if s.Totals.CashOut != 1500 || len(s.Movements) != 2 {
		t.Fatalf("unexpected session after removal: %+v", s)
	}
	if _, ok := s.RemoveOrderOutflow("1A0001", "taxa de entrega pedido 1A0001"); ok {
		t.Fatalf("movement must only be removed once")
	}
	if _, ok := s.RemoveOrderOutflow("", "taxa de entrega pedido 1A0001"); ok {
		t.Fatalf("manual movements carry no order id and must never match")
	}
}
