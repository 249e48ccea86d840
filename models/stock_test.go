package models

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLineEffectSignConvention(t *testing.T) {
	// Stored quantities are seller-signed: a sale of 5 removes 5 from
	// stock, a return stored as -4 adds 4 back.
	cases := []struct {
		name        string
		invoiceType InvoiceType
		quantity    int64
		want        int64
	}{
		{"sale removes stock", InvoiceTypeSale, 5, -5},
		{"gifted-damaged removes stock", InvoiceTypeGiftedDamaged, 2, -2},
		{"return adds stock back", InvoiceTypeReturn, -4, 4},
		{"legacy cash removes stock", InvoiceTypeCash, 3, -3},
		{"legacy refund adds stock back", InvoiceTypeRefund, -1, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := LineEffect(tc.invoiceType, decimal.NewFromInt(tc.quantity))
			if got.Cmp(decimal.NewFromInt(tc.want)) != 0 {
				t.Fatalf("LineEffect(%s, %d) = %s; want %d", tc.invoiceType, tc.quantity, got.String(), tc.want)
			}
		})
	}
}

func TestDecrementsStock(t *testing.T) {
	decrementing := []InvoiceType{InvoiceTypeSale, InvoiceTypeGiftedDamaged, InvoiceTypeCash, InvoiceTypeOnlineSale, InvoiceTypeWriteOff}
	for _, it := range decrementing {
		if !it.DecrementsStock() {
			t.Errorf("%s should be subject to the negative-stock floor", it)
		}
	}
	exempt := []InvoiceType{InvoiceTypeReturn, InvoiceTypeRefund}
	for _, it := range exempt {
		if it.DecrementsStock() {
			t.Errorf("%s only increases stock and must be exempt from the floor", it)
		}
	}
}

func TestBucketForInvoiceType(t *testing.T) {
	cases := []struct {
		invoiceType InvoiceType
		want        StockBucket
	}{
		{InvoiceTypeSale, StockBucketSold},
		{InvoiceTypeCash, StockBucketSold},
		{InvoiceTypeOnlineSale, StockBucketSold},
		{InvoiceTypeGiftedDamaged, StockBucketWrittenOff},
		{InvoiceTypeWriteOff, StockBucketWrittenOff},
		{InvoiceTypeReturn, StockBucketRefunded},
		{InvoiceTypeRefund, StockBucketRefunded},
	}
	for _, tc := range cases {
		got, err := BucketForInvoiceType(tc.invoiceType)
		if err != nil {
			t.Fatalf("BucketForInvoiceType(%s): %v", tc.invoiceType, err)
		}
		if got != tc.want {
			t.Errorf("BucketForInvoiceType(%s) = %s; want %s", tc.invoiceType, got, tc.want)
		}
	}
	if _, err := BucketForInvoiceType(InvoiceType("bogus")); err == nil {
		t.Error("expected error for unknown invoice type")
	}
}

func TestComputeTotals(t *testing.T) {
	d := func(s string) decimal.Decimal {
		v, err := decimal.NewFromString(s)
		if err != nil {
			t.Fatalf("bad decimal %q: %v", s, err)
		}
		return v
	}

	t.Run("no discounts", func(t *testing.T) {
		items := []InvoiceItem{
			{Price: d("1500"), Quantity: d("2")},
			{Price: d("700"), Quantity: d("3")},
		}
		subtotal, discountAmount, total := computeTotals(items, decimal.Zero)
		if subtotal.Cmp(d("5100")) != 0 {
			t.Errorf("subtotal = %s; want 5100", subtotal)
		}
		if !discountAmount.IsZero() {
			t.Errorf("discount = %s; want 0", discountAmount)
		}
		if total.Cmp(d("5100")) != 0 {
			t.Errorf("total = %s; want 5100", total)
		}
	})

	t.Run("line and invoice discounts stack", func(t *testing.T) {
		// 1000 * 4 with 25% line discount = 3000; 10% on top = 2700.
		items := []InvoiceItem{{Price: d("1000"), Quantity: d("4"), Discount: d("25")}}
		subtotal, discountAmount, total := computeTotals(items, d("10"))
		if subtotal.Cmp(d("3000")) != 0 {
			t.Errorf("subtotal = %s; want 3000", subtotal)
		}
		if discountAmount.Cmp(d("300")) != 0 {
			t.Errorf("discount = %s; want 300", discountAmount)
		}
		if total.Cmp(d("2700")) != 0 {
			t.Errorf("total = %s; want 2700", total)
		}
	})

	t.Run("rounds once at the end", func(t *testing.T) {
		// 3 lines of 0.333... each would drift if rounded per line.
		items := []InvoiceItem{
			{Price: d("1"), Quantity: d("1"), Discount: d("66.6667")},
			{Price: d("1"), Quantity: d("1"), Discount: d("66.6667")},
			{Price: d("1"), Quantity: d("1"), Discount: d("66.6667")},
		}
		subtotal, _, _ := computeTotals(items, decimal.Zero)
		if subtotal.Cmp(d("1")) != 0 {
			t.Errorf("subtotal = %s; want 1 (aggregate before rounding)", subtotal)
		}
	})

	t.Run("negative return quantities yield negative totals", func(t *testing.T) {
		items := []InvoiceItem{{Price: d("500"), Quantity: d("-2")}}
		subtotal, _, total := computeTotals(items, decimal.Zero)
		if subtotal.Cmp(d("-1000")) != 0 {
			t.Errorf("subtotal = %s; want -1000", subtotal)
		}
		if total.Cmp(d("-1000")) != 0 {
			t.Errorf("total = %s; want -1000", total)
		}
	})
}

func TestNewInvoiceValidate(t *testing.T) {
	base := func() *NewInvoice {
		return &NewInvoice{
			InvoiceType: InvoiceTypeSale,
			InvoiceDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			Customer:    NewCustomer{Name: "Aye Aye"},
			Items: []NewInvoiceItem{
				{ProductId: 1, Quantity: decimal.NewFromInt(2)},
			},
		}
	}
	ctx := context.Background()

	if err := base().validate(ctx); err != nil {
		t.Fatalf("valid input rejected: %v", err)
	}

	t.Run("legacy type rejected on create", func(t *testing.T) {
		input := base()
		input.InvoiceType = InvoiceTypeCash
		if err := input.validate(ctx); err == nil {
			t.Error("expected legacy invoice type to be rejected")
		}
	})

	t.Run("zero quantity rejected", func(t *testing.T) {
		input := base()
		input.Items[0].Quantity = decimal.Zero
		if err := input.validate(ctx); err == nil {
			t.Error("expected zero quantity to be rejected")
		}
	})

	t.Run("negative quantity rejected on sale", func(t *testing.T) {
		input := base()
		input.Items[0].Quantity = decimal.NewFromInt(-2)
		if err := input.validate(ctx); err == nil {
			t.Error("expected negative sale quantity to be rejected")
		}
	})

	t.Run("positive quantity rejected on return", func(t *testing.T) {
		input := base()
		input.InvoiceType = InvoiceTypeReturn
		input.Items[0].Quantity = decimal.NewFromInt(2)
		if err := input.validate(ctx); err == nil {
			t.Error("expected positive return quantity to be rejected")
		}
	})

	t.Run("return with negative quantity accepted", func(t *testing.T) {
		input := base()
		input.InvoiceType = InvoiceTypeReturn
		input.Items[0].Quantity = decimal.NewFromInt(-2)
		if err := input.validate(ctx); err != nil {
			t.Errorf("return with negative quantity rejected: %v", err)
		}
	})

	t.Run("invoice discount over 100 rejected", func(t *testing.T) {
		input := base()
		input.DiscountPercentage = decimal.NewFromInt(101)
		if err := input.validate(ctx); err == nil {
			t.Error("expected discount over 100 percent to be rejected")
		}
	})

	t.Run("bad email rejected", func(t *testing.T) {
		input := base()
		input.Customer.Email = "not-an-email"
		if err := input.validate(ctx); err == nil {
			t.Error("expected invalid email to be rejected")
		}
	})

	t.Run("empty items rejected", func(t *testing.T) {
		input := base()
		input.Items = nil
		if err := input.validate(ctx); err == nil {
			t.Error("expected empty item list to be rejected")
		}
	})
}

func TestMarshalItemsIds(t *testing.T) {
	if got := marshalItemsIds([]int{1, 7, 12}); got != "[1,7,12]" {
		t.Errorf("marshalItemsIds = %q; want [1,7,12]", got)
	}
	if got := marshalItemsIds(nil); got != "null" && got != "[]" {
		t.Errorf("marshalItemsIds(nil) = %q", got)
	}
}
