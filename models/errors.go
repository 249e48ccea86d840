package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DuplicateInvoiceNumberError is returned when an invoice number is already
// taken by another invoice of the same type in the same year. A trashed
// invoice still owns its number until it is permanently deleted.
type DuplicateInvoiceNumberError struct {
	InvoiceNumber string
	InvoiceType   InvoiceType
	Year          int
}

func (e *DuplicateInvoiceNumberError) Error() string {
	return fmt.Sprintf("invoice number %s already exists for type %s in %d", e.InvoiceNumber, e.InvoiceType, e.Year)
}

// ProductNotFoundError is returned when an invoice line references a product
// that no longer exists. The whole transition is aborted.
type ProductNotFoundError struct {
	ProductId int
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductId)
}

// NegativeStockError is returned when applying a stock-consuming invoice
// would drive a product's on-hand count below zero. Detected before any
// write is committed.
type NegativeStockError struct {
	ProductId   int
	ProductName string
	OnHand      decimal.Decimal
	Delta       decimal.Decimal
}

func (e *NegativeStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (product_id=%d): on hand %s, attempted change %s",
		e.ProductName, e.ProductId, e.OnHand.String(), e.Delta.String())
}

// InvalidStateError is returned when a lifecycle transition is requested
// from the wrong state, e.g. editing a trashed invoice or restoring an
// active one.
type InvalidStateError struct {
	InvoiceId int
	State     string
	Action    string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s invoice %d: invoice is %s", e.Action, e.InvoiceId, e.State)
}
