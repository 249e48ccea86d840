package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sign convention: quantities are stored from the seller's point of view.
// Sale-type lines carry positive quantities, return-type lines carry
// negative quantities, so a single signed formula covers both:
//
//	effect on stock = -quantity
//
// A sale of 5 removes 5 from stock; a return stored as -4 adds 4 back.

// LineEffect is the signed stock delta one invoice line contributes to its
// product when the invoice is applied.
func LineEffect(invoiceType InvoiceType, quantity decimal.Decimal) decimal.Decimal {
	_ = invoiceType // the stored sign already encodes direction; the type only matters for the floor rule
	return quantity.Neg()
}

type stockDirection int

const (
	stockApply stockDirection = iota
	stockReverse
)

// applyStockDeltas moves every affected product's on_hand by the invoice
// items' combined effect, inside the caller's transaction.
//
// All products are loaded FOR UPDATE and all floor checks pass before the
// first product row is written, so a rejected invoice leaves nothing to
// roll back. The floor only applies when applying (create/restore/edit
// re-apply) a stock-consuming type; reversals always succeed so an invoice
// can always be trashed.
func applyStockDeltas(tx *gorm.DB, items []InvoiceItem, invoiceType InvoiceType, direction stockDirection) error {
	if len(items) == 0 {
		return nil
	}

	// Combined per-product delta: an invoice may carry several lines for
	// the same product.
	deltas := make(map[int]decimal.Decimal)
	order := make([]int, 0, len(items))
	for _, item := range items {
		effect := LineEffect(invoiceType, item.Quantity)
		if direction == stockReverse {
			effect = effect.Neg()
		}
		if _, seen := deltas[item.ProductId]; !seen {
			order = append(order, item.ProductId)
		}
		deltas[item.ProductId] = deltas[item.ProductId].Add(effect)
	}

	var products []Product
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", order).
		Find(&products).Error; err != nil {
		return err
	}
	byId := make(map[int]*Product, len(products))
	for i := range products {
		byId[products[i].ID] = &products[i]
	}

	newOnHand := make(map[int]decimal.Decimal, len(order))
	for _, productId := range order {
		product, ok := byId[productId]
		if !ok {
			return &ProductNotFoundError{ProductId: productId}
		}
		next := product.OnHand.Add(deltas[productId])
		if direction == stockApply && invoiceType.DecrementsStock() && next.IsNegative() {
			return &NegativeStockError{
				ProductId:   product.ID,
				ProductName: product.Name,
				OnHand:      product.OnHand,
				Delta:       deltas[productId],
			}
		}
		newOnHand[productId] = next
	}

	for _, productId := range order {
		if err := tx.Model(&Product{}).
			Where("id = ?", productId).
			Update("on_hand", newOnHand[productId]).Error; err != nil {
			return err
		}
	}
	return nil
}

// ApplyInvoiceStock applies the invoice's stock effect (create, restore).
func ApplyInvoiceStock(tx *gorm.DB, invoice *Invoice) error {
	return applyStockDeltas(tx, invoice.Items, invoice.InvoiceType, stockApply)
}

// ReverseInvoiceStock undoes the invoice's stock effect (trash, and the
// reversal half of an edit). Never floor-checked.
func ReverseInvoiceStock(tx *gorm.DB, invoice *Invoice) error {
	return applyStockDeltas(tx, invoice.Items, invoice.InvoiceType, stockReverse)
}
