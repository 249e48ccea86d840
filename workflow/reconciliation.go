package workflow

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/stockbook_backend/config"
	"bitbucket.org/mmdatafocus/stockbook_backend/models"
	"bitbucket.org/mmdatafocus/stockbook_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RecalculateProductStock recomputes a product's ledger quantity from its
// complete active-invoice history, independent of the incremental on_hand
// bookkeeping. It heals drift caused by direct product edits, bulk
// operations that bypassed the ledger, or partially-applied data fixes.
//
// Full recompute, not incremental: safe to call repeatedly. The scan
// filters trashed invoices itself rather than trusting the query.
//
// This writes the quantity field only; on_hand stays authoritative and is
// maintained by the invoice lifecycle. Quantity is the reconciled cache.
func RecalculateProductStock(ctx context.Context, logger *logrus.Logger, productId int) error {
	db := config.GetDB()
	if logger == nil {
		logger = config.GetLogger()
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := utils.AcquirePostingLock(tx); err != nil {
			return err
		}
		defer utils.ReleasePostingLock(tx)

		var product models.Product
		if err := tx.First(&product, productId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// Product deleted after its invoices: nothing to reconcile.
				logger.WithFields(logrus.Fields{
					"product_id": productId,
				}).Info("stock.recalculate.skip_missing_product")
				return nil
			}
			return fmt.Errorf("recalculate stock: load product %d: %w", productId, err)
		}

		invoices, err := models.GetInvoicesByProduct(tx, productId)
		if err != nil {
			return fmt.Errorf("recalculate stock: scan invoices for product %d: %w", productId, err)
		}

		var sold, writtenOff, refunded decimal.Decimal
		for _, invoice := range invoices {
			if invoice.DeletedAt != nil {
				continue
			}
			bucket, err := models.BucketForInvoiceType(invoice.InvoiceType)
			if err != nil {
				logger.WithFields(logrus.Fields{
					"product_id":   productId,
					"invoice_id":   invoice.ID,
					"invoice_type": invoice.InvoiceType,
				}).Warn("stock.recalculate.unknown_invoice_type")
				continue
			}
			for _, item := range invoice.Items {
				if item.ProductId != productId {
					continue
				}
				switch bucket {
				case models.StockBucketSold:
					sold = sold.Add(item.Quantity)
				case models.StockBucketWrittenOff:
					writtenOff = writtenOff.Add(item.Quantity)
				case models.StockBucketRefunded:
					// Return quantities are stored negative; negate so the
					// refunded accumulator counts units coming back in.
					refunded = refunded.Add(item.Quantity.Neg())
				}
			}
		}

		// Anchor: the baseline stock before any invoice history. The anchor
		// must be stable across runs, so legacy rows created before
		// initial_stock existed get one derived from the authoritative
		// on_hand balance and persisted; anchoring on the quantity field
		// this function writes would compound its own output.
		var anchor decimal.Decimal
		if product.InitialStock != nil {
			anchor = *product.InitialStock
		} else {
			anchor = product.OnHand.Add(sold).Add(writtenOff).Sub(refunded)
			if err := tx.Model(&models.Product{}).
				Where("id = ?", productId).
				Update("initial_stock", anchor).Error; err != nil {
				return fmt.Errorf("recalculate stock: backfill anchor for product %d: %w", productId, err)
			}
		}

		final := anchor.Sub(sold).Sub(writtenOff).Add(refunded)
		if final.IsNegative() {
			final = decimal.Zero
		}

		if err := tx.Model(&models.Product{}).
			Where("id = ?", productId).
			Update("quantity", final).Error; err != nil {
			return fmt.Errorf("recalculate stock: write product %d: %w", productId, err)
		}

		if err := models.LogActivity(tx, ctx, models.ActivityActionRecalculate, productId, "products",
			fmt.Sprintf("Product %s (%s) stock recalculated to %s.", product.Name, product.Sku, final.String())); err != nil {
			config.LogError(logger, "reconciliation.go", "RecalculateProductStock", "LogActivity", productId, err)
		}

		logger.WithFields(logrus.Fields{
			"product_id":  productId,
			"anchor":      anchor.String(),
			"sold":        sold.String(),
			"written_off": writtenOff.String(),
			"refunded":    refunded.String(),
			"final":       final.String(),
		}).Info("stock.recalculate.done")
		return nil
	})
}

// RecalculateAllProducts runs the reconciliation engine over every product.
// Used after bulk mutations and by the maintenance CLI.
func RecalculateAllProducts(ctx context.Context, logger *logrus.Logger) error {
	db := config.GetDB()
	if logger == nil {
		logger = config.GetLogger()
	}

	var productIds []int
	if err := db.WithContext(ctx).Model(&models.Product{}).
		Order("id ASC").Pluck("id", &productIds).Error; err != nil {
		return err
	}

	var failed int
	for _, id := range productIds {
		if err := RecalculateProductStock(ctx, logger, id); err != nil {
			failed++
			config.LogError(logger, "reconciliation.go", "RecalculateAllProducts", "RecalculateProductStock", id, err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("stock recalculation failed for %d of %d products", failed, len(productIds))
	}
	return nil
}
