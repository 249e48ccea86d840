package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/stockbook_backend/config"
	"bitbucket.org/mmdatafocus/stockbook_backend/models"
	"bitbucket.org/mmdatafocus/stockbook_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DeleteAllInvoices empties the invoice collection. Each active invoice's
// stock effect is reversed first; deleting documents and leaving stock
// stale is exactly the drift reconciliation exists to correct, so the bulk
// path must not create it.
func DeleteAllInvoices(ctx context.Context, logger *logrus.Logger) error {
	db := config.GetDB()
	if logger == nil {
		logger = config.GetLogger()
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := utils.AcquirePostingLock(tx); err != nil {
			return err
		}
		defer utils.ReleasePostingLock(tx)

		var invoices []*models.Invoice
		if err := tx.Preload("Items").Find(&invoices).Error; err != nil {
			return err
		}

		var reversed int
		for _, invoice := range invoices {
			// Trashed invoices were already reversed when trashed.
			if invoice.DeletedAt != nil {
				continue
			}
			if err := models.ReverseInvoiceStock(tx, invoice); err != nil {
				return fmt.Errorf("delete all invoices: reverse invoice %d: %w", invoice.ID, err)
			}
			reversed++
		}

		if err := tx.Where("1 = 1").Delete(&models.InvoiceItem{}).Error; err != nil {
			return err
		}
		if err := tx.Where("1 = 1").Delete(&models.Invoice{}).Error; err != nil {
			return err
		}

		if err := models.LogActivity(tx, ctx, models.ActivityActionPermanentDelete, 0, "invoices",
			fmt.Sprintf("All invoices deleted (%d total, %d stock reversals).", len(invoices), reversed)); err != nil {
			config.LogError(logger, "bulkOps.go", "DeleteAllInvoices", "LogActivity", nil, err)
		}

		logger.WithFields(logrus.Fields{
			"invoices": len(invoices),
			"reversed": reversed,
		}).Info("bulk.delete_all_invoices.done")
		return nil
	})
}

// ClearAllData wipes invoices, products, and activity logs. Stock reversal
// is pointless here since the products go too; the posting lock still
// serializes against in-flight lifecycle transitions.
func ClearAllData(ctx context.Context, logger *logrus.Logger) error {
	db := config.GetDB()
	if logger == nil {
		logger = config.GetLogger()
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := utils.AcquirePostingLock(tx); err != nil {
			return err
		}
		defer utils.ReleasePostingLock(tx)

		for _, model := range []interface{}{
			&models.InvoiceItem{}, &models.Invoice{}, &models.Product{}, &models.ActivityLog{},
		} {
			if err := tx.Where("1 = 1").Delete(model).Error; err != nil {
				return err
			}
		}

		logger.Info("bulk.clear_all_data.done")
		return nil
	})
}
