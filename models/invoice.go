package models

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/stockbook_backend/config"
	"bitbucket.org/mmdatafocus/stockbook_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Invoice struct {
	ID            int         `gorm:"primary_key" json:"id"`
	InvoiceNumber string      `gorm:"size:50;not null;index:idx_invoices_number_type" json:"invoice_number"`
	InvoiceType   InvoiceType `gorm:"size:20;not null;index:idx_invoices_number_type" json:"invoice_type"`
	InvoiceDate   time.Time   `gorm:"not null" json:"invoice_date"`

	CustomerName    string `gorm:"size:255" json:"customer_name"`
	CustomerEmail   string `gorm:"size:255" json:"customer_email"`
	CustomerAddress string `gorm:"size:500" json:"customer_address"`
	CustomerPhone   string `gorm:"size:50" json:"customer_phone"`

	Items []InvoiceItem `gorm:"foreignKey:InvoiceId" json:"items"`

	// Denormalized product-id list ("[1,7,12]") so reconciliation can scan
	// invoices by product without joining the items table. Maintained on
	// every create and update.
	ItemsIds string `gorm:"type:json" json:"items_ids"`

	Subtotal           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"subtotal"`
	Discount           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount"`
	DiscountPercentage decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount_percentage"`
	Total              decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total"`

	Status string `gorm:"size:50" json:"status"`

	// null = active, set = in trash. The stock effect is reversed the
	// moment this is set and re-applied when it is cleared.
	DeletedAt *time.Time `gorm:"index" json:"deleted_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type InvoiceItem struct {
	ID        int `gorm:"primary_key" json:"id"`
	InvoiceId int `gorm:"index;not null" json:"invoice_id"`
	ProductId int `gorm:"index;not null" json:"product_id"`

	// Snapshot at time of sale; the product may be renamed, repriced, or
	// deleted later without rewriting history.
	Name          string           `gorm:"size:255" json:"name"`
	Sku           string           `gorm:"size:100" json:"sku"`
	Price         decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"price"`
	PurchasePrice *decimal.Decimal `gorm:"type:decimal(20,4)" json:"purchase_price"`

	Quantity decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	Discount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewInvoice struct {
	InvoiceNumber      string           `json:"invoice_number"`
	InvoiceType        InvoiceType      `json:"invoice_type" binding:"required"`
	InvoiceDate        time.Time        `json:"invoice_date" binding:"required"`
	Customer           NewCustomer      `json:"customer"`
	Items              []NewInvoiceItem `json:"items" binding:"required,min=1,dive"`
	DiscountPercentage decimal.Decimal  `json:"discount_percentage"`
	Status             string           `json:"status"`
}

type NewCustomer struct {
	Name    string `json:"name" binding:"required"`
	Email   string `json:"email"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

type NewInvoiceItem struct {
	ProductId int              `json:"product_id" binding:"required"`
	Quantity  decimal.Decimal  `json:"quantity" binding:"required"`
	Price     *decimal.Decimal `json:"price"`
	Discount  decimal.Decimal  `json:"discount"`
}

// validate input for both create & update. (id = 0 for create)
func (input *NewInvoice) validate(ctx context.Context) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if !input.InvoiceType.IsCanonical() {
		return errors.New("invalid invoice type: " + string(input.InvoiceType))
	}
	if input.Customer.Email != "" && !utils.IsValidEmail(input.Customer.Email) {
		return errors.New("invalid customer email: " + input.Customer.Email)
	}
	if input.Customer.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Customer.Phone, "MM"); err != nil {
			return err
		}
	}
	if input.DiscountPercentage.IsNegative() || input.DiscountPercentage.GreaterThan(decimal.NewFromInt(100)) {
		return errors.New("discount percentage must be between 0 and 100")
	}
	for _, item := range input.Items {
		if item.Quantity.IsZero() {
			return errors.New("item quantity must not be zero")
		}
		// Sign convention: sale-type quantities are positive, return
		// quantities are stored negative.
		if input.InvoiceType.DecrementsStock() && item.Quantity.IsNegative() {
			return fmt.Errorf("negative quantity not allowed for %s invoices (product_id=%d)", input.InvoiceType, item.ProductId)
		}
		if !input.InvoiceType.DecrementsStock() && item.Quantity.IsPositive() {
			return fmt.Errorf("return quantities are stored negative (product_id=%d)", item.ProductId)
		}
		if item.Discount.IsNegative() || item.Discount.GreaterThan(decimal.NewFromInt(100)) {
			return errors.New("item discount must be between 0 and 100")
		}
	}
	return nil
}

// validateInvoiceNumber enforces number uniqueness within (number, type,
// year). Trashed invoices still hold their number; only permanent deletion
// frees it.
func validateInvoiceNumber(tx *gorm.DB, number string, invoiceType InvoiceType, date time.Time, exceptId int) error {
	year := utils.YearOf(date)
	var count int64
	q := tx.Model(&Invoice{}).
		Where("invoice_number = ? AND invoice_type = ? AND YEAR(invoice_date) = ?", number, invoiceType, year)
	if exceptId > 0 {
		q = q.Where("id != ?", exceptId)
	}
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return &DuplicateInvoiceNumberError{InvoiceNumber: number, InvoiceType: invoiceType, Year: year}
	}
	return nil
}

// nextInvoiceNumber issues the next "NNN/YY" business number for the type
// and year. Runs under the posting lock, so the count cannot race with a
// concurrent create.
func nextInvoiceNumber(tx *gorm.DB, invoiceType InvoiceType, date time.Time) (string, error) {
	year := utils.YearOf(date)
	var count int64
	if err := tx.Model(&Invoice{}).
		Where("invoice_type = ? AND YEAR(invoice_date) = ?", invoiceType, year).
		Count(&count).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("%03d/%02d", count+1, year%100), nil
}

// buildInvoiceItems resolves each input line against its product and
// snapshots name/sku/price. Every product must exist or the whole
// transition fails.
func buildInvoiceItems(tx *gorm.DB, inputs []NewInvoiceItem) ([]InvoiceItem, []int, error) {
	productIds := make([]int, 0, len(inputs))
	for _, item := range inputs {
		productIds = append(productIds, item.ProductId)
	}
	productIds = utils.UniqueSlice(productIds)

	var products []Product
	if err := tx.Where("id IN ?", productIds).Find(&products).Error; err != nil {
		return nil, nil, err
	}
	byId := make(map[int]*Product, len(products))
	for i := range products {
		byId[products[i].ID] = &products[i]
	}

	items := make([]InvoiceItem, 0, len(inputs))
	for _, input := range inputs {
		product, ok := byId[input.ProductId]
		if !ok {
			return nil, nil, &ProductNotFoundError{ProductId: input.ProductId}
		}
		price := product.Price
		if input.Price != nil {
			price = *input.Price
		}
		items = append(items, InvoiceItem{
			ProductId:     product.ID,
			Name:          product.Name,
			Sku:           product.Sku,
			Price:         price,
			PurchasePrice: product.PurchasePrice,
			Quantity:      input.Quantity,
			Discount:      input.Discount,
		})
	}
	return items, productIds, nil
}

// computeTotals aggregates unrounded and rounds once at the end:
// subtotal = sum(price * qty * (1 - lineDiscount/100)), then the global
// percentage discount on top.
func computeTotals(items []InvoiceItem, discountPercentage decimal.Decimal) (subtotal, discountAmount, total decimal.Decimal) {
	oneHundred := decimal.NewFromInt(100)
	for _, item := range items {
		lineFactor := oneHundred.Sub(item.Discount).Div(oneHundred)
		subtotal = subtotal.Add(item.Price.Mul(item.Quantity).Mul(lineFactor))
	}
	discountAmount = subtotal.Mul(discountPercentage).Div(oneHundred)
	total = subtotal.Sub(discountAmount)
	return utils.RoundMoney(subtotal), utils.RoundMoney(discountAmount), utils.RoundMoney(total)
}

func marshalItemsIds(productIds []int) string {
	out, err := utils.MarshalToJSON(productIds)
	if err != nil {
		return "[]"
	}
	return out
}

// CreateInvoice inserts an active invoice and applies its stock effect as
// one atomic unit. The floor check runs before the invoice row is written.
func CreateInvoice(ctx context.Context, input *NewInvoice) (*Invoice, error) {
	db := config.GetDB()

	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	tx := db.Begin()
	// IMPORTANT: always rollback on early-return or panic to avoid leaking DB locks.
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	if err := utils.AcquirePostingLock(tx); err != nil {
		return nil, err
	}
	defer utils.ReleasePostingLock(tx)

	number := input.InvoiceNumber
	if number == "" {
		var err error
		number, err = nextInvoiceNumber(tx, input.InvoiceType, input.InvoiceDate)
		if err != nil {
			return nil, err
		}
	}
	if err := validateInvoiceNumber(tx, number, input.InvoiceType, input.InvoiceDate, 0); err != nil {
		return nil, err
	}

	items, productIds, err := buildInvoiceItems(tx, input.Items)
	if err != nil {
		return nil, err
	}
	if err := applyStockDeltas(tx, items, input.InvoiceType, stockApply); err != nil {
		return nil, err
	}

	subtotal, discountAmount, total := computeTotals(items, input.DiscountPercentage)
	invoice := Invoice{
		InvoiceNumber:      number,
		InvoiceType:        input.InvoiceType,
		InvoiceDate:        input.InvoiceDate,
		CustomerName:       input.Customer.Name,
		CustomerEmail:      input.Customer.Email,
		CustomerAddress:    input.Customer.Address,
		CustomerPhone:      input.Customer.Phone,
		Items:              items,
		ItemsIds:           marshalItemsIds(productIds),
		Subtotal:           subtotal,
		Discount:           discountAmount,
		DiscountPercentage: input.DiscountPercentage,
		Total:              total,
		Status:             input.Status,
	}
	if err := tx.Create(&invoice).Error; err != nil {
		return nil, err
	}

	if err := LogActivity(tx, ctx, ActivityActionCreate, invoice.ID, "invoices",
		fmt.Sprintf("Invoice %s (%s) created for %s.", invoice.InvoiceNumber, invoice.InvoiceType, invoice.CustomerName)); err != nil {
		config.LogError(config.GetLogger(), "invoice.go", "CreateInvoice", "LogActivity", invoice.ID, err)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	invalidateProductCache(productIds...)
	return &invoice, nil
}

// UpdateInvoice edits an active invoice. Items can be added, removed, or
// reassigned between products, so the complete old item set is reversed
// first and the complete new set applied against the post-reversal
// balances; a per-line "new minus old" delta would be wrong the moment a
// line changes product.
func UpdateInvoice(ctx context.Context, invoiceId int, input *NewInvoice) (*Invoice, error) {
	db := config.GetDB()

	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	if err := utils.AcquirePostingLock(tx); err != nil {
		return nil, err
	}
	defer utils.ReleasePostingLock(tx)

	var invoice Invoice
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Items").First(&invoice, invoiceId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if invoice.DeletedAt != nil {
		return nil, &InvalidStateError{InvoiceId: invoiceId, State: "trashed", Action: "edit"}
	}

	number := input.InvoiceNumber
	if number == "" {
		number = invoice.InvoiceNumber
	}
	if err := validateInvoiceNumber(tx, number, input.InvoiceType, input.InvoiceDate, invoiceId); err != nil {
		return nil, err
	}

	// Reverse the previous stored items against their products first.
	if err := applyStockDeltas(tx, invoice.Items, invoice.InvoiceType, stockReverse); err != nil {
		return nil, err
	}
	oldProductIds := make([]int, 0, len(invoice.Items))
	for _, item := range invoice.Items {
		oldProductIds = append(oldProductIds, item.ProductId)
	}

	// Then apply the new item set; the floor check sees the post-reversal
	// balances.
	items, productIds, err := buildInvoiceItems(tx, input.Items)
	if err != nil {
		return nil, err
	}
	if err := applyStockDeltas(tx, items, input.InvoiceType, stockApply); err != nil {
		return nil, err
	}

	if err := tx.Where("invoice_id = ?", invoiceId).Delete(&InvoiceItem{}).Error; err != nil {
		return nil, err
	}
	for i := range items {
		items[i].InvoiceId = invoiceId
	}
	if err := tx.Create(&items).Error; err != nil {
		return nil, err
	}

	subtotal, discountAmount, total := computeTotals(items, input.DiscountPercentage)
	invoice.InvoiceNumber = number
	invoice.InvoiceType = input.InvoiceType
	invoice.InvoiceDate = input.InvoiceDate
	invoice.CustomerName = input.Customer.Name
	invoice.CustomerEmail = input.Customer.Email
	invoice.CustomerAddress = input.Customer.Address
	invoice.CustomerPhone = input.Customer.Phone
	invoice.ItemsIds = marshalItemsIds(productIds)
	invoice.Subtotal = subtotal
	invoice.Discount = discountAmount
	invoice.DiscountPercentage = input.DiscountPercentage
	invoice.Total = total
	invoice.Status = input.Status
	invoice.Items = items

	if err := tx.Omit("Items").Save(&invoice).Error; err != nil {
		return nil, err
	}

	if err := LogActivity(tx, ctx, ActivityActionUpdate, invoice.ID, "invoices",
		fmt.Sprintf("Invoice %s (%s) updated.", invoice.InvoiceNumber, invoice.InvoiceType)); err != nil {
		config.LogError(config.GetLogger(), "invoice.go", "UpdateInvoice", "LogActivity", invoice.ID, err)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	invalidateProductCache(utils.MergeIntSlices(oldProductIds, productIds)...)
	return &invoice, nil
}

// SoftDeleteInvoice moves an active invoice to the trash and reverses its
// stock effect. Reversal is never floor-checked: trashing must always
// succeed.
func SoftDeleteInvoice(ctx context.Context, invoiceId int) (*Invoice, error) {
	db := config.GetDB()

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	if err := utils.AcquirePostingLock(tx); err != nil {
		return nil, err
	}
	defer utils.ReleasePostingLock(tx)

	var invoice Invoice
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Items").First(&invoice, invoiceId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if invoice.DeletedAt != nil {
		return nil, &InvalidStateError{InvoiceId: invoiceId, State: "trashed", Action: "trash"}
	}

	if err := applyStockDeltas(tx, invoice.Items, invoice.InvoiceType, stockReverse); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	invoice.DeletedAt = &now
	if err := tx.Model(&Invoice{}).Where("id = ?", invoiceId).Update("deleted_at", &now).Error; err != nil {
		return nil, err
	}

	if err := LogActivity(tx, ctx, ActivityActionTrash, invoice.ID, "invoices",
		fmt.Sprintf("Invoice %s (%s) moved to trash.", invoice.InvoiceNumber, invoice.InvoiceType)); err != nil {
		config.LogError(config.GetLogger(), "invoice.go", "SoftDeleteInvoice", "LogActivity", invoice.ID, err)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	invalidateProductCache(invoiceProductIds(&invoice)...)
	return &invoice, nil
}

// RestoreInvoice brings a trashed invoice back and re-applies its stock
// effect, which is the same computation as Create and subject to the same
// floor.
func RestoreInvoice(ctx context.Context, invoiceId int) (*Invoice, error) {
	db := config.GetDB()

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	if err := utils.AcquirePostingLock(tx); err != nil {
		return nil, err
	}
	defer utils.ReleasePostingLock(tx)

	var invoice Invoice
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Items").First(&invoice, invoiceId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if invoice.DeletedAt == nil {
		return nil, &InvalidStateError{InvoiceId: invoiceId, State: "active", Action: "restore"}
	}

	if err := applyStockDeltas(tx, invoice.Items, invoice.InvoiceType, stockApply); err != nil {
		return nil, err
	}

	invoice.DeletedAt = nil
	if err := tx.Model(&Invoice{}).Where("id = ?", invoiceId).Update("deleted_at", nil).Error; err != nil {
		return nil, err
	}

	if err := LogActivity(tx, ctx, ActivityActionRestore, invoice.ID, "invoices",
		fmt.Sprintf("Invoice %s (%s) restored from trash.", invoice.InvoiceNumber, invoice.InvoiceType)); err != nil {
		config.LogError(config.GetLogger(), "invoice.go", "RestoreInvoice", "LogActivity", invoice.ID, err)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	invalidateProductCache(invoiceProductIds(&invoice)...)
	return &invoice, nil
}

// PermanentlyDeleteInvoice removes a trashed invoice for good. No stock
// change: the effect was already reversed when the invoice was trashed.
func PermanentlyDeleteInvoice(ctx context.Context, invoiceId int) (*Invoice, error) {
	db := config.GetDB()

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	var invoice Invoice
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Items").First(&invoice, invoiceId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if invoice.DeletedAt == nil {
		return nil, &InvalidStateError{InvoiceId: invoiceId, State: "active", Action: "permanently delete"}
	}

	if err := tx.Where("invoice_id = ?", invoiceId).Delete(&InvoiceItem{}).Error; err != nil {
		return nil, err
	}
	if err := tx.Delete(&Invoice{}, invoiceId).Error; err != nil {
		return nil, err
	}

	if err := LogActivity(tx, ctx, ActivityActionPermanentDelete, invoice.ID, "invoices",
		fmt.Sprintf("Invoice %s (%s) permanently deleted.", invoice.InvoiceNumber, invoice.InvoiceType)); err != nil {
		config.LogError(config.GetLogger(), "invoice.go", "PermanentlyDeleteInvoice", "LogActivity", invoice.ID, err)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func GetInvoice(ctx context.Context, id int) (*Invoice, error) {
	db := config.GetDB()
	var invoice Invoice
	if err := db.WithContext(ctx).Preload("Items").First(&invoice, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

// GetInvoices lists active invoices, optionally filtered by type.
func GetInvoices(ctx context.Context, invoiceType *InvoiceType) ([]*Invoice, error) {
	db := config.GetDB()
	var invoices []*Invoice

	dbCtx := db.WithContext(ctx).Model(&Invoice{}).Where("deleted_at IS NULL")
	if invoiceType != nil {
		dbCtx = dbCtx.Where("invoice_type = ?", *invoiceType)
	}
	if err := dbCtx.Preload("Items").Order("invoice_date DESC, id DESC").Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func GetTrashedInvoices(ctx context.Context) ([]*Invoice, error) {
	db := config.GetDB()
	var invoices []*Invoice
	if err := db.WithContext(ctx).Model(&Invoice{}).
		Where("deleted_at IS NOT NULL").
		Preload("Items").Order("deleted_at DESC").Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

// GetInvoicesByProduct scans by the denormalized items_ids column. Used by
// reconciliation; callers filter trashed invoices themselves.
func GetInvoicesByProduct(tx *gorm.DB, productId int) ([]*Invoice, error) {
	var invoices []*Invoice
	if err := tx.Model(&Invoice{}).
		Where("JSON_CONTAINS(items_ids, CAST(? AS JSON))", strconv.Itoa(productId)).
		Preload("Items").Order("invoice_date ASC, id ASC").Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func invoiceProductIds(invoice *Invoice) []int {
	ids := make([]int, 0, len(invoice.Items))
	for _, item := range invoice.Items {
		ids = append(ids, item.ProductId)
	}
	return utils.UniqueSlice(ids)
}
