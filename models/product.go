package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/stockbook_backend/config"
	"bitbucket.org/mmdatafocus/stockbook_backend/utils"
	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const productCacheTTL = 30 * time.Second

type Product struct {
	ID               int              `gorm:"primary_key" json:"id"`
	Name             string           `gorm:"size:255;not null" json:"name" binding:"required"`
	Sku              string           `gorm:"size:100;not null;uniqueIndex" json:"sku" binding:"required"`
	Category         string           `gorm:"size:100" json:"category"`
	Price            decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"price"`
	PurchasePrice    *decimal.Decimal `gorm:"type:decimal(20,4)" json:"purchase_price"`
	Quantity         decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	OnHand           decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"on_hand"`
	InitialStock     *decimal.Decimal `gorm:"type:decimal(20,4)" json:"initial_stock"`
	ShortDescription string           `gorm:"type:text" json:"short_description"`
	CreatedAt        time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Name             string           `json:"name" binding:"required"`
	Sku              string           `json:"sku" binding:"required"`
	Category         string           `json:"category"`
	Price            decimal.Decimal  `json:"price"`
	PurchasePrice    *decimal.Decimal `json:"purchase_price"`
	InitialStock     *decimal.Decimal `json:"initial_stock"`
	OnHand           *decimal.Decimal `json:"on_hand"`
	ShortDescription string           `json:"short_description"`
}

// validate input for both create & update. (id = 0 for create)
func (input *NewProduct) validate(ctx context.Context, id int) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	// MySQL's default collation already makes the unique index on sku
	// case-insensitive; the explicit check exists to return a readable
	// error before the transaction is opened.
	if err := utils.ValidateUnique[Product](ctx, "LOWER(sku)", strings.ToLower(strings.TrimSpace(input.Sku)), id); err != nil {
		return err
	}
	if input.Price.IsNegative() {
		return errors.New("price must not be negative")
	}
	return nil
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	db := config.GetDB()

	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	initial := decimal.Zero
	if input.InitialStock != nil {
		initial = *input.InitialStock
	}
	onHand := initial
	if input.OnHand != nil {
		onHand = *input.OnHand
	}

	product := Product{
		Name:             input.Name,
		Sku:              strings.TrimSpace(input.Sku),
		Category:         input.Category,
		Price:            utils.RoundMoney(input.Price),
		PurchasePrice:    input.PurchasePrice,
		Quantity:         initial,
		OnHand:           onHand,
		// Always persisted, even when zero: reconciliation anchors on this
		// field, and the anchor must never move once the product exists.
		InitialStock:     &initial,
		ShortDescription: input.ShortDescription,
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

	if err := tx.Create(&product).Error; err != nil {
		return nil, mapDuplicateSku(err, product.Sku)
	}
	if err := LogActivity(tx, ctx, ActivityActionCreate, product.ID, "products",
		fmt.Sprintf("Product %s (%s) created.", product.Name, product.Sku)); err != nil {
		config.LogError(config.GetLogger(), "product.go", "CreateProduct", "LogActivity", product.ID, err)
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// UpdateProduct applies a direct edit. Direct edits bypass the invoice
// ledger entirely; they may set on_hand to anything, including negative
// values. Drift introduced here is healed by stock reconciliation.
func UpdateProduct(ctx context.Context, id int, input *NewProduct) (*Product, error) {
	db := config.GetDB()

	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}

	var product Product
	if err := db.WithContext(ctx).First(&product, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &ProductNotFoundError{ProductId: id}
		}
		return nil, err
	}

	product.Name = input.Name
	product.Sku = strings.TrimSpace(input.Sku)
	product.Category = input.Category
	product.Price = utils.RoundMoney(input.Price)
	product.PurchasePrice = input.PurchasePrice
	product.ShortDescription = input.ShortDescription
	if input.InitialStock != nil {
		product.InitialStock = input.InitialStock
	}
	if input.OnHand != nil {
		product.OnHand = *input.OnHand
	}

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	if err := tx.Save(&product).Error; err != nil {
		return nil, mapDuplicateSku(err, product.Sku)
	}
	if err := LogActivity(tx, ctx, ActivityActionUpdate, product.ID, "products",
		fmt.Sprintf("Product %s (%s) updated.", product.Name, product.Sku)); err != nil {
		config.LogError(config.GetLogger(), "product.go", "UpdateProduct", "LogActivity", product.ID, err)
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	invalidateProductCache(product.ID)
	return &product, nil
}

// DeleteProduct removes a product document. Irreversible. Invoices keep
// their denormalized name/sku/price snapshots, so history stays readable;
// reconciliation treats a missing product as a no-op.
func DeleteProduct(ctx context.Context, id int) (*Product, error) {
	db := config.GetDB()

	var product Product
	if err := db.WithContext(ctx).First(&product, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &ProductNotFoundError{ProductId: id}
		}
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

	if err := tx.Delete(&Product{}, id).Error; err != nil {
		return nil, err
	}
	if err := LogActivity(tx, ctx, ActivityActionPermanentDelete, id, "products",
		fmt.Sprintf("Product %s (%s) deleted.", product.Name, product.Sku)); err != nil {
		config.LogError(config.GetLogger(), "product.go", "DeleteProduct", "LogActivity", id, err)
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	invalidateProductCache(id)
	return &product, nil
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	var product Product

	cacheKey := productCacheKey(id)
	if found, err := config.GetRedisObject(cacheKey, &product); err == nil && found {
		return &product, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).First(&product, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &ProductNotFoundError{ProductId: id}
		}
		return nil, err
	}
	if err := config.SetRedisObject(cacheKey, &product, productCacheTTL); err != nil {
		config.LogError(config.GetLogger(), "product.go", "GetProduct", "SetRedisObject", id, err)
	}
	return &product, nil
}

func GetProducts(ctx context.Context, category *string, name *string) ([]*Product, error) {
	db := config.GetDB()
	var products []*Product

	dbCtx := db.WithContext(ctx).Model(&Product{})
	if category != nil && *category != "" {
		dbCtx = dbCtx.Where("category = ?", *category)
	}
	if name != nil && *name != "" {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	if err := dbCtx.Order("name ASC").Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

func productCacheKey(id int) string {
	return fmt.Sprintf("product:%d", id)
}

func invalidateProductCache(ids ...int) {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, productCacheKey(id))
	}
	if len(keys) == 0 {
		return
	}
	if err := config.RemoveRedisKey(keys...); err != nil {
		config.LogError(config.GetLogger(), "product.go", "invalidateProductCache", "RemoveRedisKey", keys, err)
	}
}

// mapDuplicateSku turns the unique-index violation on products.sku into a
// readable error. The pre-check in validate can race with a concurrent
// create; the index is the authority.
func mapDuplicateSku(err error, sku string) error {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		return errors.New("duplicate sku: " + sku)
	}
	return err
}
