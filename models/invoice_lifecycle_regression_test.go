package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/stockbook_backend/config"
	"bitbucket.org/mmdatafocus/stockbook_backend/models"
	"bitbucket.org/mmdatafocus/stockbook_backend/utils"
	"bitbucket.org/mmdatafocus/stockbook_backend/workflow"
	"github.com/shopspring/decimal"
)

// End-to-end invoice lifecycle against a throwaway MySQL container:
// every state transition must keep sum(active invoice effects) equal to
// the product's on_hand movement, and a full trash/restore cycle must be
// a no-op on stock.
func TestInvoiceLifecycleStockRoundTrip(t *testing.T) {
	ctx := setupIntegration(t)

	laptop := mustCreateProduct(t, ctx, "Laptop", "LAP-001", "100")

	// Create: sale of 10 moves on_hand 100 -> 90.
	inv, err := models.CreateInvoice(ctx, &models.NewInvoice{
		InvoiceType: models.InvoiceTypeSale,
		InvoiceDate: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
		Customer:    models.NewCustomer{Name: "Ko Ko"},
		Items: []models.NewInvoiceItem{
			{ProductId: laptop.ID, Quantity: decimal.NewFromInt(10)},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	assertOnHand(t, ctx, laptop.ID, "90")

	// Generated number follows NNN/YY for the type and year.
	if matched, _ := regexp.MatchString(`^\d{3}/\d{2}$`, inv.InvoiceNumber); !matched {
		t.Fatalf("generated invoice number %q does not match NNN/YY", inv.InvoiceNumber)
	}

	// Trash: effect reversed, 90 -> 100.
	if _, err := models.SoftDeleteInvoice(ctx, inv.ID); err != nil {
		t.Fatalf("SoftDeleteInvoice: %v", err)
	}
	assertOnHand(t, ctx, laptop.ID, "100")

	// Trashing again is an invalid transition.
	var stateErr *models.InvalidStateError
	if _, err := models.SoftDeleteInvoice(ctx, inv.ID); !errors.As(err, &stateErr) {
		t.Fatalf("expected InvalidStateError on double trash; got %v", err)
	}

	// Editing a trashed invoice is rejected too.
	if _, err := models.UpdateInvoice(ctx, inv.ID, &models.NewInvoice{
		InvoiceType: models.InvoiceTypeSale,
		InvoiceDate: inv.InvoiceDate,
		Customer:    models.NewCustomer{Name: "Ko Ko"},
		Items: []models.NewInvoiceItem{
			{ProductId: laptop.ID, Quantity: decimal.NewFromInt(1)},
		},
	}); !errors.As(err, &stateErr) {
		t.Fatalf("expected InvalidStateError on editing trashed invoice; got %v", err)
	}

	// Restore: effect re-applied, 100 -> 90. Round trip is a stock no-op.
	if _, err := models.RestoreInvoice(ctx, inv.ID); err != nil {
		t.Fatalf("RestoreInvoice: %v", err)
	}
	assertOnHand(t, ctx, laptop.ID, "90")

	// Permanent delete requires the trash state.
	if _, err := models.PermanentlyDeleteInvoice(ctx, inv.ID); !errors.As(err, &stateErr) {
		t.Fatalf("expected InvalidStateError on deleting active invoice; got %v", err)
	}
	if _, err := models.SoftDeleteInvoice(ctx, inv.ID); err != nil {
		t.Fatalf("SoftDeleteInvoice(before permanent): %v", err)
	}
	if _, err := models.PermanentlyDeleteInvoice(ctx, inv.ID); err != nil {
		t.Fatalf("PermanentlyDeleteInvoice: %v", err)
	}
	// Stock untouched by permanent delete: the reversal already happened
	// at trash time.
	assertOnHand(t, ctx, laptop.ID, "100")

	if _, err := models.GetInvoice(ctx, inv.ID); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected record-not-found after permanent delete; got %v", err)
	}
}

func TestCreateInvoiceNegativeStockRejected(t *testing.T) {
	ctx := setupIntegration(t)

	phone := mustCreateProduct(t, ctx, "Phone", "PHN-001", "3")

	var negErr *models.NegativeStockError
	_, err := models.CreateInvoice(ctx, &models.NewInvoice{
		InvoiceType: models.InvoiceTypeSale,
		InvoiceDate: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
		Customer:    models.NewCustomer{Name: "Su Su"},
		Items: []models.NewInvoiceItem{
			{ProductId: phone.ID, Quantity: decimal.NewFromInt(5)},
		},
	})
	if !errors.As(err, &negErr) {
		t.Fatalf("expected NegativeStockError selling 5 of 3; got %v", err)
	}
	// Rejection leaves stock untouched.
	assertOnHand(t, ctx, phone.ID, "3")

	// A multi-line invoice fails atomically: the in-stock line must not
	// be applied when a later line trips the floor.
	cable := mustCreateProduct(t, ctx, "Cable", "CBL-001", "50")
	_, err = models.CreateInvoice(ctx, &models.NewInvoice{
		InvoiceType: models.InvoiceTypeSale,
		InvoiceDate: time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC),
		Customer:    models.NewCustomer{Name: "Su Su"},
		Items: []models.NewInvoiceItem{
			{ProductId: cable.ID, Quantity: decimal.NewFromInt(10)},
			{ProductId: phone.ID, Quantity: decimal.NewFromInt(5)},
		},
	})
	if !errors.As(err, &negErr) {
		t.Fatalf("expected NegativeStockError on mixed invoice; got %v", err)
	}
	assertOnHand(t, ctx, cable.ID, "50")
	assertOnHand(t, ctx, phone.ID, "3")

	// Returns are exempt from the floor even when stock is at zero.
	empty := mustCreateProduct(t, ctx, "Empty", "EMP-001", "0")
	if _, err := models.CreateInvoice(ctx, &models.NewInvoice{
		InvoiceType: models.InvoiceTypeReturn,
		InvoiceDate: time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC),
		Customer:    models.NewCustomer{Name: "Su Su"},
		Items: []models.NewInvoiceItem{
			{ProductId: empty.ID, Quantity: decimal.NewFromInt(-4)},
		},
	}); err != nil {
		t.Fatalf("CreateInvoice(return): %v", err)
	}
	assertOnHand(t, ctx, empty.ID, "4")
}

func TestUpdateInvoiceReversesOldItemsThenAppliesNew(t *testing.T) {
	ctx := setupIntegration(t)

	chair := mustCreateProduct(t, ctx, "Chair", "CHR-001", "20")
	table := mustCreateProduct(t, ctx, "Table", "TBL-001", "10")

	inv, err := models.CreateInvoice(ctx, &models.NewInvoice{
		InvoiceType: models.InvoiceTypeSale,
		InvoiceDate: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
		Customer:    models.NewCustomer{Name: "Mg Mg"},
		Items: []models.NewInvoiceItem{
			{ProductId: chair.ID, Quantity: decimal.NewFromInt(5)},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	assertOnHand(t, ctx, chair.ID, "15")

	// Edit quantity 5 -> 2: the old 5 is reversed (+5), the new 2 applied
	// (-2), net +3.
	updated, err := models.UpdateInvoice(ctx, inv.ID, &models.NewInvoice{
		InvoiceNumber: inv.InvoiceNumber,
		InvoiceType:   models.InvoiceTypeSale,
		InvoiceDate:   inv.InvoiceDate,
		Customer:      models.NewCustomer{Name: "Mg Mg"},
		Items: []models.NewInvoiceItem{
			{ProductId: chair.ID, Quantity: decimal.NewFromInt(2)},
		},
	})
	if err != nil {
		t.Fatalf("UpdateInvoice(qty change): %v", err)
	}
	assertOnHand(t, ctx, chair.ID, "18")
	if len(updated.Items) != 1 || updated.Items[0].Quantity.Cmp(decimal.NewFromInt(2)) != 0 {
		t.Fatalf("unexpected updated items: %+v", updated.Items)
	}

	// Swap the line to a different product: chair gets its 2 back, table
	// loses 4.
	if _, err := models.UpdateInvoice(ctx, inv.ID, &models.NewInvoice{
		InvoiceNumber: inv.InvoiceNumber,
		InvoiceType:   models.InvoiceTypeSale,
		InvoiceDate:   inv.InvoiceDate,
		Customer:      models.NewCustomer{Name: "Mg Mg"},
		Items: []models.NewInvoiceItem{
			{ProductId: table.ID, Quantity: decimal.NewFromInt(4)},
		},
	}); err != nil {
		t.Fatalf("UpdateInvoice(product swap): %v", err)
	}
	assertOnHand(t, ctx, chair.ID, "20")
	assertOnHand(t, ctx, table.ID, "6")

	// Floor check on edit sees the post-reversal balance: raising the
	// table line to 10 is fine (6 + 4 back = 10 available), 11 is not.
	if _, err := models.UpdateInvoice(ctx, inv.ID, &models.NewInvoice{
		InvoiceNumber: inv.InvoiceNumber,
		InvoiceType:   models.InvoiceTypeSale,
		InvoiceDate:   inv.InvoiceDate,
		Customer:      models.NewCustomer{Name: "Mg Mg"},
		Items: []models.NewInvoiceItem{
			{ProductId: table.ID, Quantity: decimal.NewFromInt(10)},
		},
	}); err != nil {
		t.Fatalf("UpdateInvoice(raise to full stock): %v", err)
	}
	assertOnHand(t, ctx, table.ID, "0")

	var negErr *models.NegativeStockError
	if _, err := models.UpdateInvoice(ctx, inv.ID, &models.NewInvoice{
		InvoiceNumber: inv.InvoiceNumber,
		InvoiceType:   models.InvoiceTypeSale,
		InvoiceDate:   inv.InvoiceDate,
		Customer:      models.NewCustomer{Name: "Mg Mg"},
		Items: []models.NewInvoiceItem{
			{ProductId: table.ID, Quantity: decimal.NewFromInt(11)},
		},
	}); !errors.As(err, &negErr) {
		t.Fatalf("expected NegativeStockError raising beyond available; got %v", err)
	}
	// Failed edit rolled back completely.
	assertOnHand(t, ctx, table.ID, "0")
}

func TestInvoiceNumberUniquePerTypeAndYear(t *testing.T) {
	ctx := setupIntegration(t)

	pen := mustCreateProduct(t, ctx, "Pen", "PEN-001", "1000")
	newSale := func(number string, date time.Time, invoiceType models.InvoiceType, qty int64) (*models.Invoice, error) {
		return models.CreateInvoice(ctx, &models.NewInvoice{
			InvoiceNumber: number,
			InvoiceType:   invoiceType,
			InvoiceDate:   date,
			Customer:      models.NewCustomer{Name: "Thida"},
			Items: []models.NewInvoiceItem{
				{ProductId: pen.ID, Quantity: decimal.NewFromInt(qty)},
			},
		})
	}

	d2026 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	if _, err := newSale("001/26", d2026, models.InvoiceTypeSale, 1); err != nil {
		t.Fatalf("first sale: %v", err)
	}

	// Same number, type, and year: rejected.
	var dupErr *models.DuplicateInvoiceNumberError
	if _, err := newSale("001/26", d2026.AddDate(0, 1, 0), models.InvoiceTypeSale, 1); !errors.As(err, &dupErr) {
		t.Fatalf("expected DuplicateInvoiceNumberError; got %v", err)
	}

	// Same number, different type: allowed.
	if _, err := newSale("001/26", d2026, models.InvoiceTypeReturn, -1); err != nil {
		t.Fatalf("same number different type should be allowed: %v", err)
	}

	// Same number and type, different year: allowed.
	if _, err := newSale("001/26", d2026.AddDate(1, 0, 0), models.InvoiceTypeSale, 1); err != nil {
		t.Fatalf("same number next year should be allowed: %v", err)
	}

	// A trashed invoice still holds its number.
	held, err := newSale("002/26", d2026, models.InvoiceTypeSale, 1)
	if err != nil {
		t.Fatalf("create 002/26: %v", err)
	}
	if _, err := models.SoftDeleteInvoice(ctx, held.ID); err != nil {
		t.Fatalf("trash 002/26: %v", err)
	}
	if _, err := newSale("002/26", d2026, models.InvoiceTypeSale, 1); !errors.As(err, &dupErr) {
		t.Fatalf("trashed invoice must still hold its number; got %v", err)
	}

	// Permanent deletion frees it.
	if _, err := models.PermanentlyDeleteInvoice(ctx, held.ID); err != nil {
		t.Fatalf("permanently delete 002/26: %v", err)
	}
	if _, err := newSale("002/26", d2026, models.InvoiceTypeSale, 1); err != nil {
		t.Fatalf("number should be free after permanent delete: %v", err)
	}
}

func TestRecalculateProductStockFromInvoiceHistory(t *testing.T) {
	ctx := setupIntegration(t)
	logger := config.GetLogger()

	// initial 100, sold 10, written off 6, refunded 4 => 88.
	widget := mustCreateProduct(t, ctx, "Widget", "WGT-001", "100")

	date := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	mk := func(invoiceType models.InvoiceType, qty int64) *models.Invoice {
		inv, err := models.CreateInvoice(ctx, &models.NewInvoice{
			InvoiceType: invoiceType,
			InvoiceDate: date,
			Customer:    models.NewCustomer{Name: "Nilar"},
			Items: []models.NewInvoiceItem{
				{ProductId: widget.ID, Quantity: decimal.NewFromInt(qty)},
			},
		})
		if err != nil {
			t.Fatalf("CreateInvoice(%s %d): %v", invoiceType, qty, err)
		}
		return inv
	}
	mk(models.InvoiceTypeSale, 10)
	mk(models.InvoiceTypeGiftedDamaged, 6)
	mk(models.InvoiceTypeReturn, -4)

	// A trashed sale must not count.
	trashed := mk(models.InvoiceTypeSale, 7)
	if _, err := models.SoftDeleteInvoice(ctx, trashed.ID); err != nil {
		t.Fatalf("trash sale: %v", err)
	}

	// Corrupt the cached count to prove recalculation rebuilds it from
	// the invoice history, not from the current value.
	db := config.GetDB()
	if err := db.Model(&models.Product{}).Where("id = ?", widget.ID).
		Update("quantity", decimal.NewFromInt(999)).Error; err != nil {
		t.Fatalf("corrupt quantity: %v", err)
	}

	if err := workflow.RecalculateProductStock(ctx, logger, widget.ID); err != nil {
		t.Fatalf("RecalculateProductStock: %v", err)
	}

	var product models.Product
	if err := db.First(&product, widget.ID).Error; err != nil {
		t.Fatalf("reload product: %v", err)
	}
	if product.Quantity.Cmp(decimal.NewFromInt(88)) != 0 {
		t.Fatalf("recalculated quantity = %s; want 88", product.Quantity.String())
	}

	// The floor clamps at zero when history oversells the anchor.
	gadget := mustCreateProduct(t, ctx, "Gadget", "GGT-001", "5")
	if _, err := models.CreateInvoice(ctx, &models.NewInvoice{
		InvoiceType: models.InvoiceTypeSale,
		InvoiceDate: date,
		Customer:    models.NewCustomer{Name: "Nilar"},
		Items: []models.NewInvoiceItem{
			{ProductId: gadget.ID, Quantity: decimal.NewFromInt(5)},
		},
	}); err != nil {
		t.Fatalf("sell out gadget: %v", err)
	}
	// Shrink the anchor below what was sold.
	if err := db.Model(&models.Product{}).Where("id = ?", gadget.ID).
		Update("initial_stock", decimal.NewFromInt(2)).Error; err != nil {
		t.Fatalf("shrink anchor: %v", err)
	}
	if err := workflow.RecalculateProductStock(ctx, logger, gadget.ID); err != nil {
		t.Fatalf("RecalculateProductStock(gadget): %v", err)
	}
	if err := db.First(&product, gadget.ID).Error; err != nil {
		t.Fatalf("reload gadget: %v", err)
	}
	if !product.Quantity.IsZero() {
		t.Fatalf("recalculated quantity = %s; want 0 (clamped)", product.Quantity.String())
	}

	// Unknown product id is logged and skipped, not an error.
	if err := workflow.RecalculateProductStock(ctx, logger, 999999); err != nil {
		t.Fatalf("RecalculateProductStock(missing product): %v", err)
	}
}

// Recalculation is a full recompute from history: running it twice must
// produce the same quantity, including for rows that predate the
// initial_stock anchor.
func TestRecalculateProductStockIdempotent(t *testing.T) {
	ctx := setupIntegration(t)
	logger := config.GetLogger()
	db := config.GetDB()

	date := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	sell := func(productId int, invoiceType models.InvoiceType, qty int64) {
		t.Helper()
		if _, err := models.CreateInvoice(ctx, &models.NewInvoice{
			InvoiceType: invoiceType,
			InvoiceDate: date,
			Customer:    models.NewCustomer{Name: "Hla Hla"},
			Items: []models.NewInvoiceItem{
				{ProductId: productId, Quantity: decimal.NewFromInt(qty)},
			},
		}); err != nil {
			t.Fatalf("CreateInvoice(%s %d): %v", invoiceType, qty, err)
		}
	}
	recalcTwice := func(productId int, want string) {
		t.Helper()
		for run := 1; run <= 2; run++ {
			if err := workflow.RecalculateProductStock(ctx, logger, productId); err != nil {
				t.Fatalf("RecalculateProductStock(run %d): %v", run, err)
			}
			var product models.Product
			if err := db.First(&product, productId).Error; err != nil {
				t.Fatalf("reload product: %v", err)
			}
			wantDec, _ := decimal.NewFromString(want)
			if product.Quantity.Cmp(wantDec) != 0 {
				t.Fatalf("run %d: quantity = %s; want %s", run, product.Quantity.String(), want)
			}
		}
	}

	// Anchored product: 100 - 10 - 6 + 4 = 88 on every run.
	anchored := mustCreateProduct(t, ctx, "Anchored", "ANC-001", "100")
	sell(anchored.ID, models.InvoiceTypeSale, 10)
	sell(anchored.ID, models.InvoiceTypeGiftedDamaged, 6)
	sell(anchored.ID, models.InvoiceTypeReturn, -4)
	recalcTwice(anchored.ID, "88")

	// New products always persist an anchor, even a zero one.
	bare, err := models.CreateProduct(ctx, &models.NewProduct{Name: "Bare", Sku: "BRE-001"})
	if err != nil {
		t.Fatalf("CreateProduct(Bare): %v", err)
	}
	if bare.InitialStock == nil || !bare.InitialStock.IsZero() {
		t.Fatalf("new product initial_stock = %v; want zero", bare.InitialStock)
	}

	// Legacy row: anchor missing, a return already applied to on_hand.
	// The first run must derive and persist the anchor from on_hand so the
	// second run cannot compound its own output.
	sell(bare.ID, models.InvoiceTypeReturn, -4)
	if err := db.Model(&models.Product{}).Where("id = ?", bare.ID).
		Update("initial_stock", nil).Error; err != nil {
		t.Fatalf("simulate legacy row: %v", err)
	}
	recalcTwice(bare.ID, "4")

	var reloaded models.Product
	if err := db.First(&reloaded, bare.ID).Error; err != nil {
		t.Fatalf("reload legacy product: %v", err)
	}
	if reloaded.InitialStock == nil || !reloaded.InitialStock.IsZero() {
		t.Fatalf("legacy anchor not backfilled: %v", reloaded.InitialStock)
	}

	// Legacy row with sale history: quantity 50, 30 sold, anchor derives
	// to 50 and the reconciled count stays 20 run after run.
	legacy := mustCreateProduct(t, ctx, "Legacy", "LGC-001", "50")
	sell(legacy.ID, models.InvoiceTypeSale, 30)
	if err := db.Model(&models.Product{}).Where("id = ?", legacy.ID).
		Update("initial_stock", nil).Error; err != nil {
		t.Fatalf("simulate legacy row: %v", err)
	}
	recalcTwice(legacy.ID, "20")
}

func TestClearAllDataWipesEverything(t *testing.T) {
	ctx := setupIntegration(t)
	logger := config.GetLogger()
	db := config.GetDB()

	book := mustCreateProduct(t, ctx, "Book", "BOK-001", "10")
	if _, err := models.CreateInvoice(ctx, &models.NewInvoice{
		InvoiceType: models.InvoiceTypeSale,
		InvoiceDate: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Customer:    models.NewCustomer{Name: "Zaw Zaw"},
		Items: []models.NewInvoiceItem{
			{ProductId: book.ID, Quantity: decimal.NewFromInt(2)},
		},
	}); err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	if err := workflow.ClearAllData(ctx, logger); err != nil {
		t.Fatalf("ClearAllData: %v", err)
	}

	for _, model := range []interface{}{
		&models.Invoice{}, &models.InvoiceItem{}, &models.Product{}, &models.ActivityLog{},
	} {
		var count int64
		if err := db.Model(model).Count(&count).Error; err != nil {
			t.Fatalf("count %T: %v", model, err)
		}
		if count != 0 {
			t.Fatalf("%T: %d rows remain after ClearAllData", model, count)
		}
	}
}

// --- harness ---

func setupIntegration(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "stockbook_test")
	// Redis is optional; the models fall back to the database when the
	// cache is absent.
	t.Setenv("REDIS_ADDRESS", "")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	ctx := context.Background()
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserEmailInContext(ctx, "test@local")
	ctx = utils.SetUserNameInContext(ctx, "Test")
	return ctx
}

func mustCreateProduct(t *testing.T, ctx context.Context, name, sku, initialStock string) *models.Product {
	t.Helper()
	qty, err := decimal.NewFromString(initialStock)
	if err != nil {
		t.Fatalf("bad initial stock %q: %v", initialStock, err)
	}
	product, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:         name,
		Sku:          sku,
		Price:        decimal.NewFromInt(1000),
		InitialStock: &qty,
	})
	if err != nil {
		t.Fatalf("CreateProduct(%s): %v", name, err)
	}
	return product
}

func assertOnHand(t *testing.T, ctx context.Context, productId int, want string) {
	t.Helper()
	db := config.GetDB()
	var product models.Product
	if err := db.WithContext(ctx).First(&product, productId).Error; err != nil {
		t.Fatalf("load product %d: %v", productId, err)
	}
	wantDec, err := decimal.NewFromString(want)
	if err != nil {
		t.Fatalf("bad want %q: %v", want, err)
	}
	if product.OnHand.Cmp(wantDec) != 0 {
		t.Fatalf("product %d on_hand = %s; want %s", productId, product.OnHand.String(), want)
	}
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("stockbook-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=stockbook_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
