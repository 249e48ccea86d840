package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
)

// InvoiceType drives the stock effect of an invoice line.
//
// The canonical set is sale / return / gifted-damaged. The remaining values
// exist in data migrated from the legacy system and are accepted on read and
// reversal paths so old invoices can still be trashed and reconciled, but new
// invoices must use the canonical set.
type InvoiceType string

const (
	InvoiceTypeSale          InvoiceType = "sale"
	InvoiceTypeReturn        InvoiceType = "return"
	InvoiceTypeGiftedDamaged InvoiceType = "gifted-damaged"

	// Legacy variants (migration data only).
	InvoiceTypeCash       InvoiceType = "cash"
	InvoiceTypeOnlineSale InvoiceType = "online-sale"
	InvoiceTypeWriteOff   InvoiceType = "writeoff"
	InvoiceTypeRefund     InvoiceType = "refund"
)

func (t InvoiceType) IsCanonical() bool {
	switch t {
	case InvoiceTypeSale, InvoiceTypeReturn, InvoiceTypeGiftedDamaged:
		return true
	}
	return false
}

func (t InvoiceType) IsKnown() bool {
	switch t {
	case InvoiceTypeSale, InvoiceTypeReturn, InvoiceTypeGiftedDamaged,
		InvoiceTypeCash, InvoiceTypeOnlineSale, InvoiceTypeWriteOff, InvoiceTypeRefund:
		return true
	}
	return false
}

// DecrementsStock reports whether applying an invoice of this type consumes
// stock, which makes it subject to the negative-stock floor. Return-type
// invoices only ever increase stock and are exempt.
func (t InvoiceType) DecrementsStock() bool {
	switch t {
	case InvoiceTypeReturn, InvoiceTypeRefund:
		return false
	}
	return true
}

func (t *InvoiceType) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		*t = InvoiceType(v)
	case string:
		*t = InvoiceType(v)
	default:
		return fmt.Errorf("cannot scan %T into InvoiceType", value)
	}
	return nil
}

func (t InvoiceType) Value() (driver.Value, error) {
	if !t.IsKnown() {
		return nil, errors.New("invalid invoice type: " + string(t))
	}
	return string(t), nil
}

// StockBucket is the reconciliation accumulator an invoice line lands in.
type StockBucket string

const (
	StockBucketSold       StockBucket = "sold"
	StockBucketWrittenOff StockBucket = "written-off"
	StockBucketRefunded   StockBucket = "refunded"
)

func BucketForInvoiceType(t InvoiceType) (StockBucket, error) {
	switch t {
	case InvoiceTypeSale, InvoiceTypeCash, InvoiceTypeOnlineSale:
		return StockBucketSold, nil
	case InvoiceTypeGiftedDamaged, InvoiceTypeWriteOff:
		return StockBucketWrittenOff, nil
	case InvoiceTypeReturn, InvoiceTypeRefund:
		return StockBucketRefunded, nil
	}
	return "", errors.New("invalid invoice type: " + string(t))
}

type ActivityAction string

const (
	ActivityActionCreate          ActivityAction = "create"
	ActivityActionUpdate          ActivityAction = "update"
	ActivityActionTrash           ActivityAction = "trash"
	ActivityActionRestore         ActivityAction = "restore"
	ActivityActionPermanentDelete ActivityAction = "permanent-delete"
	ActivityActionRecalculate     ActivityAction = "recalculate"
)

// Outbox publish lifecycle for activity events.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)
