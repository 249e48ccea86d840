package utils

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquirePostingLock serializes stock-affecting transitions across instances
// using a MySQL advisory lock. Product on_hand is read-modify-write, so two
// concurrent transitions touching the same product must not interleave.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same
// *gorm.DB transaction that will do the posting.
func AcquirePostingLock(tx *gorm.DB) error {
	var ok int
	if err := tx.Raw("SELECT GET_LOCK('stock_posting', 30)").Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire stock posting lock")
	}
	return nil
}

func ReleasePostingLock(tx *gorm.DB) {
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK('stock_posting')").Scan(&_ok).Error
}
