package models

import (
	"log"

	"bitbucket.org/mmdatafocus/stockbook_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Product{},
		&Invoice{}, &InvoiceItem{},
		&ActivityLog{}, &ActivityEventRecord{},
		&User{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
