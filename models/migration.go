package models

import (
	"log"

	"bitbucket.org/mmdatafocus/assets_backend/config"
	"gorm.io/gorm"
)

func MigrateTable() {
	db := config.GetDB()
	if err := MigrateTablesOn(db); err != nil {
		log.Fatal(err)
	}
}

// MigrateTablesOn runs AutoMigrate against an explicit DB handle so tests
// can migrate an in-memory database.
func MigrateTablesOn(db *gorm.DB) error {
	return db.AutoMigrate(
		&Organization{}, &User{}, &Asset{},
		&AuditSession{}, &AuditAsset{}, &AuditScan{}, &AuditAssignment{},
		&AuditImage{}, &AuditNote{},
		&AuditReminderJob{}, &AuditEventRecord{},
	)
}
