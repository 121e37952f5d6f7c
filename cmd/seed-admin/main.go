// seed-admin creates or updates the bootstrap admin user, creating a first
// organization when the database is empty.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-admin
package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/assets_backend/config"
	"bitbucket.org/mmdatafocus/assets_backend/models"
	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	adminUsername = "assetdeskadmin"
	adminName     = "AssetDesk Admin"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	adminPassword := os.Getenv("SEED_ADMIN_PASSWORD")
	if adminPassword == "" {
		fmt.Fprintln(os.Stderr, "SEED_ADMIN_PASSWORD is required")
		os.Exit(1)
	}

	models.MigrateTable()

	var org models.Organization
	err := db.WithContext(ctx).Model(&models.Organization{}).First(&org).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup organization: %v\n", err)
			os.Exit(1)
		}
		org = models.Organization{
			ID:       uuid.New(),
			Name:     "AssetDesk",
			Timezone: "UTC",
			Locale:   "en-US",
			IsActive: utils.NewTrue(),
		}
		if err := db.WithContext(ctx).Create(&org).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create organization: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created organization %q (id=%s)\n", org.Name, org.ID)
	}

	organizationID := org.ID.String()
	ctx = utils.SetOrganizationIdInContext(ctx, organizationID)
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Seed")
	ctx = utils.SetUsernameInContext(ctx, adminUsername)
	ctx = utils.SetIsAdminInContext(ctx, true)
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)

	hashed, err := utils.HashPassword(adminPassword)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}
	hashedStr := string(hashed)

	var existing models.User
	err = db.WithContext(ctx).Model(&models.User{}).Where("username = ?", adminUsername).First(&existing).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
			os.Exit(1)
		}
		u := models.User{
			Username:       adminUsername,
			Name:           adminName,
			Password:       hashedStr,
			IsActive:       utils.NewTrue(),
			Role:           models.UserRoleAdmin,
			OrganizationId: organizationID,
		}
		if err := db.WithContext(ctx).Create(&u).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin user: username=%q\n", adminUsername)
		return
	}

	// Update existing user: ensure password and admin role
	if err := db.WithContext(ctx).Model(&models.User{}).Where("username = ?", adminUsername).Updates(map[string]any{
		"password":        hashedStr,
		"name":            adminName,
		"is_active":       utils.NewTrue(),
		"organization_id": organizationID,
		"role":            models.UserRoleAdmin,
	}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin user: %v\n", err)
		os.Exit(1)
	}
	_ = existing.RemoveInstanceRedis()
	fmt.Printf("Updated admin user: username=%q\n", adminUsername)
}
