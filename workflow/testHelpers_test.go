package workflow_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"bitbucket.org/mmdatafocus/assets_backend/config"
	"bitbucket.org/mmdatafocus/assets_backend/models"
	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// newTestDB opens a throwaway in-memory database, migrates the schema and
// points the package-level handle at it so the model helpers resolve too.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Use(config.NewTenantGuardPlugin()); err != nil {
		t.Fatalf("install tenant guard: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql db: %v", err)
	}
	// One connection serializes writers. Shared-cache sqlite otherwise
	// answers overlapping transactions with lock errors.
	sqlDB.SetMaxOpenConns(1)
	if err := models.MigrateTablesOn(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	config.SetDB(db)
	t.Cleanup(func() { config.SetDB(nil) })
	return db
}

func seedOrganization(t *testing.T, db *gorm.DB) *models.Organization {
	t.Helper()
	org := models.Organization{
		ID:       uuid.New(),
		Name:     "Test Org",
		Timezone: "UTC",
		Locale:   "en-US",
		IsActive: utils.NewTrue(),
	}
	if err := db.Create(&org).Error; err != nil {
		t.Fatalf("seed organization: %v", err)
	}
	return &org
}

func seedUser(t *testing.T, db *gorm.DB, organizationId string, username, name, email string) *models.User {
	t.Helper()
	user := models.User{
		OrganizationId: organizationId,
		Username:       username,
		Name:           name,
		Email:          email,
		Password:       "x",
		Role:           models.UserRoleMember,
		IsActive:       utils.NewTrue(),
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user %q: %v", username, err)
	}
	return &user
}

func seedAsset(t *testing.T, db *gorm.DB, organizationId string, title string, value string) *models.Asset {
	t.Helper()
	asset := models.Asset{
		OrganizationId: organizationId,
		Title:          title,
		Value:          decimal.RequireFromString(value),
		QrId:           uuid.NewString(),
	}
	if err := db.Create(&asset).Error; err != nil {
		t.Fatalf("seed asset %q: %v", title, err)
	}
	return &asset
}

func testCtx(organizationId string, user *models.User) context.Context {
	ctx := utils.SetOrganizationIdInContext(context.Background(), organizationId)
	ctx = utils.SetUserIdInContext(ctx, user.ID)
	ctx = utils.SetUserNameInContext(ctx, user.Name)
	ctx = utils.SetUsernameInContext(ctx, user.Username)
	return ctx
}

type sentMail struct {
	To      []string
	Subject string
	Text    string
	HTML    string
}

// fakeMailer records sends; SendErr makes every send fail.
type fakeMailer struct {
	mu      sync.Mutex
	Sent    []sentMail
	SendErr error
}

func (m *fakeMailer) Send(to []string, subject, text, html string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.Sent = append(m.Sent, sentMail{To: to, Subject: subject, Text: text, HTML: html})
	return nil
}

func (m *fakeMailer) sent() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentMail, len(m.Sent))
	copy(out, m.Sent)
	return out
}
