package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/config"
	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"github.com/google/uuid"
)

type Organization struct {
	ID          uuid.UUID `gorm:"primary_key" json:"id"`
	Name        string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	ContactName string    `gorm:"size:100" json:"contact_name"`
	Email       string    `gorm:"size:255" json:"email"`
	Phone       string    `gorm:"size:20" json:"phone"`
	Address     string    `gorm:"type:text" json:"address"`
	Timezone    string    `gorm:"size:50" json:"timezone"`
	Locale      string    `gorm:"size:16" json:"locale"`
	Currency    string    `gorm:"size:8;default:USD" json:"currency"`
	OwnerUserId int       `gorm:"index" json:"owner_user_id"`
	IsActive    *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewOrganization struct {
	Name        string `json:"name" binding:"required"`
	ContactName string `json:"contact_name"`
	Email       string `json:"email" binding:"required"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
	Timezone    string `json:"timezone"`
	Locale      string `json:"locale"`
	Currency    string `json:"currency"`
}

func CreateOrganization(ctx context.Context, input *NewOrganization) (*Organization, error) {

	db := config.GetDB()

	if !utils.IsValidEmail(input.Email) {
		return nil, utils.ValidationError("invalid email", map[string]any{"email": input.Email})
	}
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return nil, utils.ValidationError("invalid phone number", map[string]any{"phone": input.Phone})
		}
	}

	organization := Organization{
		ID:          uuid.New(),
		Name:        input.Name,
		ContactName: input.ContactName,
		Email:       input.Email,
		Phone:       input.Phone,
		Address:     input.Address,
		Timezone:    input.Timezone,
		Locale:      input.Locale,
		Currency:    input.Currency,
	}
	if organization.Currency == "" {
		organization.Currency = "USD"
	}

	if err := db.WithContext(ctx).Create(&organization).Error; err != nil {
		return nil, utils.WrapError(err, "unable to create organization", nil)
	}
	return &organization, nil
}

func GetOrganization(ctx context.Context, id string) (*Organization, error) {

	db := config.GetDB()
	var organization Organization
	err := db.WithContext(ctx).Where("id = ?", id).First(&organization).Error
	if err != nil {
		return nil, utils.NotFoundError("organization not found", map[string]any{"organization_id": id})
	}
	return &organization, nil
}
