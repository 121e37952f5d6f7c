package models

import (
	"context"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/config"
	"bitbucket.org/mmdatafocus/assets_backend/utils"
)

const (
	UserRoleAdmin  = "admin"
	UserRoleMember = "member"
)

type User struct {
	ID             int       `gorm:"primary_key" json:"id"`
	OrganizationId string    `gorm:"index" json:"organization_id"`
	Username       string    `gorm:"size:100;not null;unique" json:"username" binding:"required"`
	Name           string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Email          string    `gorm:"size:255;not null" json:"email" binding:"required"`
	Password       string    `gorm:"size:255;not null" json:"-"`
	Role           string    `gorm:"size:20;default:member" json:"role"`
	IsActive       *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Username string `json:"username" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role"`
}

/*
caches:
	User:$username
*/

func (user User) RemoveInstanceRedis() error {
	return config.RemoveRedisKey("User:" + user.Username)
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {

	db := config.GetDB()
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, utils.ValidationError("organization id is required", nil)
	}

	if !utils.IsValidEmail(input.Email) {
		return nil, utils.ValidationError("invalid email", map[string]any{"email": input.Email})
	}

	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, utils.WrapError(err, "unable to hash password", nil)
	}

	user := User{
		OrganizationId: organizationId,
		Username:       strings.ToLower(strings.TrimSpace(input.Username)),
		Name:           input.Name,
		Email:          strings.ToLower(strings.TrimSpace(input.Email)),
		Password:       string(hashed),
		Role:           input.Role,
	}
	if user.Role == "" {
		user.Role = UserRoleMember
	}

	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, utils.WrapError(err, "unable to create user", map[string]any{"username": user.Username})
	}
	return &user, nil
}

func GetUser(ctx context.Context, id int) (*User, error) {

	db := config.GetDB()
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, utils.ValidationError("organization id is required", nil)
	}
	user, err := utils.FetchModel[User](db.WithContext(ctx), organizationId, id)
	if err != nil {
		return nil, utils.NotFoundError("user not found", map[string]any{"user_id": id})
	}
	return user, nil
}

func GetUserByUsername(ctx context.Context, username string) (*User, error) {

	db := config.GetDB()
	username = strings.ToLower(strings.TrimSpace(username))

	var user User
	key := "User:" + username
	if exists, err := config.GetRedisObject(key, &user); err == nil && exists {
		return &user, nil
	}

	err := db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil {
		return nil, utils.NotFoundError("user not found", map[string]any{"username": username})
	}
	_ = config.SetRedisObject(key, user, 15*time.Minute)
	return &user, nil
}

func GetUsersByIds(ctx context.Context, organizationId string, ids []int) ([]*User, error) {

	db := config.GetDB()
	var users []*User
	if len(ids) == 0 {
		return users, nil
	}
	err := db.WithContext(ctx).
		Where("organization_id = ? AND id IN ?", organizationId, ids).
		Find(&users).Error
	if err != nil {
		return nil, utils.WrapError(err, "unable to load users", nil)
	}
	return users, nil
}
