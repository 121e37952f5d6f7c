package utils

import (
	"gorm.io/gorm"
)

// ResourceCountWhere counts rows of T scoped to the organization plus an
// extra condition.
func ResourceCountWhere[T any](db *gorm.DB, organizationId string, cond string, values ...interface{}) (int64, error) {
	var model T
	var count int64
	err := db.Model(&model).
		Where("organization_id = ?", organizationId).
		Where(cond, values...).
		Count(&count).Error
	return count, err
}

// ValidateResourceId checks that an id exists inside the organization.
// Returns ErrorRecordNotFound on a miss.
func ValidateResourceId[T any](db *gorm.DB, organizationId string, id interface{}) error {
	count, err := ResourceCountWhere[T](db, organizationId, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}
	return nil
}

// FetchModel loads one row of T by id inside the organization.
func FetchModel[T any](db *gorm.DB, organizationId string, id interface{}) (*T, error) {
	var result T
	err := db.Where("organization_id = ? AND id = ?", organizationId, id).First(&result).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrorRecordNotFound
		}
		return nil, err
	}
	return &result, nil
}
