package models

import (
	"gorm.io/gorm"
)

// TxNoteStore adapts a gorm transaction handle to the NoteStore surface the
// note helpers need. Lookups are tenant scoped.
type TxNoteStore struct {
	Tx             *gorm.DB
	OrganizationId string
}

func (s TxNoteStore) FindUserName(userId int) (string, bool) {
	var user User
	err := s.Tx.
		Select("id", "name").
		Where("organization_id = ? AND id = ?", s.OrganizationId, userId).
		First(&user).Error
	if err != nil {
		return "", false
	}
	return user.Name, true
}

func (s TxNoteStore) FindAssetTitle(assetId int) (string, bool) {
	var asset Asset
	err := s.Tx.
		Select("id", "title").
		Where("organization_id = ? AND id = ?", s.OrganizationId, assetId).
		First(&asset).Error
	if err != nil {
		return "", false
	}
	return asset.Title, true
}

func (s TxNoteStore) CreateNote(note *AuditNote) error {
	return s.Tx.Create(note).Error
}
