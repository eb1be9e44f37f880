package repository

import (
	"assessment_backend/internal/model"

	"gorm.io/gorm"
)

type DocumentRepository struct {
	DB *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{DB: db}
}

func (r *DocumentRepository) Create(doc *model.Document) error {
	return r.DB.Create(doc).Error
}

func (r *DocumentRepository) Update(doc *model.Document) error {
	return r.DB.Save(doc).Error
}

func (r *DocumentRepository) FindByID(id uint) (*model.Document, error) {
	var d model.Document
	if err := r.DB.First(&d, id).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DocumentRepository) ListByAssessment(assessmentID uint) ([]model.Document, error) {
	var docs []model.Document
	err := r.DB.Where("assessment_id = ?", assessmentID).Order("id ASC").Find(&docs).Error
	return docs, err
}

// ReplaceChunks 重新入库时先删除旧分块
func (r *DocumentRepository) ReplaceChunks(documentID uint, chunks []model.DocumentChunk) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("document_id = ?", documentID).Delete(&model.DocumentChunk{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return tx.CreateInBatches(&chunks, 100).Error
	})
}

func (r *DocumentRepository) ListChunks(assessmentID uint) ([]model.DocumentChunk, error) {
	var chunks []model.DocumentChunk
	err := r.DB.Where("assessment_id = ?", assessmentID).Order("document_id ASC, seq ASC").Find(&chunks).Error
	return chunks, err
}

func (r *DocumentRepository) Delete(doc *model.Document) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("document_id = ?", doc.ID).Delete(&model.DocumentChunk{}).Error; err != nil {
			return err
		}
		return tx.Delete(doc).Error
	})
}
