package model

import "gorm.io/datatypes"

const (
	DocumentProcessing = "processing"
	DocumentReady      = "ready"
	DocumentFailed     = "failed"
)

// swagger:model Document
type Document struct {
	BaseModel
	AssessmentID uint   `gorm:"index;not null" json:"assessmentId"`
	OwnerID      uint   `gorm:"index;not null" json:"ownerId"`
	FileName     string `gorm:"size:255;not null" json:"fileName"`
	MimeType     string `gorm:"size:100" json:"mimeType"`
	Size         int64  `json:"size"`
	StorageKey   string `gorm:"size:255" json:"-"`
	URL          string `gorm:"size:500" json:"url"`
	Status       string `gorm:"size:20;default:'processing'" json:"status"`
	ChunkCount   int    `gorm:"default:0" json:"chunkCount"`
	Error        string `gorm:"type:text" json:"error,omitempty"`
}

func (Document) TableName() string {
	return "documents"
}

// DocumentChunk 文档分块及其向量，仅用于出题上下文检索
type DocumentChunk struct {
	BaseModel
	DocumentID   uint           `gorm:"index;not null" json:"documentId"`
	AssessmentID uint           `gorm:"index;not null" json:"assessmentId"`
	Seq          int            `gorm:"not null" json:"seq"`
	Content      string         `gorm:"type:text;not null" json:"content"`
	Embedding    datatypes.JSON `json:"-"`
}

func (DocumentChunk) TableName() string {
	return "document_chunks"
}
