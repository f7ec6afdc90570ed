package gormstore

import (
	"time"

	"github.com/BaSui01/agentchorus/types"
)

// turnRecord 对应 messages 表
type turnRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Role      string    `gorm:"size:16;not null"`
	Content   string    `gorm:"type:text;not null"`
	Provider  string    `gorm:"size:128;not null;default:''"`
	CreatedAt time.Time `gorm:"not null;index:idx_messages_created_at"`
}

func (turnRecord) TableName() string { return "messages" }

func (r turnRecord) toTurn() types.Turn {
	return types.Turn{
		ID:        r.ID,
		Role:      types.Role(r.Role),
		Content:   r.Content,
		Provider:  r.Provider,
		Timestamp: r.CreatedAt,
	}
}

// documentRecord 对应 documents 表
type documentRecord struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	Filename     string    `gorm:"size:255;not null"`
	OriginalName string    `gorm:"size:255;not null"`
	Content      string    `gorm:"type:text;not null;default:''"`
	FileType     string    `gorm:"size:32;not null;default:''"`
	MimeType     string    `gorm:"size:128;not null;default:''"`
	FileSize     int64     `gorm:"not null;default:0"`
	CreatedAt    time.Time `gorm:"not null;index:idx_documents_created_at"`
}

func (documentRecord) TableName() string { return "documents" }

func (r documentRecord) toDocument() types.Document {
	return types.Document{
		ID:           r.ID,
		Filename:     r.Filename,
		OriginalName: r.OriginalName,
		Content:      r.Content,
		FileType:     r.FileType,
		MimeType:     r.MimeType,
		FileSize:     r.FileSize,
		CreatedAt:    r.CreatedAt,
	}
}

// projectRecord 对应 projects 表
type projectRecord struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	Name         string    `gorm:"size:255;not null"`
	Description  string    `gorm:"type:text;not null;default:''"`
	Requirements string    `gorm:"type:text;not null;default:''"`
	Status       string    `gorm:"size:32;not null;default:'active'"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (projectRecord) TableName() string { return "projects" }

func (r projectRecord) toProject() types.Project {
	return types.Project{
		ID:           r.ID,
		Name:         r.Name,
		Description:  r.Description,
		Requirements: r.Requirements,
		Status:       r.Status,
		CreatedAt:    r.CreatedAt,
	}
}
