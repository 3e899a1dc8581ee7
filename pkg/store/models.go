package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type SpaceModel struct {
	ID                string `gorm:"primaryKey"`
	Name              string `gorm:"not null"`
	Description       string
	OwnerID           string         `gorm:"column:admin_id;not null"`
	OwnerEmail        string         `gorm:"column:admin_email;not null;index"`
	CreatedAt         time.Time      `gorm:"not null"`
	MemberEmailsCache datatypes.JSON `gorm:"type:jsonb"`
}

func (SpaceModel) TableName() string { return "spaces" }

type SpaceMemberModel struct {
	ID          string    `gorm:"primaryKey"`
	SpaceID     string    `gorm:"not null;index;uniqueIndex:idx_space_member"`
	MemberEmail string    `gorm:"not null;index;uniqueIndex:idx_space_member"`
	Role        string    `gorm:"not null;default:MEMBER;index"`
	AddedAt     time.Time `gorm:"not null"`
}

func (SpaceMemberModel) TableName() string { return "space_members" }

type SpaceFileModel struct {
	ID               string `gorm:"primaryKey"`
	SpaceID          string `gorm:"not null;index"`
	OriginalFilename string `gorm:"not null"`
	StoragePath      string `gorm:"not null"`
	ContentType      string
	Size             int64     `gorm:"not null"`
	UploaderID       string    `gorm:"not null"`
	UploaderEmail    string    `gorm:"not null;index"`
	UploadedAt       time.Time `gorm:"not null;index"`
}

func (SpaceFileModel) TableName() string { return "space_files" }

type ActivityModel struct {
	ID        string `gorm:"primaryKey"`
	SpaceID   string `gorm:"not null;index"`
	UserEmail string `gorm:"not null"`
	Action    string `gorm:"not null"`
	Details   string
	Timestamp time.Time `gorm:"not null;index"`
}

func (ActivityModel) TableName() string { return "activity" }
