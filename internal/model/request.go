package model

import (
	"time"
)

// DefaultStatus is assigned to every request when it is created.
const DefaultStatus = "заявка отправлена"

// Request represents a tracked field-service request in the database.
// RequestNumber and PositionNumber together form the unique key.
type Request struct {
	ID              uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	RequestNumber   string    `json:"request_number" gorm:"type:varchar(64);not null;uniqueIndex:idx_requests_number_position,priority:1"`
	PositionNumber  string    `json:"position_number" gorm:"type:varchar(64);not null;uniqueIndex:idx_requests_number_position,priority:2"`
	Comment         *string   `json:"comment" gorm:"type:text"`
	CommentAuthor   *string   `json:"comment_author" gorm:"type:varchar(255)"`
	Status          string    `json:"status" gorm:"type:varchar(128);not null"`
	CreatedAt       time.Time `json:"created_at" gorm:"not null;<-:create"`
	StatusUpdatedAt time.Time `json:"status_updated_at" gorm:"not null;index:idx_requests_status_updated_at"`
}

// TableName specifies the table name for Request
func (Request) TableName() string {
	return "requests"
}
