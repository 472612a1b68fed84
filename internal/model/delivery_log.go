package model

import (
	"time"

	"gorm.io/gorm"
)

// DeliveryLog is an audit row for one channel attempt on one record
type DeliveryLog struct {
	ID        uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	RunID     string         `json:"run_id" gorm:"type:varchar(64);index"`
	RecordID  string         `json:"record_id" gorm:"type:varchar(255);not null;index"`
	Channel   string         `json:"channel" gorm:"type:varchar(32);not null"`
	Status    string         `json:"status" gorm:"type:varchar(50);not null"` // delivered, failed
	Reference string         `json:"reference" gorm:"type:varchar(255)"`
	Attempts  int            `json:"attempts"`
	ErrorMsg  string         `json:"error_msg" gorm:"type:text"`
	CreatedAt time.Time      `json:"created_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName specifies the table name for DeliveryLog
func (DeliveryLog) TableName() string {
	return "delivery_logs"
}
