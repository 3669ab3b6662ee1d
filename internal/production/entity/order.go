package entity

import (
	"time"
)

// OrderStatus 订单状态
const (
	OrderStatusPending   = "PENDING"
	OrderStatusInBatch   = "IN_BATCH"
	OrderStatusInMachine = "IN_MACHINE"
	OrderStatusQuality   = "QUALITY" // handed to quality review
	OrderStatusDone      = "DONE"
	OrderStatusCanceled  = "CANCELED"
)

// Order a unit of work produced by the order-intake collaborator.
type Order struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36"`
	Code          string    `json:"code" gorm:"size:50;not null;uniqueIndex"`
	Material      string    `json:"material" gorm:"size:128"`
	Variant       string    `json:"variant" gorm:"size:128"`
	AreaID        string    `json:"area_id" gorm:"size:36;index"`
	Quantity      float64   `json:"quantity" gorm:"type:decimal(12,4);not null;default:0"`
	Unit          string    `json:"unit" gorm:"size:20;not null;default:m"`
	Status        string    `json:"status" gorm:"size:20;not null;default:PENDING;index"`
	Priority      int       `json:"priority" gorm:"default:0"` // higher is more urgent
	BatchID       *string   `json:"batch_id" gorm:"size:36;index"`
	BatchPosition int       `json:"batch_position" gorm:"default:0"`
	Notes         string    `json:"notes" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (Order) TableName() string {
	return "prod_orders"
}

// Finished reports whether the order no longer needs the batch it sits in.
func (o *Order) Finished() bool {
	switch o.Status {
	case OrderStatusDone, OrderStatusQuality, OrderStatusCanceled:
		return true
	}
	return false
}
