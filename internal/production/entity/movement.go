package entity

import (
	"time"
)

// MovementType 卷料流水类型
const (
	MovementIngress    = "INGRESS"
	MovementMount      = "MOUNT"
	MovementUnmount    = "UNMOUNT"
	MovementRefill     = "REFILL"
	MovementConsume    = "CONSUME"
	MovementCorrection = "CORRECTION"
	MovementWaste      = "WASTE"
)

// Movement 卷料数量变动流水，只追加不修改
type Movement struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	SpoolID   string    `json:"spool_id" gorm:"size:36;not null;index"`
	SlotID    *string   `json:"slot_id" gorm:"size:36"`
	MachineID *string   `json:"machine_id" gorm:"size:36"`
	BatchID   *string   `json:"batch_id" gorm:"size:36"`
	Type      string    `json:"type" gorm:"size:20;not null;index"`
	Delta     float64   `json:"delta" gorm:"type:decimal(12,4);not null;default:0"` // 正=增加，负=减少
	BeforeQty float64   `json:"before_qty" gorm:"type:decimal(12,4);not null"`
	AfterQty  float64   `json:"after_qty" gorm:"type:decimal(12,4);not null"`
	Reason    string    `json:"reason" gorm:"type:text"`
	Actor     string    `json:"actor" gorm:"size:64;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

func (Movement) TableName() string {
	return "prod_spool_movements"
}
