package entity

import (
	"time"
)

// BatchStatus 批次(卷)状态
const (
	BatchStatusStaged  = "STAGED"
	BatchStatusRunning = "RUNNING"
	BatchStatusPaused  = "PAUSED"
	BatchStatusClosed  = "CLOSED"
)

// OpenBatchStatuses are the statuses magic sort scans for conflicts.
var OpenBatchStatuses = []string{BatchStatusStaged, BatchStatusRunning, BatchStatusPaused}

// Finish destinations
const (
	DestinationProduction = "PRODUCTION"
	DestinationQuality    = "QUALITY"
)

// Batch 生产批次 ("rollo"/"lote")
type Batch struct {
	ID              string     `json:"id" gorm:"primaryKey;size:36"`
	Code            string     `json:"code" gorm:"size:50;not null;uniqueIndex"`
	Name            string     `json:"name" gorm:"size:128"`
	Material        string     `json:"material" gorm:"size:128"`
	Variant         string     `json:"variant" gorm:"size:128"`
	MaterialKey     string     `json:"material_key" gorm:"size:128;index"`
	AreaID          string     `json:"area_id" gorm:"size:36;index"`
	Usage           float64    `json:"usage" gorm:"type:decimal(12,4);not null;default:0"`
	Capacity        float64    `json:"capacity" gorm:"type:decimal(12,4);not null;default:0"`
	PlannedQty      float64    `json:"planned_qty" gorm:"type:decimal(12,4);not null;default:0"`
	Status          string     `json:"status" gorm:"size:20;not null;default:STAGED;index"`
	MachineID       *string    `json:"machine_id" gorm:"size:36;index"`
	SpoolID         *string    `json:"spool_id" gorm:"size:36;index"`
	LastDestination string     `json:"last_destination" gorm:"size:20"`
	StartedAt       *time.Time `json:"started_at"`
	ClosedAt        *time.Time `json:"closed_at"`
	CreatedBy       string     `json:"created_by" gorm:"size:64;not null"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	Orders       []Order `json:"orders,omitempty" gorm:"foreignKey:BatchID"`
	Spool        *Spool  `json:"spool,omitempty" gorm:"foreignKey:SpoolID"`
	OverCapacity bool    `json:"over_capacity" gorm:"-"`
}

func (Batch) TableName() string {
	return "prod_batches"
}

// Open reports whether the batch still accepts work.
func (b *Batch) Open() bool {
	return b.Status != BatchStatusClosed
}

// ComputeFlags refreshes the non-persisted capacity flag.
func (b *Batch) ComputeFlags() {
	load := b.Usage
	if b.PlannedQty > load {
		load = b.PlannedQty
	}
	b.OverCapacity = b.Capacity > 0 && load > b.Capacity
}
