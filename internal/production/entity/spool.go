package entity

import (
	"time"
)

// SpoolState 卷料状态
const (
	SpoolStateAvailable = "AVAILABLE"
	SpoolStateInUse     = "IN_USE"
	SpoolStateExhausted = "EXHAUSTED"
)

// SpoolKind matches the slot type that can hold the spool.
const (
	SpoolKindRoll       = "ROLL"
	SpoolKindConsumable = "CONSUMABLE"
)

// CandidateSpoolStates are the states eligible for FIFO allocation.
var CandidateSpoolStates = []string{SpoolStateAvailable, SpoolStateInUse}

// Spool 卷料 ("bobina")
type Spool struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	LabelCode    string    `json:"label_code" gorm:"size:64;not null;uniqueIndex"`
	MaterialID   string    `json:"material_id" gorm:"size:36;index"`
	Material     string    `json:"material" gorm:"size:128;not null"`
	MaterialKey  string    `json:"material_key" gorm:"size:128;not null;index"`
	AreaID       string    `json:"area_id" gorm:"size:36;index"`
	Kind         string    `json:"kind" gorm:"size:20;not null;default:ROLL"`
	InitialQty   float64   `json:"initial_qty" gorm:"type:decimal(12,4);not null"`
	RemainingQty float64   `json:"remaining_qty" gorm:"type:decimal(12,4);not null"`
	Unit         string    `json:"unit" gorm:"size:20;not null;default:m"`
	State        string    `json:"state" gorm:"size:20;not null;default:AVAILABLE;index"`
	IngressAt    time.Time `json:"ingress_at" gorm:"not null;index"`
	SlotID       *string   `json:"slot_id" gorm:"size:36"`
	CreatedBy    string    `json:"created_by" gorm:"size:64;not null"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Spool) TableName() string {
	return "prod_spools"
}
