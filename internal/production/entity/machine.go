package entity

import (
	"time"
)

// MachineStatus 设备状态
const (
	MachineStatusActive   = "ACTIVE"
	MachineStatusInactive = "INACTIVE"
)

// SlotType 槽位类型
const (
	SlotTypeSpool      = "SPOOL"
	SlotTypeConsumable = "CONSUMABLE"
)

// Machine 设备（打印机/压烫机）
type Machine struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Code      string    `json:"code" gorm:"size:50;not null;uniqueIndex"`
	Name      string    `json:"name" gorm:"size:100;not null"`
	AreaID    string    `json:"area_id" gorm:"size:36;index"`
	Status    string    `json:"status" gorm:"size:20;not null;default:ACTIVE"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Slots []Slot `json:"slots,omitempty" gorm:"foreignKey:MachineID"`
}

func (Machine) TableName() string {
	return "prod_machines"
}

// Slot 设备挂载位，同一时间最多挂一卷
type Slot struct {
	ID        string     `json:"id" gorm:"primaryKey;size:36"`
	MachineID string     `json:"machine_id" gorm:"size:36;not null;index"`
	Name      string     `json:"name" gorm:"size:100;not null"`
	Type      string     `json:"type" gorm:"size:20;not null;default:SPOOL"`
	SpoolID   *string    `json:"spool_id" gorm:"size:36;uniqueIndex"`
	MountedAt *time.Time `json:"mounted_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	Spool *Spool `json:"mounted_spool,omitempty" gorm:"foreignKey:SpoolID"`
}

func (Slot) TableName() string {
	return "prod_machine_slots"
}

// SpoolKindFor 槽位类型对应的卷料类型
func SpoolKindFor(slotType string) string {
	if slotType == SlotTypeConsumable {
		return SpoolKindConsumable
	}
	return SpoolKindRoll
}

// AcceptsKind reports whether a spool of the given kind fits the slot.
func (s *Slot) AcceptsKind(kind string) bool {
	return kind == SpoolKindFor(s.Type)
}
