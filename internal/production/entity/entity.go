package entity

import "gorm.io/gorm"

// AutoMigrate 自动迁移所有生产表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		// 设备
		&Machine{},
		&Slot{},

		// 卷料库存
		&Spool{},
		&Movement{},

		// 订单与批次
		&Batch{},
		&Order{},
	)
}
