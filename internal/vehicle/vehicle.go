package vehicle

import (
	"time"
)

// Vehicle 是 vehicles 表的 GORM 模型。
// 车辆按 (customer_id, plate_number) 去重：同一块牌照挂在不同客户名下
// 是两条独立记录（过户、公司车等场景）。
type Vehicle struct {
	ID          string `gorm:"primaryKey;size:36"`
	CustomerID  string `gorm:"size:36;not null;uniqueIndex:uk_vehicle_customer_plate"`
	PlateNumber string `gorm:"size:32;not null;uniqueIndex:uk_vehicle_customer_plate"`

	// 描述字段允许建档时缺失，后续补录（只填空，不覆盖）
	VIN   string `gorm:"size:64"`
	Make  string `gorm:"size:64"`
	Model string `gorm:"size:64"`
	Year  int

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}
