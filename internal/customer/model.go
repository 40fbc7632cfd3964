package customer

import (
	"time"
)

// Customer 是 customers 表的 GORM 模型。
// 身份五元组（门店、姓名、电话、单位、税号）上有复合唯一索引，
// 它是“同一门店同一客户只建一条记录”的唯一仲裁者。
type Customer struct {
	ID string `gorm:"primaryKey;size:36"`

	// 身份五元组（phone 存的是归一化后的值）
	BranchID  string `gorm:"size:36;not null;uniqueIndex:uk_customer_identity"`
	FullName  string `gorm:"size:128;not null;uniqueIndex:uk_customer_identity"`
	Phone     string `gorm:"size:32;uniqueIndex:uk_customer_identity"`
	OrgName   string `gorm:"size:128;uniqueIndex:uk_customer_identity"`
	TaxNumber string `gorm:"size:64;uniqueIndex:uk_customer_identity"`

	// 到店状态与回访统计
	Status      Status    `gorm:"type:varchar(16);not null"`
	ArrivalTime time.Time // 首次到店时间
	LastVisitAt time.Time // 最近一次到店时间
	TotalVisits int       `gorm:"not null;default:1"` // 累计到店次数，建档即为 1

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}
