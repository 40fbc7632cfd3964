package order

import (
	"errors"
	"time"
)

// Type 工单类型枚举（持久化为字符串）。
type Type string

const (
	TypeService Type = "service" // 维修/保养
	TypeSales   Type = "sales"   // 销售
	TypeInquiry Type = "inquiry" // 咨询
)

// Valid 判断是否是已知工单类型。
func (t Type) Valid() bool {
	switch t {
	case TypeService, TypeSales, TypeInquiry:
		return true
	}
	return false
}

// ErrUnknownType 未知工单类型，入库前拒绝。
var ErrUnknownType = errors.New("unknown order type")

// 下单渠道（五类录入入口）。
const (
	ChannelInvoice     = "invoice"     // 发票采集
	ChannelDocument    = "document"    // 单据识别导入
	ChannelIntake      = "intake"      // 工单录入
	ChannelWizard      = "wizard"      // 分步建档向导
	ChannelQuickCreate = "quickcreate" // 快速建单
)

// Order 工单 GORM 模型。本服务内工单创建后不可变。
type Order struct {
	// ID 可由调用方传入作为幂等键（同一张源单据重复提交会被主键拒绝）
	ID string `gorm:"primaryKey;size:36"`

	Type      Type   `gorm:"type:varchar(16);index;not null"`
	Channel   string `gorm:"size:32"`        // 下单渠道
	SourceRef string `gorm:"size:64;index"`  // 调用方的稳定单据号（作业/文档 ID）
	Remark    string `gorm:"size:255"`

	CustomerID string `gorm:"index;size:36;not null"` // 归属客户
	VehicleID  string `gorm:"index;size:36"`          // 关联车辆（可空）

	CreatedAt time.Time `gorm:"autoCreateTime"`
}
