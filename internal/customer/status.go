package customer

import "fmt"

// Status 客户到店状态枚举（持久化为字符串）。
type Status string

const (
	StatusArrived   Status = "arrived"    // 已到店，待接待
	StatusInService Status = "in_service" // 服务中（维修/销售/咨询进行中）
	StatusDeparted  Status = "departed"   // 已离店
)

// AllowTransition 定义到店状态的允许流转关系。
var AllowTransition = map[Status][]Status{
	StatusArrived:   {StatusInService, StatusDeparted},
	StatusInService: {StatusDeparted},
	// 已离店的客户再次到店走建档/回访路径，不在这里流转
	StatusDeparted: {},
}

// CanTransition 判断 from -> to 是否是一个允许的状态流转。
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, s := range AllowTransition[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ApplyStatus 对客户应用状态变更。仅在 CanTransition 允许时生效。
func ApplyStatus(c *Customer, to Status) error {
	if c == nil {
		return fmt.Errorf("customer is nil")
	}
	if !CanTransition(c.Status, to) {
		return fmt.Errorf("invalid customer status transition: %s -> %s", c.Status, to)
	}
	c.Status = to
	return nil
}
