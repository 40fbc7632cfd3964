package operator

import (
	"strings"
	"time"
)

// Operator 门店操作员（录入入口的使用者），operators 表的 GORM 模型。
type Operator struct {
	ID           string    `gorm:"primaryKey;size:36"`
	Username     string    `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string    `gorm:"size:128;not null"`
	PasswordSalt string    `gorm:"size:64;not null"`
	DisplayName  string    `gorm:"size:64"`
	BranchID     string    `gorm:"index;size:36"`
	Roles        string    `gorm:"size:256;not null"` // 逗号分隔，例如 "staff,admin"
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// RolesSlice 把逗号分隔的角色串拆成干净的列表。
func (o Operator) RolesSlice() []string {
	return SplitRoles(o.Roles)
}

// SplitRoles 拆分角色串，丢掉空白项。
func SplitRoles(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// JoinRoles 把角色列表拼回逗号分隔串。
func JoinRoles(roles []string) string {
	return strings.Join(SplitRoles(strings.Join(roles, ",")), ",")
}
