package customer

import "strings"

// NormalizePhone 把原始电话规整成稳定的比较键：
// - 只保留数字（丢掉空格、括号、横线、加号等格式字符）
// - 折叠国家码前缀：0086xxxxxxxxxxx / +86 带 11 位手机号 → 去掉 86
// - 解析不出数字时返回 ""，从不报错
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteByte(byte(r))
		}
	}
	digits := b.String()

	// 只在剩下正好 11 位手机号时才剥国家码，别的号段原样保留
	switch {
	case strings.HasPrefix(digits, "0086") && len(digits) == 15:
		digits = digits[4:]
	case strings.HasPrefix(digits, "86") && len(digits) == 13:
		digits = digits[2:]
	}
	return digits
}
