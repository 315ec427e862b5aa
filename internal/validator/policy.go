package validator

import "strings"

// AmbiguityPolicy 校验被拒绝（需要登录、反爬拦截、限流、代理拒绝）时的处理策略，
// 这类响应无法说明页面是否存在
type AmbiguityPolicy string

const (
	AssumeValid   AmbiguityPolicy = "assume_valid"
	AssumeInvalid AmbiguityPolicy = "assume_invalid"
)

// ParsePolicy 无法识别时使用 AssumeValid
func ParsePolicy(s string) AmbiguityPolicy {
	if AmbiguityPolicy(strings.ToLower(strings.TrimSpace(s))) == AssumeInvalid {
		return AssumeInvalid
	}
	return AssumeValid
}

// Keep 模糊结果的页面是否保留
func (p AmbiguityPolicy) Keep() bool {
	return p != AssumeInvalid
}
