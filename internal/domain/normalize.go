package domain

import "strings"

// NormalizeDomain 将客户端上报的域名规范化
//
// 规则：转小写、去掉 scheme、去掉路径和查询串、去掉端口、去掉 www. 前缀。
// `https://WWW.Example.com/path` 与 `example.com` 规范化后相同。
func NormalizeDomain(raw string) string {
	domain := strings.ToLower(strings.TrimSpace(raw))

	// 去掉 scheme（http://、https:// 等）
	if idx := strings.Index(domain, "://"); idx >= 0 {
		domain = domain[idx+3:]
	}

	// 去掉路径与查询串
	if idx := strings.IndexAny(domain, "/?#"); idx >= 0 {
		domain = domain[:idx]
	}

	// 去掉端口；IPv6 字面量的冒号在方括号内，只截方括号之后的端口
	if idx := strings.LastIndex(domain, ":"); idx > strings.LastIndex(domain, "]") {
		domain = domain[:idx]
	}

	// IPv6 字面量去掉包裹的方括号
	if strings.HasPrefix(domain, "[") && strings.HasSuffix(domain, "]") {
		domain = domain[1 : len(domain)-1]
	}

	// 去掉 www. 前缀与末尾的点
	domain = strings.TrimPrefix(domain, "www.")
	domain = strings.TrimSuffix(domain, ".")

	return domain
}

// MatchDomainPattern 判断已规范化的域名是否匹配白名单模式
//
// 支持两种模式：
//   - 精确匹配：example.com 只匹配 example.com
//   - 前导通配符：*.example.com 匹配 example.com 的任意子域名，
//     但不匹配裸域名 example.com 本身
func MatchDomainPattern(pattern, domain string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" || domain == "" {
		return false
	}

	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		// 必须至少有一个子域名标签，裸域名不匹配
		return strings.HasSuffix(domain, "."+suffix) && len(domain) > len(suffix)+1
	}

	return pattern == domain
}
