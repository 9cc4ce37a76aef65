// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package cache

import "strings"

// Pattern 是 ClearPattern 使用的键匹配规则，只有两种形式：
//   - 以 '*' 结尾：匹配所有以 '*' 之前部分为前缀的键（单独的 "*" 匹配全部键）
//   - 不含结尾 '*'：只匹配完全相同的键
//
// 中间出现的 '*' 按普通字符处理。
type Pattern struct {
	text   string
	prefix bool
}

// ParsePattern 解析一个失效模式
func ParsePattern(pattern string) Pattern {
	if strings.HasSuffix(pattern, "*") {
		return Pattern{text: strings.TrimSuffix(pattern, "*"), prefix: true}
	}
	return Pattern{text: pattern}
}

// Match 判断 key 是否匹配
func (p Pattern) Match(key string) bool {
	if p.prefix {
		return strings.HasPrefix(key, p.text)
	}
	return key == p.text
}

// IsPrefix 报告模式是否为前缀匹配
func (p Pattern) IsPrefix() bool {
	return p.prefix
}

// Text 返回去掉通配符后的文本（精确键或前缀）
func (p Pattern) Text() string {
	return p.text
}
