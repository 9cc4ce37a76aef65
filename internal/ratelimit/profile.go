// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package ratelimit

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"catalogedge/configs"
)

const (
	// ProfileDefault 未匹配规则的 /api/ 路径
	ProfileDefault = "default"
	// ProfilePublic 其余公开路径
	ProfilePublic = "public"
)

// Profile 一个具名的配额
type Profile struct {
	Name   string
	Config Config
}

type rule struct {
	prefix  string
	method  string
	profile string
}

// Resolver 按请求方法和路径选出限流档位。
// 规则按前缀长度从长到短匹配，带方法的规则只匹配对应方法。
type Resolver struct {
	profiles map[string]Config
	rules    []rule
}

// NewResolver 从配置构建 Resolver。规则引用了不存在的档位时返回错误。
func NewResolver(profiles map[string]configs.ProfileConfig, rules []configs.RuleConfig) (*Resolver, error) {
	r := &Resolver{profiles: make(map[string]Config, len(profiles))}
	for name, p := range profiles {
		r.profiles[name] = Config{
			Limit:  p.Limit,
			Window: time.Duration(p.WindowSeconds) * time.Second,
		}
	}
	for _, name := range []string{ProfileDefault, ProfilePublic} {
		if _, ok := r.profiles[name]; !ok {
			return nil, fmt.Errorf("%w: missing profile %q", ErrInvalidProfile, name)
		}
	}

	for _, rc := range rules {
		if _, ok := r.profiles[rc.Profile]; !ok {
			return nil, fmt.Errorf("%w: rule %q references %q", ErrInvalidProfile, rc.Prefix, rc.Profile)
		}
		r.rules = append(r.rules, rule{
			prefix:  rc.Prefix,
			method:  strings.ToUpper(rc.Method),
			profile: rc.Profile,
		})
	}

	// 长前缀优先；前缀相同时带方法的规则优先
	sort.SliceStable(r.rules, func(i, j int) bool {
		if len(r.rules[i].prefix) != len(r.rules[j].prefix) {
			return len(r.rules[i].prefix) > len(r.rules[j].prefix)
		}
		return r.rules[i].method != "" && r.rules[j].method == ""
	})

	return r, nil
}

// Resolve 返回请求应使用的档位
func (r *Resolver) Resolve(method, path string) Profile {
	for _, rl := range r.rules {
		if rl.method != "" && !strings.EqualFold(rl.method, method) {
			continue
		}
		if strings.HasPrefix(path, rl.prefix) {
			return r.profile(rl.profile)
		}
	}
	if strings.HasPrefix(path, "/api/") {
		return r.profile(ProfileDefault)
	}
	return r.profile(ProfilePublic)
}

// Lookup 按名称查找档位
func (r *Resolver) Lookup(name string) (Profile, bool) {
	cfg, ok := r.profiles[name]
	return Profile{Name: name, Config: cfg}, ok
}

func (r *Resolver) profile(name string) Profile {
	return Profile{Name: name, Config: r.profiles[name]}
}
