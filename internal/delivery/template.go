package delivery

import (
	"sort"
	"strings"
)

// Render 把模板中的 {key} 替换为 vars[key]
//
// vars 中没有的占位符原样保留，不报错：可选字段缺失不应该中断发货。
// 替换是单遍的，替换进来的值不会再被当作模板解析。
func Render(template string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(template, "{") {
		return template
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(vars)*2)
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// RenderAll 按顺序渲染整个指令列表
func RenderAll(templates []string, vars map[string]string) []string {
	out := make([]string, len(templates))
	for i, t := range templates {
		out[i] = Render(t, vars)
	}
	return out
}
