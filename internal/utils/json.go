package utils

import (
	"encoding/json"
	"strings"

	"k8s.io/klog/v2"
)

// ExtractJSON 从 LLM 响应中提取第一个括号平衡的 JSON 对象
// 支持 ```json 围栏与前后缀说明文字；找不到时原样返回
func ExtractJSON(content string) string {
	candidate := content
	if body, ok := extractFenced(content, "json", ""); ok {
		candidate = body
	}

	start := -1
	depth := 0
	for i, ch := range candidate {
		switch ch {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					return candidate[start : i+1]
				}
			}
		}
	}
	return content
}

func ToJSON(v any) string {
	jsonData, err := json.Marshal(v)
	if err != nil {
		klog.Errorf("JSON序列化失败: %v", err)
		return ""
	}
	return string(jsonData)
}

// ExtractMarkdown 提取 ```markdown 围栏中的内容
// 没有围栏时返回原始内容
func ExtractMarkdown(content string) string {
	if body, ok := extractFenced(content, "markdown", "md", ""); ok {
		return body
	}
	return content
}

// extractFenced 返回第一个 ``` 围栏代码块的内容
// 围栏语言标签必须命中 langs 之一（空串表示接受无标签围栏）
func extractFenced(content string, langs ...string) (string, bool) {
	idx := strings.Index(content, "```")
	if idx < 0 {
		return "", false
	}
	rest := content[idx+3:]
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return "", false
	}

	tag := strings.ToLower(strings.TrimSpace(rest[:nl]))
	matched := false
	for _, lang := range langs {
		if tag == lang {
			matched = true
			break
		}
	}
	if !matched {
		return "", false
	}

	body := rest[nl+1:]
	end := strings.Index(body, "```")
	if end < 0 {
		return "", false
	}
	return body[:end], true
}
