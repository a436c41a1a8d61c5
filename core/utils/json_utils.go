package utils

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"
)

// NormalizeToolSchema 返回可直接作为 OpenAI function.parameters 的 schema 副本
// 缺省补全为 {"type":"object","properties":{}}，并移除上游不接受的 $schema
func NormalizeToolSchema(schema map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(schema)+2)
	for k, v := range schema {
		out[k] = v
	}
	delete(out, "$schema")

	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	if out["type"] == "object" {
		if _, ok := out["properties"]; !ok {
			out["properties"] = map[string]interface{}{}
		}
	}
	return out
}

// CompactJSON 压缩 JSON，非法输入原样返回
func CompactJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// Truncate 截断日志字段，保证不切断 UTF-8 字符
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...(truncated)"
}
