package jobdef

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// FieldType 参数类型，取值与 JSON Schema 的 type 一致。
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeObject  FieldType = "object"
	TypeArray   FieldType = "array"
)

// Field 单个参数声明。
// Min/Max 对数值约束取值范围，对字符串约束长度，对数组约束元素个数。
// NonIdentity 的字段不参与作业标识计算（例如测试用的随机失败开关）。
type Field struct {
	Type        FieldType
	Required    bool
	Default     any
	Min         *float64
	Max         *float64
	NonIdentity bool
	Description string
}

// Bound 便于声明 Min/Max。
func Bound(v float64) *float64 { return &v }

// ParamSchema 字段名 → 声明。
type ParamSchema map[string]Field

// ValidationError 参数校验失败：指出字段与违反的约束。
type ValidationError struct {
	Field      string `json:"field"`
	Constraint string `json:"constraint"`
	Value      any    `json:"value,omitempty"`
	Message    string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid parameter %q: %s", e.Field, e.Message)
}

// JSONSchema 生成对应的 JSON Schema 文档。
// required 与未知字段在 Validate 中先行处理，以便给出字段级错误。
func (s ParamSchema) JSONSchema() map[string]any {
	props := map[string]any{}
	for name, f := range s {
		p := map[string]any{"type": string(f.Type)}
		minKey, maxKey := "minimum", "maximum"
		switch f.Type {
		case TypeString:
			minKey, maxKey = "minLength", "maxLength"
		case TypeArray:
			minKey, maxKey = "minItems", "maxItems"
		case TypeObject:
			minKey, maxKey = "minProperties", "maxProperties"
		}
		if f.Min != nil {
			p[minKey] = boundValue(f.Type, *f.Min)
		}
		if f.Max != nil {
			p[maxKey] = boundValue(f.Type, *f.Max)
		}
		if f.Description != "" {
			p["description"] = f.Description
		}
		props[name] = p
	}
	return map[string]any{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
}

func boundValue(t FieldType, v float64) any {
	if t == TypeNumber || t == TypeInteger {
		return v
	}
	return int(v)
}

// Compile 编译 JSON Schema。
func (s ParamSchema) Compile() (*jsonschema.Schema, error) {
	b, err := json.Marshal(s.JSONSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("params.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("params.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// Validate 校验提交参数。
// 功能：补齐默认值 → 检查必填与未知字段 → 按 JSON Schema 做类型与上下界校验。
// 返回：
// - 规范化后的参数（经 JSON 往返，数值统一为 float64）；
// 异常：
// - *ValidationError：第一个违反约束的字段。
func (s ParamSchema) Validate(params map[string]any) (map[string]any, error) {
	schema, err := s.Compile()
	if err != nil {
		return nil, err
	}
	return s.validateWith(schema, params)
}

func (s ParamSchema) validateWith(schema *jsonschema.Schema, params map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(s))
	for k, v := range params {
		merged[k] = v
	}
	for _, name := range s.fieldNames() {
		f := s[name]
		if _, ok := merged[name]; !ok || merged[name] == nil {
			if f.Default != nil {
				merged[name] = f.Default
				continue
			}
			delete(merged, name)
			if f.Required {
				return nil, &ValidationError{Field: name, Constraint: "required", Message: "missing required parameter"}
			}
		}
	}
	unknown := make([]string, 0)
	for k := range merged {
		if _, ok := s[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, &ValidationError{Field: unknown[0], Constraint: "unknown", Value: merged[unknown[0]], Message: "parameter is not declared"}
	}

	b, err := json.Marshal(merged)
	if err != nil {
		return nil, &ValidationError{Field: "", Constraint: "encoding", Message: err.Error()}
	}
	var normalized map[string]any
	if err := json.Unmarshal(b, &normalized); err != nil {
		return nil, err
	}
	if normalized == nil {
		normalized = map[string]any{}
	}
	if err := schema.Validate(normalized); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return nil, toValidationError(ve, normalized)
		}
		return nil, err
	}
	return normalized, nil
}

// toValidationError 取最深一层原因，映射为字段与约束名。
func toValidationError(ve *jsonschema.ValidationError, data map[string]any) *ValidationError {
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	field := strings.TrimPrefix(leaf.InstanceLocation, "/")
	if i := strings.Index(field, "/"); i >= 0 {
		field = field[:i]
	}
	constraint := leaf.KeywordLocation
	if i := strings.LastIndex(constraint, "/"); i >= 0 {
		constraint = constraint[i+1:]
	}
	return &ValidationError{Field: field, Constraint: constraint, Value: data[field], Message: leaf.Message}
}

// IdentityParams 去掉 NonIdentity 字段，得到参与作业标识计算的参数。
func (s ParamSchema) IdentityParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		if f, ok := s[k]; ok && f.NonIdentity {
			continue
		}
		out[k] = v
	}
	return out
}

func (s ParamSchema) fieldNames() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// toJSONValue 经 JSON 往返得到校验器可识别的值。
func toJSONValue(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}
