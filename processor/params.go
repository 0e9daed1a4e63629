package processor

import (
	"encoding/json"
	"fmt"
)

// Int 读取整数参数；兼容 JSON 解码后的 float64 与 json.Number。
func Int(params map[string]any, key string) (int, error) {
	switch v := params[key].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("param %q: %v is not an integer", key, v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		return int(n), err
	case nil:
		return 0, fmt.Errorf("param %q: missing", key)
	default:
		return 0, fmt.Errorf("param %q: unexpected type %T", key, v)
	}
}

// String 读取字符串参数。
func String(params map[string]any, key string) (string, error) {
	switch v := params[key].(type) {
	case string:
		return v, nil
	case nil:
		return "", fmt.Errorf("param %q: missing", key)
	default:
		return "", fmt.Errorf("param %q: unexpected type %T", key, v)
	}
}
