// Package idgen 生成作业与任务的确定性标识。
package idgen

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// JobID 计算作业标识。
// 功能：对 jobType 与按键排序后的参数做 SHA-256，输出 64 位十六进制串；
// 相同 (jobType, params) 在任意进程、任意时刻得到相同结果。
// 参数：
// - jobType：作业类型；
// - params：已校验并补齐默认值的参数（嵌套 map 同样按键排序）。
// 返回：
// - string：作业标识；
// 异常：
// - 参数中存在无法 JSON 序列化的值时返回错误。
func JobID(jobType string, params map[string]any) (string, error) {
	h := sha256.New()
	writeField := func(b []byte) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(b)))
		h.Write(n[:])
		h.Write(b)
	}
	writeField([]byte(jobType))

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		// encoding/json 对嵌套 map 的键同样排序输出
		v, err := json.Marshal(params[k])
		if err != nil {
			return "", fmt.Errorf("idgen: param %q: %w", k, err)
		}
		writeField([]byte(k))
		writeField(v)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// TaskID 由作业标识与位置（阶段、下标）派生任务标识，与执行时机无关。
func TaskID(jobID string, stage, index int) string {
	return fmt.Sprintf("%s-s%d-t%d", jobID, stage, index)
}

// AttemptScope 返回某次提交尝试下用于派生任务标识的作业键。
// 首次尝试保持原作业标识，重提交使用 "jobID#attempt" 以免与历史任务冲突。
func AttemptScope(jobID string, attempt int) string {
	if attempt <= 1 {
		return jobID
	}
	return fmt.Sprintf("%s#%d", jobID, attempt)
}
