package api

// CommonResp 统一响应包装。
type CommonResp[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Message string `json:"message"`
}

// SubmitResp 提交作业的响应数据。
type SubmitResp struct {
	JobID string `json:"job_id"`
}
