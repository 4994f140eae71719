package model

import "time"

// CartoonResult 卡通化处理结果
type CartoonResult struct {
	MD5          string        `json:"md5"`
	Variant      string        `json:"variant"`
	Width        int           `json:"width"`
	Height       int           `json:"height"`
	OutputWidth  int           `json:"output_width"`
	OutputHeight int           `json:"output_height"`
	Duration     time.Duration `json:"duration"`
	PNG          []byte        `json:"-"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Error   string `json:"error,omitempty"`
}
