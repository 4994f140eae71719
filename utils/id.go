package utils

import (
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"
)

// GenerateID 生成请求ID，UUID 生成失败时回退到时间戳
func GenerateID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return id.String()
}
