package service

import (
	"strings"

	"github.com/pkg/errors"
)

// Variant 选择卡通化管线的参数组
type Variant string

const (
	// VariantVibrant 缩小尺寸、量化调色板并增强饱和度
	VariantVibrant Variant = "vibrant"
	// VariantSimple 保持原始尺寸和颜色，只做平滑
	VariantSimple Variant = "simple"
)

// Valid 判断是否为已知变体
func (v Variant) Valid() bool {
	switch v {
	case VariantVibrant, VariantSimple:
		return true
	}
	return false
}

// Params 卡通化管线参数
type Params struct {
	// 长边上限，0 表示不缩放
	MaxDimension int

	MedianKsize int
	BlockSize   int
	ThresholdC  float32

	Quantize  bool
	QuantStep int

	Diameter   int
	SigmaColor float64
	SigmaSpace float64

	// 为 1 时跳过 HSV 转换
	SaturationScale float64
}

// ParamsFor 返回指定变体的参数。
// 未知变体得到 vibrant 参数，调用方应先用 Valid 或 ParseVariant 校验。
func ParamsFor(v Variant) Params {
	p := Params{
		MedianKsize: 7,
		BlockSize:   9,
		ThresholdC:  9,
		Diameter:    9,
	}

	switch v {
	case VariantSimple:
		p.SigmaColor = 200
		p.SigmaSpace = 200
		p.SaturationScale = 1
	case VariantVibrant:
		fallthrough
	default:
		p.MaxDimension = 800
		p.Quantize = true
		p.QuantStep = 64
		p.SigmaColor = 300
		p.SigmaSpace = 300
		p.SaturationScale = 1.3
	}

	return p
}

// ParseVariant 不区分大小写解析变体名，空字符串返回 fallback
func ParseVariant(name string, fallback Variant) (Variant, error) {
	switch v := Variant(strings.ToLower(strings.TrimSpace(name))); v {
	case "":
		return fallback, nil
	case VariantVibrant, VariantSimple:
		return v, nil
	default:
		return "", errors.Errorf("unknown variant %q", name)
	}
}
