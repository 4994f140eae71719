package service

import (
	"image"
	"math"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ErrInvalidImage 输入为空或不是 8 位三通道 BGR 图像
var ErrInvalidImage = errors.New("input must be a non-empty 3-channel 8-bit image")

// Cartoonizer 负责将彩色图像转换为卡通风格
type Cartoonizer struct {
	defaultVariant Variant
}

func NewCartoonizer(defaultVariant Variant) *Cartoonizer {
	if defaultVariant == "" {
		defaultVariant = VariantVibrant
	}
	return &Cartoonizer{defaultVariant: defaultVariant}
}

func (c *Cartoonizer) DefaultVariant() Variant {
	return c.defaultVariant
}

// Cartoonize 使用指定变体处理图像，空变体使用默认值，未知变体返回错误
func (c *Cartoonizer) Cartoonize(img gocv.Mat, v Variant) (gocv.Mat, error) {
	if v == "" {
		v = c.defaultVariant
	}
	if !v.Valid() {
		return gocv.NewMat(), errors.Errorf("unknown variant %q", v)
	}
	return Cartoonize(img, ParamsFor(v))
}

// Cartoonize 执行完整管线，返回的新 Mat 由调用方关闭。
// 不会修改 img；出错时返回的空 Mat 同样需要关闭。
func Cartoonize(img gocv.Mat, p Params) (gocv.Mat, error) {
	if img.Empty() || img.Type() != gocv.MatTypeCV8UC3 {
		return gocv.NewMat(), ErrInvalidImage
	}

	work, err := Downscale(img, p.MaxDimension)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer work.Close()

	mask, err := EdgeMask(work, p)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer mask.Close()

	base := work
	if p.Quantize {
		quantized, err := Quantize(work, p.QuantStep)
		if err != nil {
			return gocv.NewMat(), err
		}
		defer quantized.Close()
		base = quantized
	}

	smoothed, err := Smooth(base, p)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer smoothed.Close()

	color := smoothed
	if p.SaturationScale != 1 {
		boosted, err := BoostSaturation(smoothed, p.SaturationScale)
		if err != nil {
			return gocv.NewMat(), err
		}
		defer boosted.Close()
		color = boosted
	}

	return Compose(color, mask)
}

// ScaledSize 计算缩放后的尺寸，长边不超过 maxDim
func ScaledSize(width, height, maxDim int) image.Point {
	longest := max(width, height)
	if maxDim <= 0 || longest <= maxDim {
		return image.Point{X: width, Y: height}
	}

	scale := float64(maxDim) / float64(longest)
	return image.Point{
		X: max(1, int(math.RoundToEven(float64(width)*scale))),
		Y: max(1, int(math.RoundToEven(float64(height)*scale))),
	}
}

// Downscale 按面积插值缩小图像，未超限时返回副本
func Downscale(img gocv.Mat, maxDim int) (gocv.Mat, error) {
	size := ScaledSize(img.Cols(), img.Rows(), maxDim)
	if size.X == img.Cols() && size.Y == img.Rows() {
		return img.Clone(), nil
	}

	resized := gocv.NewMat()
	if err := gocv.Resize(img, &resized, size, 0, 0, gocv.InterpolationArea); err != nil {
		resized.Close()
		return gocv.NewMat(), errors.Wrap(err, "downscale")
	}
	if resized.Empty() {
		resized.Close()
		return gocv.NewMat(), errors.New("downscale: resize produced an empty image")
	}

	return resized, nil
}

// EdgeMask 生成线条掩码：0 为线条，255 为平坦区域
func EdgeMask(img gocv.Mat, p Params) (gocv.Mat, error) {
	gray := gocv.NewMat()
	defer gray.Close()
	if err := gocv.CvtColor(img, &gray, gocv.ColorBGRToGray); err != nil {
		return gocv.NewMat(), errors.Wrap(err, "edge mask: gray")
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	if err := gocv.MedianBlur(gray, &blurred, p.MedianKsize); err != nil {
		return gocv.NewMat(), errors.Wrap(err, "edge mask: median blur")
	}

	mask := gocv.NewMat()
	if err := gocv.AdaptiveThreshold(blurred, &mask, 255, gocv.AdaptiveThresholdMean, gocv.ThresholdBinary, p.BlockSize, p.ThresholdC); err != nil {
		mask.Close()
		return gocv.NewMat(), errors.Wrap(err, "edge mask: adaptive threshold")
	}
	if mask.Empty() {
		mask.Close()
		return gocv.NewMat(), errors.New("edge mask: adaptive threshold produced an empty mask")
	}

	if err := binarize(&mask); err != nil {
		mask.Close()
		return gocv.NewMat(), err
	}

	return mask, nil
}

// binarize 强制掩码只含 0 和 255，保证 Compose 的按位与语义
func binarize(mask *gocv.Mat) error {
	data, err := mask.DataPtrUint8()
	if err != nil {
		return errors.Wrap(err, "edge mask: binarize")
	}
	for i, v := range data {
		if v >= 128 {
			data[i] = 255
		} else {
			data[i] = 0
		}
	}
	return nil
}

// Quantize 颜色量化：每个通道取 floor(v/step)*step
func Quantize(img gocv.Mat, step int) (gocv.Mat, error) {
	if step <= 0 {
		return gocv.NewMat(), errors.Errorf("quantize: invalid step %d", step)
	}

	out := img.Clone()
	data, err := out.DataPtrUint8()
	if err != nil {
		out.Close()
		return gocv.NewMat(), errors.Wrap(err, "quantize")
	}

	for i, v := range data {
		data[i] = uint8(min(255, int(v)/step*step))
	}

	return out, nil
}

// Smooth 双边滤波
func Smooth(img gocv.Mat, p Params) (gocv.Mat, error) {
	out := gocv.NewMat()
	if err := gocv.BilateralFilter(img, &out, p.Diameter, p.SigmaColor, p.SigmaSpace); err != nil {
		out.Close()
		return gocv.NewMat(), errors.Wrap(err, "bilateral filter")
	}
	if out.Empty() {
		out.Close()
		return gocv.NewMat(), errors.New("bilateral filter: produced an empty image")
	}
	return out, nil
}

// BoostSaturation 在 HSV 空间放大饱和度
func BoostSaturation(img gocv.Mat, factor float64) (gocv.Mat, error) {
	hsv := gocv.NewMat()
	defer hsv.Close()
	if err := gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV); err != nil {
		return gocv.NewMat(), errors.Wrap(err, "saturation: to hsv")
	}

	data, err := hsv.DataPtrUint8()
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "saturation")
	}
	for i := 1; i < len(data); i += 3 {
		data[i] = uint8(min(255, int(float64(data[i])*factor)))
	}

	out := gocv.NewMat()
	if err := gocv.CvtColor(hsv, &out, gocv.ColorHSVToBGR); err != nil {
		out.Close()
		return gocv.NewMat(), errors.Wrap(err, "saturation: to bgr")
	}
	if out.Empty() {
		out.Close()
		return gocv.NewMat(), errors.New("saturation: hsv conversion produced an empty image")
	}

	return out, nil
}

// Compose 将二值线条掩码与彩色图像按位与合成
func Compose(color, mask gocv.Mat) (gocv.Mat, error) {
	if color.Rows() != mask.Rows() || color.Cols() != mask.Cols() {
		return gocv.NewMat(), errors.Errorf("compose: mask %dx%d does not match image %dx%d",
			mask.Cols(), mask.Rows(), color.Cols(), color.Rows())
	}
	if mask.Type() != gocv.MatTypeCV8UC1 {
		return gocv.NewMat(), errors.New("compose: mask must be single-channel 8-bit")
	}

	data, err := mask.DataPtrUint8()
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "compose")
	}
	for _, v := range data {
		if v != 0 && v != 255 {
			return gocv.NewMat(), errors.Errorf("compose: mask is not binary, found value %d", v)
		}
	}

	edges := gocv.NewMat()
	defer edges.Close()
	if err := gocv.CvtColor(mask, &edges, gocv.ColorGrayToBGR); err != nil {
		return gocv.NewMat(), errors.Wrap(err, "compose: gray to bgr")
	}

	out := gocv.NewMat()
	if err := gocv.BitwiseAnd(color, edges, &out); err != nil {
		out.Close()
		return gocv.NewMat(), errors.Wrap(err, "compose: bitwise and")
	}
	if out.Empty() {
		out.Close()
		return gocv.NewMat(), errors.New("compose: bitwise and produced an empty image")
	}

	return out, nil
}
