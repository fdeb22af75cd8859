package layers

import (
	"fmt"

	"github.com/quic-ykota/aimet/tensor"
)

// Conv2D is a 2D convolution over [batch, channels, height, width] inputs.
// Weight shape: [outChannels, inChannels, kernel, kernel].
type Conv2D struct {
	InChannels  int
	OutChannels int
	KernelSize  int
	Stride      int
	Padding     int

	weight *tensor.Tensor
	bias   *tensor.Tensor // nil when the layer has no bias
}

// NewConv2D creates a convolution layer with zero-initialized parameters.
func NewConv2D(inChannels, outChannels, kernelSize, stride, padding int, useBias bool) (*Conv2D, error) {
	if inChannels <= 0 || outChannels <= 0 {
		return nil, fmt.Errorf("channel counts must be positive, got in=%d out=%d", inChannels, outChannels)
	}
	if kernelSize <= 0 {
		return nil, fmt.Errorf("kernel size must be positive, got %d", kernelSize)
	}
	if stride <= 0 {
		return nil, fmt.Errorf("stride must be positive, got %d", stride)
	}
	if padding < 0 {
		return nil, fmt.Errorf("padding cannot be negative, got %d", padding)
	}

	weight, err := tensor.New(outChannels, inChannels, kernelSize, kernelSize)
	if err != nil {
		return nil, err
	}

	c := &Conv2D{
		InChannels:  inChannels,
		OutChannels: outChannels,
		KernelSize:  kernelSize,
		Stride:      stride,
		Padding:     padding,
		weight:      weight,
	}
	if useBias {
		c.bias, err = tensor.New(outChannels)
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Weight returns the layer's weight tensor.
func (c *Conv2D) Weight() *tensor.Tensor {
	return c.weight
}

// Bias returns the layer's bias tensor, or nil.
func (c *Conv2D) Bias() *tensor.Tensor {
	return c.bias
}

// SetWeight replaces the weight tensor atomically.
func (c *Conv2D) SetWeight(w *tensor.Tensor) error {
	if !w.SameShape(c.weight) {
		return fmt.Errorf("weight shape %v does not match %v", w.Shape, c.weight.Shape)
	}
	c.weight = w
	return nil
}

func (c *Conv2D) checkInput(x *tensor.Tensor) error {
	if len(x.Shape) != 4 || x.Shape[1] != c.InChannels {
		return fmt.Errorf("expected input shape [batch, %d, h, w], got %v", c.InChannels, x.Shape)
	}
	return nil
}

func (c *Conv2D) outputSize(h, w int) (int, int) {
	oh := (h+2*c.Padding-c.KernelSize)/c.Stride + 1
	ow := (w+2*c.Padding-c.KernelSize)/c.Stride + 1
	return oh, ow
}

// Forward computes the convolution output.
func (c *Conv2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return c.ForwardUsing(x, c.weight)
}

// ForwardUsing computes the convolution output with an alternate weight tensor.
func (c *Conv2D) ForwardUsing(x, w *tensor.Tensor) (*tensor.Tensor, error) {
	if err := c.checkInput(x); err != nil {
		return nil, err
	}
	if !w.SameShape(c.weight) {
		return nil, fmt.Errorf("weight shape %v does not match %v", w.Shape, c.weight.Shape)
	}

	batch, h, wid := x.Shape[0], x.Shape[2], x.Shape[3]
	oh, ow := c.outputSize(h, wid)
	if oh <= 0 || ow <= 0 {
		return nil, fmt.Errorf("input %v too small for kernel %d, stride %d, padding %d", x.Shape, c.KernelSize, c.Stride, c.Padding)
	}

	out, err := tensor.New(batch, c.OutChannels, oh, ow)
	if err != nil {
		return nil, err
	}

	k := c.KernelSize
	for n := 0; n < batch; n++ {
		for oc := 0; oc < c.OutChannels; oc++ {
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					var sum float32
					for ic := 0; ic < c.InChannels; ic++ {
						for ky := 0; ky < k; ky++ {
							iy := oy*c.Stride - c.Padding + ky
							if iy < 0 || iy >= h {
								continue
							}
							for kx := 0; kx < k; kx++ {
								ix := ox*c.Stride - c.Padding + kx
								if ix < 0 || ix >= wid {
									continue
								}
								sum += x.Data[((n*c.InChannels+ic)*h+iy)*wid+ix] *
									w.Data[((oc*c.InChannels+ic)*k+ky)*k+kx]
							}
						}
					}
					if c.bias != nil {
						sum += c.bias.Data[oc]
					}
					out.Data[((n*c.OutChannels+oc)*oh+oy)*ow+ox] = sum
				}
			}
		}
	}
	return out, nil
}

// WeightGradient computes dLoss/dWeight for the given input and output
// gradient.
func (c *Conv2D) WeightGradient(input, outputGrad *tensor.Tensor) (*tensor.Tensor, error) {
	if err := c.checkInput(input); err != nil {
		return nil, err
	}

	batch, h, wid := input.Shape[0], input.Shape[2], input.Shape[3]
	oh, ow := c.outputSize(h, wid)
	wantShape := []int{batch, c.OutChannels, oh, ow}
	if len(outputGrad.Shape) != 4 || outputGrad.Shape[0] != batch || outputGrad.Shape[1] != c.OutChannels ||
		outputGrad.Shape[2] != oh || outputGrad.Shape[3] != ow {
		return nil, fmt.Errorf("expected output gradient shape %v, got %v", wantShape, outputGrad.Shape)
	}

	grad, err := tensor.New(c.OutChannels, c.InChannels, c.KernelSize, c.KernelSize)
	if err != nil {
		return nil, err
	}

	k := c.KernelSize
	for n := 0; n < batch; n++ {
		for oc := 0; oc < c.OutChannels; oc++ {
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					g := outputGrad.Data[((n*c.OutChannels+oc)*oh+oy)*ow+ox]
					if g == 0 {
						continue
					}
					for ic := 0; ic < c.InChannels; ic++ {
						for ky := 0; ky < k; ky++ {
							iy := oy*c.Stride - c.Padding + ky
							if iy < 0 || iy >= h {
								continue
							}
							for kx := 0; kx < k; kx++ {
								ix := ox*c.Stride - c.Padding + kx
								if ix < 0 || ix >= wid {
									continue
								}
								grad.Data[((oc*c.InChannels+ic)*k+ky)*k+kx] +=
									g * input.Data[((n*c.InChannels+ic)*h+iy)*wid+ix]
							}
						}
					}
				}
			}
		}
	}
	return grad, nil
}

// Clone deep-copies the layer.
func (c *Conv2D) Clone() Module {
	clone := &Conv2D{
		InChannels:  c.InChannels,
		OutChannels: c.OutChannels,
		KernelSize:  c.KernelSize,
		Stride:      c.Stride,
		Padding:     c.Padding,
		weight:      c.weight.Clone(),
	}
	if c.bias != nil {
		clone.bias = c.bias.Clone()
	}
	return clone
}
