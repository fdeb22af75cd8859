package layers

import (
	"fmt"

	"github.com/quic-ykota/aimet/tensor"
)

// ConvTranspose2D is a 2D transposed convolution over [batch, channels,
// height, width] inputs. Weight shape: [inChannels, outChannels, kernel,
// kernel].
type ConvTranspose2D struct {
	InChannels  int
	OutChannels int
	KernelSize  int
	Stride      int
	Padding     int

	weight *tensor.Tensor
	bias   *tensor.Tensor // nil when the layer has no bias
}

// NewConvTranspose2D creates a transposed convolution layer with
// zero-initialized parameters.
func NewConvTranspose2D(inChannels, outChannels, kernelSize, stride, padding int, useBias bool) (*ConvTranspose2D, error) {
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

	weight, err := tensor.New(inChannels, outChannels, kernelSize, kernelSize)
	if err != nil {
		return nil, err
	}

	c := &ConvTranspose2D{
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
func (c *ConvTranspose2D) Weight() *tensor.Tensor {
	return c.weight
}

// Bias returns the layer's bias tensor, or nil.
func (c *ConvTranspose2D) Bias() *tensor.Tensor {
	return c.bias
}

// SetWeight replaces the weight tensor atomically.
func (c *ConvTranspose2D) SetWeight(w *tensor.Tensor) error {
	if !w.SameShape(c.weight) {
		return fmt.Errorf("weight shape %v does not match %v", w.Shape, c.weight.Shape)
	}
	c.weight = w
	return nil
}

func (c *ConvTranspose2D) checkInput(x *tensor.Tensor) error {
	if len(x.Shape) != 4 || x.Shape[1] != c.InChannels {
		return fmt.Errorf("expected input shape [batch, %d, h, w], got %v", c.InChannels, x.Shape)
	}
	return nil
}

func (c *ConvTranspose2D) outputSize(h, w int) (int, int) {
	oh := (h-1)*c.Stride - 2*c.Padding + c.KernelSize
	ow := (w-1)*c.Stride - 2*c.Padding + c.KernelSize
	return oh, ow
}

// Forward computes the transposed convolution output.
func (c *ConvTranspose2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return c.ForwardUsing(x, c.weight)
}

// ForwardUsing computes the transposed convolution output with an alternate
// weight tensor.
func (c *ConvTranspose2D) ForwardUsing(x, w *tensor.Tensor) (*tensor.Tensor, error) {
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
		for ic := 0; ic < c.InChannels; ic++ {
			for iy := 0; iy < h; iy++ {
				for ix := 0; ix < wid; ix++ {
					v := x.Data[((n*c.InChannels+ic)*h+iy)*wid+ix]
					if v == 0 {
						continue
					}
					for oc := 0; oc < c.OutChannels; oc++ {
						for ky := 0; ky < k; ky++ {
							oy := iy*c.Stride - c.Padding + ky
							if oy < 0 || oy >= oh {
								continue
							}
							for kx := 0; kx < k; kx++ {
								ox := ix*c.Stride - c.Padding + kx
								if ox < 0 || ox >= ow {
									continue
								}
								out.Data[((n*c.OutChannels+oc)*oh+oy)*ow+ox] +=
									v * w.Data[((ic*c.OutChannels+oc)*k+ky)*k+kx]
							}
						}
					}
				}
			}
		}
	}

	if c.bias != nil {
		for n := 0; n < batch; n++ {
			for oc := 0; oc < c.OutChannels; oc++ {
				base := (n*c.OutChannels + oc) * oh * ow
				for i := 0; i < oh*ow; i++ {
					out.Data[base+i] += c.bias.Data[oc]
				}
			}
		}
	}
	return out, nil
}

// WeightGradient computes dLoss/dWeight for the given input and output
// gradient.
func (c *ConvTranspose2D) WeightGradient(input, outputGrad *tensor.Tensor) (*tensor.Tensor, error) {
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

	grad, err := tensor.New(c.InChannels, c.OutChannels, c.KernelSize, c.KernelSize)
	if err != nil {
		return nil, err
	}

	k := c.KernelSize
	for n := 0; n < batch; n++ {
		for ic := 0; ic < c.InChannels; ic++ {
			for iy := 0; iy < h; iy++ {
				for ix := 0; ix < wid; ix++ {
					v := input.Data[((n*c.InChannels+ic)*h+iy)*wid+ix]
					if v == 0 {
						continue
					}
					for oc := 0; oc < c.OutChannels; oc++ {
						for ky := 0; ky < k; ky++ {
							oy := iy*c.Stride - c.Padding + ky
							if oy < 0 || oy >= oh {
								continue
							}
							for kx := 0; kx < k; kx++ {
								ox := ix*c.Stride - c.Padding + kx
								if ox < 0 || ox >= ow {
									continue
								}
								grad.Data[((ic*c.OutChannels+oc)*k+ky)*k+kx] +=
									v * outputGrad.Data[((n*c.OutChannels+oc)*oh+oy)*ow+ox]
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
func (c *ConvTranspose2D) Clone() Module {
	clone := &ConvTranspose2D{
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
