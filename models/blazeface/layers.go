package blazeface

import (
	"runtime"
	"sync"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// featureMap is a single CHW activation. Batch size is always one.
type featureMap struct {
	c, h, w int
	data    []float32
}

func newFeatureMap(c, h, w int) featureMap {
	return featureMap{c: c, h: h, w: w, data: make([]float32, c*h*w)}
}

func (f featureMap) plane(c int) []float32 {
	n := f.h * f.w
	return f.data[c*n : (c+1)*n]
}

// parallelFor runs fn(i) for i in [0, n) on at most workers goroutines.
func parallelFor(n, workers int, fn func(i int)) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}

	var wg sync.WaitGroup
	next := make(chan int, n)
	for i := 0; i < n; i++ {
		next <- i
	}
	close(next)

	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range next {
				fn(i)
			}
		}()
	}
	wg.Wait()
}

// pad zero-pads the spatial dimensions.
func pad(f featureMap, top, bottom, left, right int) featureMap {
	out := newFeatureMap(f.c, f.h+top+bottom, f.w+left+right)
	for c := 0; c < f.c; c++ {
		src, dst := f.plane(c), out.plane(c)
		for y := 0; y < f.h; y++ {
			copy(dst[(y+top)*out.w+left:], src[y*f.w:(y+1)*f.w])
		}
	}
	return out
}

// denseLayer is a convolution whose kernel spans every input channel,
// computed as a (out, in*k*k) x (in*k*k, oh*ow) matrix product.
type denseLayer struct {
	in, out, k, stride int
	weight             *tensor.Dense
	bias               []float32
}

func newDenseLayer(w Weights, prefix string, in, out, k, stride int) (*denseLayer, error) {
	weight, err := w.Get(prefix+".weight", out, in, k, k)
	if err != nil {
		return nil, err
	}
	bias, err := w.Get(prefix+".bias", out)
	if err != nil {
		return nil, err
	}
	return &denseLayer{
		in: in, out: out, k: k, stride: stride,
		weight: tensor.New(tensor.WithShape(out, in*k*k), tensor.WithBacking(weight)),
		bias:   bias,
	}, nil
}

// forward applies the layer without padding.
func (l *denseLayer) forward(f featureMap, workers int) (featureMap, error) {
	oh := (f.h-l.k)/l.stride + 1
	ow := (f.w-l.k)/l.stride + 1

	cols := f.data
	if l.k != 1 || l.stride != 1 {
		cols = im2col(f, l.k, l.stride, oh, ow, workers)
	}
	x := tensor.New(tensor.WithShape(l.in*l.k*l.k, oh*ow), tensor.WithBacking(cols))

	prod, err := l.weight.MatMul(x)
	if err != nil {
		return featureMap{}, errors.Wrap(err, "matmul")
	}

	out := featureMap{c: l.out, h: oh, w: ow, data: prod.Data().([]float32)}
	parallelFor(l.out, workers, func(c int) {
		b := l.bias[c]
		p := out.plane(c)
		for i := range p {
			p[i] += b
		}
	})
	return out, nil
}

// im2col lays out every k x k receptive field as a column, rows ordered by
// (channel, ky, kx) to match the (out, in, k, k) weight layout.
func im2col(f featureMap, k, stride, oh, ow, workers int) []float32 {
	n := oh * ow
	cols := make([]float32, f.c*k*k*n)
	parallelFor(f.c, workers, func(c int) {
		src := f.plane(c)
		for ky := 0; ky < k; ky++ {
			for kx := 0; kx < k; kx++ {
				row := cols[((c*k+ky)*k+kx)*n:]
				for oy := 0; oy < oh; oy++ {
					line := src[(oy*stride+ky)*f.w:]
					for ox := 0; ox < ow; ox++ {
						row[oy*ow+ox] = line[ox*stride+kx]
					}
				}
			}
		}
	})
	return cols
}

// depthwiseLayer is a 3x3 convolution applied to each channel independently.
type depthwiseLayer struct {
	channels, stride, padding int
	weight, bias              []float32
}

func newDepthwiseLayer(w Weights, prefix string, channels, stride, padding int) (*depthwiseLayer, error) {
	weight, err := w.Get(prefix+".weight", channels, 1, 3, 3)
	if err != nil {
		return nil, err
	}
	bias, err := w.Get(prefix+".bias", channels)
	if err != nil {
		return nil, err
	}
	return &depthwiseLayer{channels: channels, stride: stride, padding: padding, weight: weight, bias: bias}, nil
}

func (l *depthwiseLayer) forward(f featureMap, workers int) featureMap {
	p := l.padding
	oh := (f.h+2*p-3)/l.stride + 1
	ow := (f.w+2*p-3)/l.stride + 1
	out := newFeatureMap(f.c, oh, ow)

	parallelFor(f.c, workers, func(c int) {
		src, dst := f.plane(c), out.plane(c)
		k := l.weight[c*9 : c*9+9]
		b := l.bias[c]
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				sum := b
				for ky := 0; ky < 3; ky++ {
					y := oy*l.stride + ky - p
					if y < 0 || y >= f.h {
						continue
					}
					for kx := 0; kx < 3; kx++ {
						x := ox*l.stride + kx - p
						if x < 0 || x >= f.w {
							continue
						}
						sum += k[ky*3+kx] * src[y*f.w+x]
					}
				}
				dst[oy*ow+ox] = sum
			}
		}
	})
	return out
}

// maxPool2 applies a 2x2 max pool with stride 2.
func maxPool2(f featureMap, workers int) featureMap {
	oh, ow := f.h/2, f.w/2
	out := newFeatureMap(f.c, oh, ow)
	parallelFor(f.c, workers, func(c int) {
		src, dst := f.plane(c), out.plane(c)
		for oy := 0; oy < oh; oy++ {
			r0 := src[(2*oy)*f.w:]
			r1 := src[(2*oy+1)*f.w:]
			for ox := 0; ox < ow; ox++ {
				x := 2 * ox
				dst[oy*ow+ox] = math32.Max(math32.Max(r0[x], r0[x+1]), math32.Max(r1[x], r1[x+1]))
			}
		}
	})
	return out
}

func relu(f featureMap) {
	for i, v := range f.data {
		if v < 0 {
			f.data[i] = 0
		}
	}
}

// addResidual adds r into f channel by channel. Channels of f beyond r.c are
// left as they are, which equals adding a zero-padded residual.
func addResidual(f, r featureMap) {
	n := r.c * r.h * r.w
	for i, v := range r.data[:n] {
		f.data[i] += v
	}
}
