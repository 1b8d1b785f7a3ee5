// Package model wraps the pretrained multi-task network that predicts site,
// age and gender from the augmented inputs. Only the forward pass is
// implemented; weights come pretrained from the downloaded asset file and
// are never updated.
//
// The architecture is a compact dual-path 3D residual network: the
// full-resolution patch and the subsampled whole image each pass through a
// stack of residual convolution blocks with max-pooling between scales, the
// two globally pooled feature vectors are concatenated, and three dense
// heads emit site logits, a scalar age and a gender probability.
package model

import (
	"fmt"
	"math"

	"github.com/ANTsXNet/BrainAgeGender/internal/models"
	"github.com/ANTsXNet/BrainAgeGender/pkg/augment"
)

const kernelSize = 3

// Config fixes the network architecture. The parameter layout of the
// weights file depends on every field, so changing any of them invalidates
// downloaded weights.
type Config struct {
	// InputChannels is the channel count of both inputs.
	InputChannels int

	// Filters lists the channel width per scale; each scale is one
	// residual block followed by 2x max-pooling.
	Filters []int

	// NumSites is the size of the site-classification head.
	NumSites int
}

// DefaultConfig matches the pretrained brainAgeGender weights.
func DefaultConfig() Config {
	return Config{
		InputChannels: augment.Channels,
		Filters:       []int{8, 16, 32, 64},
		NumSites:      10,
	}
}

// Predictor is the inference interface the pipeline depends on; tests
// substitute a stub implementation.
type Predictor interface {
	Predict(batch *augment.Batch) ([]models.Prediction, error)
}

// convLayer is one 3D convolution with "same" zero padding.
type convLayer struct {
	in, out int
	weights []float64 // [out][in][k][k][k]
	bias    []float64 // [out]
}

func newConvLayer(in, out int) *convLayer {
	return &convLayer{
		in:      in,
		out:     out,
		weights: make([]float64, out*in*kernelSize*kernelSize*kernelSize),
		bias:    make([]float64, out),
	}
}

func (l *convLayer) paramCount() int {
	return len(l.weights) + len(l.bias)
}

// denseLayer is a fully connected layer.
type denseLayer struct {
	in, out int
	weights []float64 // [out][in]
	bias    []float64 // [out]
}

func newDenseLayer(in, out int) *denseLayer {
	return &denseLayer{
		in:      in,
		out:     out,
		weights: make([]float64, out*in),
		bias:    make([]float64, out),
	}
}

func (l *denseLayer) paramCount() int {
	return len(l.weights) + len(l.bias)
}

// scaleBlock is one resolution level: a channel-expanding convolution
// followed by a two-convolution residual block.
type scaleBlock struct {
	expand *convLayer
	conv1  *convLayer
	conv2  *convLayer
}

// Network is the pretrained dual-input, triple-output model.
type Network struct {
	cfg        Config
	patchPath  []*scaleBlock
	imagePath  []*scaleBlock
	siteHead   *denseLayer
	ageHead    *denseLayer
	genderHead *denseLayer
}

// NewNetwork allocates a network with zero weights; call LoadWeights (or
// SetParameters in tests) before predicting.
func NewNetwork(cfg Config) *Network {
	buildPath := func() []*scaleBlock {
		blocks := make([]*scaleBlock, len(cfg.Filters))
		in := cfg.InputChannels
		for i, f := range cfg.Filters {
			blocks[i] = &scaleBlock{
				expand: newConvLayer(in, f),
				conv1:  newConvLayer(f, f),
				conv2:  newConvLayer(f, f),
			}
			in = f
		}
		return blocks
	}

	features := 2 * cfg.Filters[len(cfg.Filters)-1]
	return &Network{
		cfg:        cfg,
		patchPath:  buildPath(),
		imagePath:  buildPath(),
		siteHead:   newDenseLayer(features, cfg.NumSites),
		ageHead:    newDenseLayer(features, 1),
		genderHead: newDenseLayer(features, 1),
	}
}

// parameterLayers returns every layer in the fixed weight-file order.
func (n *Network) parameterLayers() []interface{ paramCount() int } {
	var layers []interface{ paramCount() int }
	for _, path := range [][]*scaleBlock{n.patchPath, n.imagePath} {
		for _, b := range path {
			layers = append(layers, b.expand, b.conv1, b.conv2)
		}
	}
	layers = append(layers, n.siteHead, n.ageHead, n.genderHead)
	return layers
}

// ParameterCount is the exact length the flat weights vector must have.
func (n *Network) ParameterCount() int {
	total := 0
	for _, l := range n.parameterLayers() {
		total += l.paramCount()
	}
	return total
}

// SetParameters assigns the flat parameter vector in the fixed layer order
// (weights then bias per layer).
func (n *Network) SetParameters(params []float64) error {
	if len(params) != n.ParameterCount() {
		return fmt.Errorf("weights length mismatch: got %d values, network needs %d",
			len(params), n.ParameterCount())
	}
	offset := 0
	take := func(dst []float64) {
		copy(dst, params[offset:offset+len(dst)])
		offset += len(dst)
	}
	for _, l := range n.parameterLayers() {
		switch layer := l.(type) {
		case *convLayer:
			take(layer.weights)
			take(layer.bias)
		case *denseLayer:
			take(layer.weights)
			take(layer.bias)
		}
	}
	return nil
}

// featureMap is a per-replica channel-first voxel grid.
type featureMap struct {
	c, nx, ny, nz int
	data          []float64
}

func newFeatureMap(c, nx, ny, nz int) *featureMap {
	return &featureMap{c: c, nx: nx, ny: ny, nz: nz, data: make([]float64, c*nx*ny*nz)}
}

func (f *featureMap) at(c, x, y, z int) float64 {
	if x < 0 || y < 0 || z < 0 || x >= f.nx || y >= f.ny || z >= f.nz {
		return 0
	}
	return f.data[((c*f.nx+x)*f.ny+y)*f.nz+z]
}

func (f *featureMap) set(c, x, y, z int, v float64) {
	f.data[((c*f.nx+x)*f.ny+y)*f.nz+z] = v
}

// apply runs the convolution with same padding.
func (l *convLayer) apply(in *featureMap) *featureMap {
	out := newFeatureMap(l.out, in.nx, in.ny, in.nz)
	const r = kernelSize / 2
	for oc := 0; oc < l.out; oc++ {
		for x := 0; x < in.nx; x++ {
			for y := 0; y < in.ny; y++ {
				for z := 0; z < in.nz; z++ {
					sum := l.bias[oc]
					for ic := 0; ic < l.in; ic++ {
						for kx := -r; kx <= r; kx++ {
							for ky := -r; ky <= r; ky++ {
								for kz := -r; kz <= r; kz++ {
									w := l.weights[((((oc*l.in+ic)*kernelSize+kx+r)*kernelSize+ky+r)*kernelSize + kz + r)]
									sum += w * in.at(ic, x+kx, y+ky, z+kz)
								}
							}
						}
					}
					out.set(oc, x, y, z, sum)
				}
			}
		}
	}
	return out
}

func relu(f *featureMap) *featureMap {
	for i, v := range f.data {
		if v < 0 {
			f.data[i] = 0
		}
	}
	return f
}

// maxPool2 halves every spatial dimension.
func maxPool2(in *featureMap) *featureMap {
	nx, ny, nz := in.nx/2, in.ny/2, in.nz/2
	if nx < 1 {
		nx = 1
	}
	if ny < 1 {
		ny = 1
	}
	if nz < 1 {
		nz = 1
	}
	out := newFeatureMap(in.c, nx, ny, nz)
	for c := 0; c < in.c; c++ {
		for x := 0; x < nx; x++ {
			for y := 0; y < ny; y++ {
				for z := 0; z < nz; z++ {
					best := math.Inf(-1)
					for dx := 0; dx < 2; dx++ {
						for dy := 0; dy < 2; dy++ {
							for dz := 0; dz < 2; dz++ {
								xx, yy, zz := 2*x+dx, 2*y+dy, 2*z+dz
								if xx >= in.nx || yy >= in.ny || zz >= in.nz {
									continue
								}
								if v := in.at(c, xx, yy, zz); v > best {
									best = v
								}
							}
						}
					}
					out.set(c, x, y, z, best)
				}
			}
		}
	}
	return out
}

// globalAvgPool reduces a feature map to one value per channel.
func globalAvgPool(in *featureMap) []float64 {
	out := make([]float64, in.c)
	voxels := float64(in.nx * in.ny * in.nz)
	for c := 0; c < in.c; c++ {
		var sum float64
		for x := 0; x < in.nx; x++ {
			for y := 0; y < in.ny; y++ {
				for z := 0; z < in.nz; z++ {
					sum += in.at(c, x, y, z)
				}
			}
		}
		out[c] = sum / voxels
	}
	return out
}

// forwardPath runs one input through its residual stack and pools it into a
// feature vector.
func forwardPath(blocks []*scaleBlock, in *featureMap) []float64 {
	cur := in
	for _, b := range blocks {
		cur = relu(b.expand.apply(cur))
		skip := cur
		cur = relu(b.conv1.apply(cur))
		cur = b.conv2.apply(cur)
		for i := range cur.data {
			cur.data[i] += skip.data[i]
		}
		cur = relu(cur)
		cur = maxPool2(cur)
	}
	return globalAvgPool(cur)
}

// apply runs the dense layer.
func (l *denseLayer) apply(in []float64) []float64 {
	out := make([]float64, l.out)
	for o := 0; o < l.out; o++ {
		sum := l.bias[o]
		row := l.weights[o*l.in : (o+1)*l.in]
		for i, v := range in {
			sum += row[i] * v
		}
		out[o] = sum
	}
	return out
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// replicaInput unpacks one replica of a flat channel-last batch buffer into
// a channel-first feature map.
func replicaInput(data []float32, dims [5]int, replica int) *featureMap {
	nx, ny, nz, c := dims[1], dims[2], dims[3], dims[4]
	out := newFeatureMap(c, nx, ny, nz)
	for x := 0; x < nx; x++ {
		for y := 0; y < ny; y++ {
			for z := 0; z < nz; z++ {
				base := (((replica*nx+x)*ny+y)*nz + z) * c
				for ch := 0; ch < c; ch++ {
					out.set(ch, x, y, z, float64(data[base+ch]))
				}
			}
		}
	}
	return out
}

// Predict runs the forward pass for every replica in the batch.
func (n *Network) Predict(batch *augment.Batch) ([]models.Prediction, error) {
	if batch.PatchDims[0] != batch.ImageDims[0] {
		return nil, fmt.Errorf("patch and image batch sizes differ: %d vs %d",
			batch.PatchDims[0], batch.ImageDims[0])
	}
	if batch.PatchDims[4] != n.cfg.InputChannels || batch.ImageDims[4] != n.cfg.InputChannels {
		return nil, fmt.Errorf("expected %d input channels, got %d and %d",
			n.cfg.InputChannels, batch.PatchDims[4], batch.ImageDims[4])
	}

	count := batch.PatchDims[0]
	preds := make([]models.Prediction, count)
	for r := 0; r < count; r++ {
		patchFeatures := forwardPath(n.patchPath, replicaInput(batch.Patches, batch.PatchDims, r))
		imageFeatures := forwardPath(n.imagePath, replicaInput(batch.Images, batch.ImageDims, r))

		features := append(patchFeatures, imageFeatures...)
		preds[r] = models.Prediction{
			Site:   n.siteHead.apply(features),
			Age:    n.ageHead.apply(features)[0],
			Gender: sigmoid(n.genderHead.apply(features)[0]),
		}
	}
	return preds, nil
}
