package tensor

import "fmt"

// Location identifies where a storage lives.
type Location struct {
	Kind    string // "cpu", "webgpu", "stub"
	Ordinal int    // Adapter ordinal, 0 for the host
}

// String implements fmt.Stringer.
func (l Location) String() string {
	if l.Kind == "cpu" {
		return "cpu"
	}
	return fmt.Sprintf("%s:%d", l.Kind, l.Ordinal)
}

// Device defines the interface that all compute devices must implement.
// A Device owns allocation authority; storages created by a Device keep a
// reference to it and may only be combined with storages of the same device.
//
// Implementations:
//   - cpu: the host CPU as a degenerate device
//   - webgpu: GPU compute via WebGPU (native or software driver)
//   - stub: placeholder device, every operation is unimplemented
type Device interface {
	// Name returns a human-readable backend name.
	Name() string
	// Location identifies the device.
	Location() Location
	// SameDevice reports whether other refers to the identical device connection.
	SameDevice(other Device) bool

	// Storage creation.
	Zeros(shape Shape, dt DType) (Storage, error)
	Ones(shape Shape, dt DType) (Storage, error)
	StorageFromHost(h *HostStorage) (Storage, error)
	RandUniform(shape Shape, dt DType, lo, hi float64) (Storage, error)
	RandNormal(shape Shape, dt DType, mean, std float64) (Storage, error)

	// Synchronize blocks until all work submitted to the device has completed.
	Synchronize() error
}

// Storage is the backend dispatch contract: the fixed operation set every
// backend exposes. Each operation takes one or more (Storage, Layout) pairs and
// returns a new Storage. Only CopyStridedSrc writes into an existing storage.
//
// Operations a backend does not provide fail with an error wrapping
// ErrUnimplemented. Storages from different devices fail with ErrDeviceMismatch.
type Storage interface {
	// Metadata.
	DType() DType
	Device() Device

	// Transfer.
	Clone(l Layout) (Storage, error)
	ToHost() (*HostStorage, error)

	// Element-wise.
	Affine(l Layout, mul, add float64) (Storage, error)
	Elu(l Layout, alpha float64) (Storage, error)
	Unary(op UnaryOp, l Layout) (Storage, error)
	Binary(op BinaryOp, rhs Storage, l, rl Layout) (Storage, error)
	Cmp(op CmpOp, rhs Storage, l, rl Layout) (Storage, error)
	ToDType(l Layout, dt DType) (Storage, error)
	WhereCond(l Layout, t Storage, tl Layout, f Storage, fl Layout) (Storage, error)

	// Reductions. Reduced dimensions are kept with size 1.
	Reduce(op ReduceOp, l Layout, dims []int) (Storage, error)

	// Indexing.
	IndexSelect(ids Storage, l, idsL Layout, dim int) (Storage, error)
	Gather(l Layout, ids Storage, idsL Layout, dim int) (Storage, error)
	ScatterAdd(l Layout, ids Storage, idsL Layout, src Storage, srcL Layout, dim int) (Storage, error)
	IndexAdd(l Layout, ids Storage, idsL Layout, src Storage, srcL Layout, dim int) (Storage, error)

	// Linear algebra and convolution.
	MatMul(rhs Storage, dims MatMulDims, l, rl Layout) (Storage, error)
	Conv1D(l Layout, kernel Storage, kl Layout, p Conv1DParams) (Storage, error)
	Conv2D(l Layout, kernel Storage, kl Layout, p Conv2DParams) (Storage, error)

	// Pooling and resampling on [B, C, H, W] inputs.
	AvgPool2D(l Layout, kernel, stride [2]int) (Storage, error)
	MaxPool2D(l Layout, kernel, stride [2]int) (Storage, error)
	UpsampleNearest2D(l Layout, h, w int) (Storage, error)

	// CopyStridedSrc copies the elements addressed by srcL, in logical order,
	// into dst starting at element dstOffset.
	CopyStridedSrc(dst Storage, dstOffset int, srcL Layout) error
}

// Operation names as reported in errors and coverage reports.
const (
	OpClone             = "clone"
	OpToHost            = "to_host"
	OpAffine            = "affine"
	OpElu               = "elu"
	OpUnary             = "unary"
	OpBinary            = "binary"
	OpCmp               = "cmp"
	OpToDType           = "to_dtype"
	OpWhereCond         = "where_cond"
	OpReduce            = "reduce"
	OpIndexSelect       = "index_select"
	OpGather            = "gather"
	OpScatterAdd        = "scatter_add"
	OpIndexAdd          = "index_add"
	OpMatMul            = "matmul"
	OpConv1D            = "conv1d"
	OpConv2D            = "conv2d"
	OpAvgPool2D         = "avg_pool2d"
	OpMaxPool2D         = "max_pool2d"
	OpUpsampleNearest2D = "upsample_nearest2d"
	OpCopyStridedSrc    = "copy_strided_src"
	OpStorageFromHost   = "storage_from_host"
	OpZeros             = "zeros"
	OpOnes              = "ones"
	OpRandUniform       = "rand_uniform"
	OpRandNormal        = "rand_normal"
)

// SubOp names one operation of a family, e.g. "unary.exp" or "cmp.lt".
func SubOp(family string, op fmt.Stringer) string {
	return family + "." + op.String()
}

// MatMulDims describes a batched matrix multiplication [B, M, K] x [B, K, N].
type MatMulDims struct {
	B, M, N, K int
}

// Conv1DParams describes a 1D convolution over [B, CIn, LIn] with a [COut, CIn, K] kernel.
type Conv1DParams struct {
	Batch    int
	LIn      int
	COut     int
	CIn      int
	KSize    int
	Padding  int
	Stride   int
	Dilation int
}

// LOut returns the output length.
func (p Conv1DParams) LOut() int {
	return (p.LIn+2*p.Padding-p.Dilation*(p.KSize-1)-1)/p.Stride + 1
}

// Conv2DParams describes a 2D convolution over [B, CIn, H, W] with a [COut, CIn, KH, KW] kernel.
type Conv2DParams struct {
	Batch    int
	IH, IW   int
	KH, KW   int
	COut     int
	CIn      int
	Padding  int
	Stride   int
	Dilation int
}

// OutH returns the output height.
func (p Conv2DParams) OutH() int {
	return (p.IH+2*p.Padding-p.Dilation*(p.KH-1)-1)/p.Stride + 1
}

// OutW returns the output width.
func (p Conv2DParams) OutW() int {
	return (p.IW+2*p.Padding-p.Dilation*(p.KW-1)-1)/p.Stride + 1
}
