// Package stub provides a placeholder backend that implements nothing.
//
// The device holds no connection and storages hold no data: StorageFromHost
// records the dtype and element count, and every other operation, including
// ToHost, fails with tensor.ErrUnimplemented. The package exists to exercise
// the unimplemented pathway of the dispatch contract and as a starting point
// for new backends.
package stub

import (
	"fmt"

	"github.com/born-ml/compute/internal/logger"
	"github.com/born-ml/compute/internal/metrics"
	"github.com/born-ml/compute/internal/tensor"
)

const backendName = "stub"

// Device is the placeholder device. The zero value is ready to use.
type Device struct{}

// New returns a stub device.
func New() *Device { return &Device{} }

// Name implements tensor.Device.
func (d *Device) Name() string { return backendName }

// Location implements tensor.Device.
func (d *Device) Location() tensor.Location { return tensor.Location{Kind: backendName} }

// SameDevice implements tensor.Device.
func (d *Device) SameDevice(other tensor.Device) bool {
	_, ok := other.(*Device)
	return ok
}

// Synchronize implements tensor.Device. There is never pending work.
func (d *Device) Synchronize() error { return nil }

// String implements fmt.Stringer.
func (d *Device) String() string { return "Stub" }

// StorageFromHost implements tensor.Device. Only the dtype and length of h
// are kept.
func (d *Device) StorageFromHost(h *tensor.HostStorage) (tensor.Storage, error) {
	return &Storage{dev: d, dtype: h.DType(), count: h.Len()}, nil
}

// Zeros implements tensor.Device.
func (d *Device) Zeros(tensor.Shape, tensor.DType) (tensor.Storage, error) {
	return nil, unimplemented(tensor.OpZeros)
}

// Ones implements tensor.Device.
func (d *Device) Ones(tensor.Shape, tensor.DType) (tensor.Storage, error) {
	return nil, unimplemented(tensor.OpOnes)
}

// RandUniform implements tensor.Device.
func (d *Device) RandUniform(tensor.Shape, tensor.DType, float64, float64) (tensor.Storage, error) {
	return nil, unimplemented(tensor.OpRandUniform)
}

// RandNormal implements tensor.Device.
func (d *Device) RandNormal(tensor.Shape, tensor.DType, float64, float64) (tensor.Storage, error) {
	return nil, unimplemented(tensor.OpRandNormal)
}

// Storage is a placeholder storage tagged with a dtype and element count.
type Storage struct {
	dev   *Device
	dtype tensor.DType
	count int
}

// DType implements tensor.Storage.
func (s *Storage) DType() tensor.DType { return s.dtype }

// Device implements tensor.Storage.
func (s *Storage) Device() tensor.Device { return s.dev }

// Len returns the recorded element count.
func (s *Storage) Len() int { return s.count }

// String implements fmt.Stringer.
func (s *Storage) String() string {
	return fmt.Sprintf("stub.Storage(%s, len=%d)", s.dtype, s.count)
}

func unimplemented(op string) error {
	metrics.UnimplementedOps.WithLabelValues(backendName, op).Inc()
	logger.Log.Debug("stub: unimplemented op", "op", op)
	return tensor.Unimplemented(backendName, op)
}

// Clone implements tensor.Storage.
func (s *Storage) Clone(tensor.Layout) (tensor.Storage, error) {
	return nil, unimplemented(tensor.OpClone)
}

// ToHost implements tensor.Storage. The stub holds no data to read back.
func (s *Storage) ToHost() (*tensor.HostStorage, error) {
	return nil, unimplemented(tensor.OpToHost)
}

// Affine implements tensor.Storage.
func (s *Storage) Affine(tensor.Layout, float64, float64) (tensor.Storage, error) {
	return nil, unimplemented(tensor.OpAffine)
}

// Elu implements tensor.Storage.
func (s *Storage) Elu(tensor.Layout, float64) (tensor.Storage, error) {
	return nil, unimplemented(tensor.OpElu)
}

// Unary implements tensor.Storage.
func (s *Storage) Unary(op tensor.UnaryOp, _ tensor.Layout) (tensor.Storage, error) {
	return nil, unimplemented(tensor.SubOp(tensor.OpUnary, op))
}

// Binary implements tensor.Storage.
func (s *Storage) Binary(op tensor.BinaryOp, _ tensor.Storage, _, _ tensor.Layout) (tensor.Storage, error) {
	return nil, unimplemented(tensor.SubOp(tensor.OpBinary, op))
}

// Cmp implements tensor.Storage.
func (s *Storage) Cmp(op tensor.CmpOp, _ tensor.Storage, _, _ tensor.Layout) (tensor.Storage, error) {
	return nil, unimplemented(tensor.SubOp(tensor.OpCmp, op))
}

// ToDType implements tensor.Storage.
func (s *Storage) ToDType(tensor.Layout, tensor.DType) (tensor.Storage, error) {
	return nil, unimplemented(tensor.OpToDType)
}

// WhereCond implements tensor.Storage.
func (s *Storage) WhereCond(tensor.Layout, tensor.Storage, tensor.Layout, tensor.Storage, tensor.Layout) (tensor.Storage, error) {
	return nil, unimplemented(tensor.OpWhereCond)
}

// Reduce implements tensor.Storage.
func (s *Storage) Reduce(op tensor.ReduceOp, _ tensor.Layout, _ []int) (tensor.Storage, error) {
	return nil, unimplemented(tensor.SubOp(tensor.OpReduce, op))
}

// IndexSelect implements tensor.Storage.
func (s *Storage) IndexSelect(tensor.Storage, tensor.Layout, tensor.Layout, int) (tensor.Storage, error) {
	return nil, unimplemented(tensor.OpIndexSelect)
}

// Gather implements tensor.Storage.
func (s *Storage) Gather(tensor.Layout, tensor.Storage, tensor.Layout, int) (tensor.Storage, error) {
	return nil, unimplemented(tensor.OpGather)
}

// ScatterAdd implements tensor.Storage.
func (s *Storage) ScatterAdd(tensor.Layout, tensor.Storage, tensor.Layout, tensor.Storage, tensor.Layout, int) (tensor.Storage, error) {
	return nil, unimplemented(tensor.OpScatterAdd)
}

// IndexAdd implements tensor.Storage.
func (s *Storage) IndexAdd(tensor.Layout, tensor.Storage, tensor.Layout, tensor.Storage, tensor.Layout, int) (tensor.Storage, error) {
	return nil, unimplemented(tensor.OpIndexAdd)
}

// MatMul implements tensor.Storage.
func (s *Storage) MatMul(tensor.Storage, tensor.MatMulDims, tensor.Layout, tensor.Layout) (tensor.Storage, error) {
	return nil, unimplemented(tensor.OpMatMul)
}

// Conv1D implements tensor.Storage.
func (s *Storage) Conv1D(tensor.Layout, tensor.Storage, tensor.Layout, tensor.Conv1DParams) (tensor.Storage, error) {
	return nil, unimplemented(tensor.OpConv1D)
}

// Conv2D implements tensor.Storage.
func (s *Storage) Conv2D(tensor.Layout, tensor.Storage, tensor.Layout, tensor.Conv2DParams) (tensor.Storage, error) {
	return nil, unimplemented(tensor.OpConv2D)
}

// AvgPool2D implements tensor.Storage.
func (s *Storage) AvgPool2D(tensor.Layout, [2]int, [2]int) (tensor.Storage, error) {
	return nil, unimplemented(tensor.OpAvgPool2D)
}

// MaxPool2D implements tensor.Storage.
func (s *Storage) MaxPool2D(tensor.Layout, [2]int, [2]int) (tensor.Storage, error) {
	return nil, unimplemented(tensor.OpMaxPool2D)
}

// UpsampleNearest2D implements tensor.Storage.
func (s *Storage) UpsampleNearest2D(tensor.Layout, int, int) (tensor.Storage, error) {
	return nil, unimplemented(tensor.OpUpsampleNearest2D)
}

// CopyStridedSrc implements tensor.Storage.
func (s *Storage) CopyStridedSrc(tensor.Storage, int, tensor.Layout) error {
	return unimplemented(tensor.OpCopyStridedSrc)
}

var (
	_ tensor.Device  = (*Device)(nil)
	_ tensor.Storage = (*Storage)(nil)
)
