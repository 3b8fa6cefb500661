package cpu

import (
	"errors"
	"fmt"

	"github.com/born-ml/compute/internal/tensor"
)

// Storage is a host-resident storage owned by a CPU device.
type Storage struct {
	dev  *Device
	host *tensor.HostStorage
}

// DType implements tensor.Storage.
func (s *Storage) DType() tensor.DType { return s.host.DType() }

// Device implements tensor.Storage.
func (s *Storage) Device() tensor.Device { return s.dev }

// Len returns the number of elements.
func (s *Storage) Len() int { return s.host.Len() }

// Host returns the backing host storage without copying.
func (s *Storage) Host() *tensor.HostStorage { return s.host }

// String implements fmt.Stringer.
func (s *Storage) String() string {
	return fmt.Sprintf("cpu.Storage(%s, len=%d)", s.host.DType(), s.host.Len())
}

// Clone implements tensor.Storage. The whole storage is copied so l stays
// valid for the clone.
func (s *Storage) Clone(l tensor.Layout) (tensor.Storage, error) {
	if err := s.checkLayout(tensor.OpClone, l); err != nil {
		return nil, err
	}
	return s.dev.wrap(s.host.Clone()), nil
}

// ToHost implements tensor.Storage. The result does not alias the storage.
func (s *Storage) ToHost() (*tensor.HostStorage, error) {
	return s.host.Clone(), nil
}

// CopyStridedSrc implements tensor.Storage.
func (s *Storage) CopyStridedSrc(dst tensor.Storage, dstOffset int, srcL tensor.Layout) error {
	const op = tensor.OpCopyStridedSrc
	d, err := s.peer(op, dst)
	if err != nil {
		return err
	}
	if err := tensor.CopyStrided(s.host, srcL, d.host, dstOffset); err != nil {
		return wrapError(op, err)
	}
	return nil
}

// peer converts other into a CPU storage.
func (s *Storage) peer(op string, other tensor.Storage) (*Storage, error) {
	o, ok := other.(*Storage)
	if !ok {
		return nil, tensor.Mismatch(backendName, op, fmt.Sprintf("cpu storage combined with %T", other))
	}
	return o, nil
}

func (s *Storage) checkLayout(op string, l tensor.Layout) error {
	if err := l.CheckBounds(s.host.Len()); err != nil {
		return tensor.NewBackendError(backendName, op, tensor.ErrLayout, err)
	}
	return nil
}

// contiguous gathers the elements addressed by l in row-major order.
func (s *Storage) contiguous(op string, l tensor.Layout) (*tensor.HostStorage, error) {
	if err := s.checkLayout(op, l); err != nil {
		return nil, err
	}
	h, err := s.host.Contiguous(l)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return h, nil
}

// operand gathers another storage of the same device with its layout.
func (s *Storage) operand(op string, other tensor.Storage, l tensor.Layout) (*tensor.HostStorage, error) {
	o, err := s.peer(op, other)
	if err != nil {
		return nil, err
	}
	return o.contiguous(op, l)
}

// wrapError classifies an error from the tensor package.
func wrapError(op string, err error) error {
	kind := tensor.ErrLayout
	if errors.Is(err, tensor.ErrDType) {
		kind = tensor.ErrDType
	}
	return tensor.NewBackendError(backendName, op, kind, err)
}

var (
	_ tensor.Device  = (*Device)(nil)
	_ tensor.Storage = (*Storage)(nil)
)
