package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/born-ml/compute/internal/tensor"
)

// File is a decoded safetensors file. Tensor data stays in the backing
// buffer, which is either a heap slice or a read-only memory mapping.
type File struct {
	header Header
	data   []byte // data section
	unmap  func() error
	closed bool
}

// Decode parses a safetensors file held in b. b is retained, not copied.
func Decode(b []byte) (*File, error) {
	return decode(b, ValidationStrict)
}

// DecodeWithLevel parses b with the given validation level.
func DecodeWithLevel(b []byte, level ValidationLevel) (*File, error) {
	return decode(b, level)
}

func decode(b []byte, level ValidationLevel) (*File, error) {
	size := int64(len(b))
	if size < sizePrefixLen {
		return nil, fmt.Errorf("file too small: %d bytes (minimum %d bytes required)", size, sizePrefixLen)
	}

	headerSize := binary.LittleEndian.Uint64(b[:sizePrefixLen])
	if headerSize > MaxHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, headerSize)
	}
	headerEnd := sizePrefixLen + int64(headerSize) //nolint:gosec // G115: bounded by MaxHeaderSize
	if headerEnd > size {
		return nil, fmt.Errorf("header extends beyond file: header_end=%d, file_size=%d", headerEnd, size)
	}

	var header Header
	if err := json.Unmarshal(b[sizePrefixLen:headerEnd], &header); err != nil {
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	f := &File{header: header, data: b[headerEnd:]}
	if err := ValidateHeader(&f.header, int64(len(f.data)), level); err != nil {
		return nil, fmt.Errorf("header validation failed: %w", err)
	}
	if level != ValidationNone {
		if err := f.VerifyChecksum(); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// ReadFile reads and decodes the file at path into memory.
func ReadFile(path string) (*File, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for loading
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Decode(b)
}

// Open memory-maps the file at path and decodes its header. Tensor data is
// paged in on access.
//
// Important: Always call Close() when done to unmap the file (use defer).
func Open(path string) (*File, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for loading
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }() // The mapping outlives the descriptor.

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if stat.Size() < sizePrefixLen {
		return nil, fmt.Errorf("file too small: %d bytes (minimum %d bytes required)", stat.Size(), sizePrefixLen)
	}

	data, err := mmapFile(file, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	f, err := Decode(data)
	if err != nil {
		_ = munmapFile(data)
		return nil, err
	}
	f.unmap = func() error { return munmapFile(data) }
	return f, nil
}

// Close releases the memory mapping, if any. Data returned by Raw becomes
// invalid.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	f.data = nil
	if f.unmap != nil {
		return f.unmap()
	}
	return nil
}

// Metadata returns the metadata map from the header.
func (f *File) Metadata() map[string]string {
	return f.header.Metadata
}

// Names returns the tensor names in alphabetical order.
func (f *File) Names() []string {
	return slices.Sorted(maps.Keys(f.header.Tensors))
}

// Len returns the number of tensors.
func (f *File) Len() int { return len(f.header.Tensors) }

// Info returns the header entry for name.
func (f *File) Info(name string) (TensorInfo, error) {
	info, ok := f.header.Tensors[name]
	if !ok {
		return TensorInfo{}, fmt.Errorf("%w: %q", ErrTensorNotFound, name)
	}
	return info, nil
}

// Raw returns a zero-copy slice of the tensor bytes. The slice is valid only
// while the file is open and must not be written to.
func (f *File) Raw(name string) ([]byte, error) {
	if f.closed {
		return nil, ErrClosed
	}
	info, err := f.Info(name)
	if err != nil {
		return nil, err
	}
	start, end := info.DataOffsets[0], info.DataOffsets[1]
	if start < 0 || end < start || end > int64(len(f.data)) {
		return nil, fmt.Errorf("%w: tensor %q: data_offsets [%d, %d], data_size %d",
			ErrOutOfBounds, name, start, end, len(f.data))
	}
	return f.data[start:end], nil
}

// Tensor copies the named tensor into a new host storage.
func (f *File) Tensor(name string) (Tensor, error) {
	raw, err := f.Raw(name)
	if err != nil {
		return Tensor{}, err
	}
	info, _ := f.Info(name)
	dt, err := ParseDTypeName(info.DType)
	if err != nil {
		return Tensor{}, fmt.Errorf("tensor %s: %w", name, err)
	}
	h, err := tensor.FromBytes(dt, raw)
	if err != nil {
		return Tensor{}, fmt.Errorf("tensor %s: %w", name, err)
	}
	return NewTensor(tensor.Shape(slices.Clone(info.Shape)), h)
}

// Tensors copies every tensor of the file.
func (f *File) Tensors() (map[string]Tensor, error) {
	out := make(map[string]Tensor, f.Len())
	for name := range f.header.Tensors {
		t, err := f.Tensor(name)
		if err != nil {
			return nil, err
		}
		out[name] = t
	}
	return out, nil
}

// VerifyChecksum checks the data section against the checksum recorded in
// the metadata. Files without a recorded checksum pass.
func (f *File) VerifyChecksum() error {
	stored, ok := f.header.Metadata[ChecksumKey]
	if !ok {
		return nil
	}
	want, err := parseChecksum(stored)
	if err != nil {
		return err
	}
	return ValidateChecksum(ComputeChecksum(f.data), want)
}
