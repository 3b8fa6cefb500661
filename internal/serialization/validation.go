package serialization

import (
	"fmt"
	"sort"
	"strings"

	"github.com/born-ml/compute/internal/tensor"
)

// Validation limits for security and resource protection.
const (
	MaxHeaderSize    = 100 * 1024 * 1024 // 100MB - maximum header size
	MaxTensorCount   = 100_000           // Maximum number of tensors in a file
	MaxTensorNameLen = 4096              // Maximum tensor name length
)

// ValidationLevel controls the strictness of validation.
type ValidationLevel int

const (
	// ValidationStrict performs all validation checks (default, recommended for production).
	ValidationStrict ValidationLevel = iota
	// ValidationNormal checks names, dtypes and sizes but not offset overlap.
	ValidationNormal
	// ValidationNone skips validation (dangerous! Use only with trusted input).
	ValidationNone
)

// ValidateTensorOffsets checks for overlapping tensor offsets and out-of-bounds access.
// Malformed files could otherwise alias tensors or read past the data section.
func ValidateTensorOffsets(tensors map[string]TensorInfo, dataSize int64) error {
	if len(tensors) > MaxTensorCount {
		return &ValidationError{
			Kind:    ErrTooManyTensors,
			Details: fmt.Sprintf("got %d, max %d", len(tensors), MaxTensorCount),
		}
	}

	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := tensors[names[i]].DataOffsets[0], tensors[names[j]].DataOffsets[0]
		if a != b {
			return a < b
		}
		return names[i] < names[j]
	})

	for i, name := range names {
		t := tensors[name]
		start, end := t.DataOffsets[0], t.DataOffsets[1]
		if start < 0 || end < start {
			return &ValidationError{
				Kind:    ErrNegativeOffset,
				Tensor:  name,
				Details: fmt.Sprintf("data_offsets [%d, %d]", start, end),
			}
		}

		if end > dataSize {
			return &ValidationError{
				Kind:    ErrOutOfBounds,
				Tensor:  name,
				Details: fmt.Sprintf("end %d > data_size %d", end, dataSize),
			}
		}

		if i < len(names)-1 {
			next := tensors[names[i+1]]
			if end > next.DataOffsets[0] {
				return &ValidationError{
					Kind:    ErrOffsetOverlap,
					Tensor:  name,
					Tensor2: names[i+1],
					Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap",
						start, end, next.DataOffsets[0], next.DataOffsets[1]),
				}
			}
		}
	}

	return nil
}

// ValidateTensorName checks tensor names for path traversal attacks and malicious patterns.
func ValidateTensorName(name string) error {
	if name == "" || name == MetadataKey {
		return &ValidationError{
			Kind:    ErrInvalidTensorName,
			Tensor:  name,
			Details: "reserved or empty name",
		}
	}

	if len(name) > MaxTensorNameLen {
		return &ValidationError{
			Kind:    ErrTensorNameTooLong,
			Tensor:  name,
			Details: fmt.Sprintf("length %d > max %d", len(name), MaxTensorNameLen),
		}
	}

	if strings.Contains(name, "..") {
		return &ValidationError{
			Kind:    ErrInvalidTensorName,
			Tensor:  name,
			Details: "contains '..' (path traversal attempt)",
		}
	}

	if strings.Contains(name, "/") || strings.Contains(name, "\\") {
		return &ValidationError{
			Kind:    ErrInvalidTensorName,
			Tensor:  name,
			Details: "contains path separator (/ or \\)",
		}
	}

	if strings.Contains(name, "\x00") {
		return &ValidationError{
			Kind:    ErrInvalidTensorName,
			Tensor:  name,
			Details: "contains null byte",
		}
	}

	return nil
}

// ValidateTensorInfo checks that info names a known dtype, a valid shape,
// and a byte range of exactly the right size.
func ValidateTensorInfo(name string, info TensorInfo) error {
	dt, err := ParseDTypeName(info.DType)
	if err != nil {
		return &ValidationError{Kind: ErrUnsupportedDType, Tensor: name, Details: fmt.Sprintf("dtype %q", info.DType)}
	}
	shape := tensor.Shape(info.Shape)
	if err := shape.Validate(); err != nil {
		return &ValidationError{Kind: ErrSizeMismatch, Tensor: name, Details: err.Error()}
	}
	if want := int64(shape.NumElements() * dt.Size()); info.Size() != want {
		return &ValidationError{
			Kind:    ErrSizeMismatch,
			Tensor:  name,
			Details: fmt.Sprintf("%s%v needs %d bytes, data_offsets span %d", info.DType, info.Shape, want, info.Size()),
		}
	}
	return nil
}

// ValidateHeader performs comprehensive header validation.
func ValidateHeader(h *Header, dataSize int64, level ValidationLevel) error {
	if level == ValidationNone {
		return nil
	}

	if len(h.Tensors) > MaxTensorCount {
		return &ValidationError{
			Kind:    ErrTooManyTensors,
			Details: fmt.Sprintf("got %d, max %d", len(h.Tensors), MaxTensorCount),
		}
	}

	for name, info := range h.Tensors {
		if err := ValidateTensorName(name); err != nil {
			return err
		}
		if err := ValidateTensorInfo(name, info); err != nil {
			return err
		}
	}

	// Offset checks sort every entry; strict mode only.
	if level == ValidationStrict {
		if err := ValidateTensorOffsets(h.Tensors, dataSize); err != nil {
			return err
		}
	}

	return nil
}
