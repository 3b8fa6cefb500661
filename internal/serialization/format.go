package serialization

import (
	"encoding/json"
	"fmt"

	"github.com/born-ml/compute/internal/tensor"
)

// Format constants.
const (
	MetadataKey     = "__metadata__"
	HeaderAlignment = 8 // JSON header is space padded to this multiple
	sizePrefixLen   = 8
)

// Tensor is one named entry of a file: host data and its shape.
type Tensor struct {
	Shape tensor.Shape
	Data  *tensor.HostStorage
}

// NewTensor pairs data with shape. The shape must address exactly the
// elements of data.
func NewTensor(shape tensor.Shape, data *tensor.HostStorage) (Tensor, error) {
	if err := shape.Validate(); err != nil {
		return Tensor{}, err
	}
	if shape.NumElements() != data.Len() {
		return Tensor{}, fmt.Errorf("%w: shape %v has %d elements, data has %d",
			ErrSizeMismatch, shape, shape.NumElements(), data.Len())
	}
	return Tensor{Shape: shape.Clone(), Data: data}, nil
}

// safetensors dtype names.
var dtypeNames = map[tensor.DType]string{
	tensor.U8:   "U8",
	tensor.U32:  "U32",
	tensor.I64:  "I64",
	tensor.BF16: "BF16",
	tensor.F16:  "F16",
	tensor.F32:  "F32",
	tensor.F64:  "F64",
}

// DTypeName returns the safetensors name of dt.
func DTypeName(dt tensor.DType) (string, error) {
	name, ok := dtypeNames[dt]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDType, dt)
	}
	return name, nil
}

// ParseDTypeName converts a safetensors dtype name.
func ParseDTypeName(name string) (tensor.DType, error) {
	for dt, n := range dtypeNames {
		if n == name {
			return dt, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedDType, name)
}

// TensorInfo describes a tensor in the JSON header.
type TensorInfo struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"` // [start, end) within the data section
}

// Size returns the byte length of the tensor data.
func (i TensorInfo) Size() int64 {
	return i.DataOffsets[1] - i.DataOffsets[0]
}

// Header is the decoded JSON header.
type Header struct {
	Metadata map[string]string
	Tensors  map[string]TensorInfo
}

// MarshalJSON implements json.Marshaler. Tensor entries and the metadata
// entry share one JSON object.
func (h Header) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(h.Tensors)+1)
	if len(h.Metadata) > 0 {
		m[MetadataKey] = h.Metadata
	}
	for name, info := range h.Tensors {
		m[name] = info
	}
	return json.Marshal(m)
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *Header) UnmarshalJSON(data []byte) error {
	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawMap); err != nil {
		return err
	}

	if metadataRaw, ok := rawMap[MetadataKey]; ok {
		if err := json.Unmarshal(metadataRaw, &h.Metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	h.Tensors = make(map[string]TensorInfo, len(rawMap))
	for key, value := range rawMap {
		if key == MetadataKey {
			continue
		}
		var info TensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return fmt.Errorf("failed to unmarshal tensor %s: %w", key, err)
		}
		h.Tensors[key] = info
	}
	return nil
}
