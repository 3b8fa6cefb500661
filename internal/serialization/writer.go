package serialization

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
)

// Encode writes tensors and metadata to w in safetensors format.
//
// Tensors are laid out in alphabetical order by name. The SHA-256 of the data
// section is added to the metadata under ChecksumKey; metadata itself is not
// modified.
func Encode(w io.Writer, tensors map[string]Tensor, metadata map[string]string) error {
	if len(tensors) > MaxTensorCount {
		return &ValidationError{
			Kind:    ErrTooManyTensors,
			Details: fmt.Sprintf("got %d, max %d", len(tensors), MaxTensorCount),
		}
	}

	names := slices.Sorted(maps.Keys(tensors))
	header := Header{
		Metadata: maps.Clone(metadata),
		Tensors:  make(map[string]TensorInfo, len(tensors)),
	}
	if header.Metadata == nil {
		header.Metadata = make(map[string]string, 1)
	}

	// Calculate data offsets for each tensor
	parts := make([][]byte, len(names))
	var offset int64
	for i, name := range names {
		if err := ValidateTensorName(name); err != nil {
			return err
		}
		t := tensors[name]
		if t.Data == nil {
			return fmt.Errorf("tensor %s: no data", name)
		}
		if _, err := NewTensor(t.Shape, t.Data); err != nil {
			return fmt.Errorf("tensor %s: %w", name, err)
		}
		dtype, err := DTypeName(t.Data.DType())
		if err != nil {
			return fmt.Errorf("tensor %s: %w", name, err)
		}

		parts[i] = t.Data.Bytes()
		size := int64(len(parts[i]))
		header.Tensors[name] = TensorInfo{
			DType:       dtype,
			Shape:       slices.Clone([]int(t.Shape)),
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
	}
	sum := checksumParts(parts)
	header.Metadata[ChecksumKey] = hex.EncodeToString(sum[:])

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if pad := len(headerJSON) % HeaderAlignment; pad != 0 {
		headerJSON = append(headerJSON, strings.Repeat(" ", HeaderAlignment-pad)...)
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, name := range names {
		if _, err := w.Write(parts[i]); err != nil {
			return fmt.Errorf("failed to write tensor %s: %w", name, err)
		}
	}
	return nil
}

// WriteFile writes tensors and metadata to a safetensors file at path.
func WriteFile(path string, tensors map[string]Tensor, metadata map[string]string) (err error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for saving
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	bw := bufio.NewWriter(file)
	if err := Encode(bw, tensors, metadata); err != nil {
		return err
	}
	return bw.Flush()
}
