// Package arrowio exchanges host storages with Apache Arrow.
//
// A single storage maps onto a primitive Arrow array sharing its bytes. A set
// of named tensors maps onto a one-row record: each tensor is a column of
// type FixedSizeList<T>[n], and the field metadata records the dtype and
// shape. BF16 has no Arrow counterpart and travels as Uint16 with the dtype
// recorded in the field metadata.
package arrowio

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/born-ml/compute/internal/serialization"
	"github.com/born-ml/compute/internal/tensor"
)

// Field metadata keys.
const (
	DTypeKey = "born.dtype"
	ShapeKey = "born.shape"
)

// ErrUnsupported reports an Arrow type or layout that has no storage equivalent.
var ErrUnsupported = errors.New("arrowio: unsupported arrow data")

// ArrowType returns the Arrow element type used for dt.
func ArrowType(dt tensor.DType) (arrow.DataType, error) {
	switch dt {
	case tensor.U8:
		return arrow.PrimitiveTypes.Uint8, nil
	case tensor.U32:
		return arrow.PrimitiveTypes.Uint32, nil
	case tensor.I64:
		return arrow.PrimitiveTypes.Int64, nil
	case tensor.BF16:
		return arrow.PrimitiveTypes.Uint16, nil
	case tensor.F16:
		return arrow.FixedWidthTypes.Float16, nil
	case tensor.F32:
		return arrow.PrimitiveTypes.Float32, nil
	case tensor.F64:
		return arrow.PrimitiveTypes.Float64, nil
	default:
		return nil, fmt.Errorf("%w: dtype %s", ErrUnsupported, dt)
	}
}

// ToArray wraps h as an Arrow array without copying. The array aliases the
// bytes of h and must not outlive changes to it.
func ToArray(h *tensor.HostStorage) (arrow.Array, error) {
	typ, err := ArrowType(h.DType())
	if err != nil {
		return nil, err
	}
	data := array.NewData(typ, h.Len(), []*memory.Buffer{nil, memory.NewBufferBytes(h.Bytes())}, nil, 0, 0)
	defer data.Release()
	return array.MakeFromData(data), nil
}

// FromArray copies arr into a new host storage of dtype dt. arr must have
// the Arrow type of dt and no nulls.
func FromArray(arr arrow.Array, dt tensor.DType) (*tensor.HostStorage, error) {
	typ, err := ArrowType(dt)
	if err != nil {
		return nil, err
	}
	if !arrow.TypeEqual(arr.DataType(), typ) {
		return nil, fmt.Errorf("%w: %s array for dtype %s", ErrUnsupported, arr.DataType(), dt)
	}
	if arr.NullN() > 0 {
		return nil, fmt.Errorf("%w: %d null values", ErrUnsupported, arr.NullN())
	}
	if arr.Len() == 0 {
		return tensor.NewHostStorage(dt, 0)
	}

	data := arr.Data()
	w := dt.Size()
	values := data.Buffers()[1].Bytes()
	start := data.Offset() * w
	return tensor.FromBytes(dt, values[start:start+arr.Len()*w])
}

func formatShape(s tensor.Shape) string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

func parseShape(s string) (tensor.Shape, error) {
	if s == "" {
		return tensor.Shape{}, nil
	}
	parts := strings.Split(s, ",")
	shape := make(tensor.Shape, len(parts))
	for i, p := range parts {
		d, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%w: shape %q: %w", ErrUnsupported, s, err)
		}
		shape[i] = d
	}
	return shape, shape.Validate()
}

// Schema returns the record schema for tensors, one field per name in
// alphabetical order.
func Schema(tensors map[string]serialization.Tensor) (*arrow.Schema, error) {
	names := slices.Sorted(maps.Keys(tensors))
	fields := make([]arrow.Field, len(names))
	for i, name := range names {
		t := tensors[name]
		typ, err := ArrowType(t.Data.DType())
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		fields[i] = arrow.Field{
			Name: name,
			Type: arrow.FixedSizeListOf(int32(t.Data.Len()), typ), //nolint:gosec // G115: checked in ToRecord
			Metadata: arrow.NewMetadata(
				[]string{DTypeKey, ShapeKey},
				[]string{t.Data.DType().String(), formatShape(t.Shape)},
			),
		}
	}
	return arrow.NewSchema(fields, nil), nil
}

// ToRecord builds a one-row record holding every tensor. Columns alias the
// tensor data. The caller must Release the record.
func ToRecord(tensors map[string]serialization.Tensor) (arrow.Record, error) {
	schema, err := Schema(tensors)
	if err != nil {
		return nil, err
	}
	cols := make([]arrow.Array, 0, len(tensors))
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()

	for _, f := range schema.Fields() {
		t := tensors[f.Name]
		if t.Data.Len() > int(^uint32(0)>>1) {
			return nil, fmt.Errorf("%w: tensor %s has %d elements", ErrUnsupported, f.Name, t.Data.Len())
		}
		values, err := ToArray(t.Data)
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", f.Name, err)
		}
		data := array.NewData(f.Type, 1, []*memory.Buffer{nil}, []arrow.ArrayData{values.Data()}, 0, 0)
		cols = append(cols, array.NewFixedSizeListData(data))
		data.Release()
		values.Release()
	}
	return array.NewRecord(schema, cols, 1), nil
}

func metadataValue(md arrow.Metadata, key string) (string, bool) {
	i := md.FindKey(key)
	if i < 0 {
		return "", false
	}
	return md.Values()[i], true
}

// FromRecord copies every column of a record built by ToRecord.
func FromRecord(rec arrow.Record) (map[string]serialization.Tensor, error) {
	if rec.NumRows() != 1 {
		return nil, fmt.Errorf("%w: record has %d rows, want 1", ErrUnsupported, rec.NumRows())
	}
	out := make(map[string]serialization.Tensor, rec.NumCols())
	for i, f := range rec.Schema().Fields() {
		t, err := fromColumn(f, rec.Column(i))
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", f.Name, err)
		}
		out[f.Name] = t
	}
	return out, nil
}

func fromColumn(f arrow.Field, col arrow.Array) (serialization.Tensor, error) {
	dtName, ok := metadataValue(f.Metadata, DTypeKey)
	if !ok {
		return serialization.Tensor{}, fmt.Errorf("%w: missing %s metadata", ErrUnsupported, DTypeKey)
	}
	dt, err := tensor.ParseDType(dtName)
	if err != nil {
		return serialization.Tensor{}, err
	}
	shapeStr, ok := metadataValue(f.Metadata, ShapeKey)
	if !ok {
		return serialization.Tensor{}, fmt.Errorf("%w: missing %s metadata", ErrUnsupported, ShapeKey)
	}
	shape, err := parseShape(shapeStr)
	if err != nil {
		return serialization.Tensor{}, err
	}

	list, ok := col.(*array.FixedSizeList)
	if !ok {
		return serialization.Tensor{}, fmt.Errorf("%w: column type %s", ErrUnsupported, col.DataType())
	}
	n := int64(shape.NumElements())
	off := int64(list.Data().Offset())
	values := array.NewSlice(list.ListValues(), off*n, (off+1)*n)
	defer values.Release()

	h, err := FromArray(values, dt)
	if err != nil {
		return serialization.Tensor{}, err
	}
	return serialization.NewTensor(shape, h)
}

// WriteIPC writes tensors to w as an Arrow IPC stream holding one record.
func WriteIPC(w io.Writer, tensors map[string]serialization.Tensor) error {
	rec, err := ToRecord(tensors)
	if err != nil {
		return err
	}
	defer rec.Release()

	iw := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(memory.DefaultAllocator))
	if err := iw.Write(rec); err != nil {
		_ = iw.Close()
		return fmt.Errorf("arrowio: write record: %w", err)
	}
	return iw.Close()
}

// ReadIPC reads the first record of an Arrow IPC stream written by WriteIPC.
func ReadIPC(r io.Reader) (map[string]serialization.Tensor, error) {
	ir, err := ipc.NewReader(r, ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, fmt.Errorf("arrowio: open stream: %w", err)
	}
	defer ir.Release()

	if !ir.Next() {
		if err := ir.Err(); err != nil {
			return nil, fmt.Errorf("arrowio: read record: %w", err)
		}
		return nil, fmt.Errorf("%w: stream holds no record", ErrUnsupported)
	}
	return FromRecord(ir.Record())
}
