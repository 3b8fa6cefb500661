// Package coverage enumerates which operations a backend implements.
//
// Probe calls every operation of the dispatch contract once with small,
// well-formed F32 inputs and classifies the outcome. A backend op is Covered
// when it returns a result, Unimplemented when it fails with
// tensor.ErrUnimplemented, and Failed for any other error or a panic.
package coverage

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/born-ml/compute/internal/logger"
	"github.com/born-ml/compute/internal/tensor"
)

// Status classifies the outcome of one probe.
type Status int

// Probe outcomes.
const (
	Covered Status = iota
	Unimplemented
	Failed
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case Covered:
		return "covered"
	case Unimplemented:
		return "unimplemented"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Entry is the outcome of probing one operation.
type Entry struct {
	Op     string
	Status Status
	Err    error // Set for Unimplemented and Failed
}

// Report lists the probe outcome of every operation of one backend.
type Report struct {
	Backend  string
	Location tensor.Location
	Entries  []Entry
}

// Count returns the number of entries with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, e := range r.Entries {
		if e.Status == s {
			n++
		}
	}
	return n
}

// Unimplemented returns the names of the operations the backend does not provide.
func (r *Report) Unimplemented() []string {
	return r.ops(Unimplemented)
}

// Failures returns the names of the operations that failed unexpectedly.
func (r *Report) Failures() []string {
	return r.ops(Failed)
}

func (r *Report) ops(s Status) []string {
	var out []string
	for _, e := range r.Entries {
		if e.Status == s {
			out = append(out, e.Op)
		}
	}
	return out
}

// Lookup returns the entry for op.
func (r *Report) Lookup(op string) (Entry, bool) {
	for _, e := range r.Entries {
		if e.Op == op {
			return e, true
		}
	}
	return Entry{}, false
}

// String renders the report as a table followed by a summary line.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "backend %s (%s)\n", r.Backend, r.Location)
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OP\tSTATUS\tDETAIL")
	for _, e := range r.Entries {
		detail := ""
		if e.Status == Failed && e.Err != nil {
			detail = e.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Op, e.Status, detail)
	}
	_ = w.Flush()
	fmt.Fprintf(&b, "%d covered, %d unimplemented, %d failed\n",
		r.Count(Covered), r.Count(Unimplemented), r.Count(Failed))
	return b.String()
}

// classify maps the error of a probe call onto a Status.
func classify(err error) Status {
	switch {
	case err == nil:
		return Covered
	case errors.Is(err, tensor.ErrUnimplemented):
		return Unimplemented
	default:
		return Failed
	}
}

// probe is one operation call.
type probe struct {
	op   string
	call func() error
}

// run calls p and records its outcome. A panic is recorded as a failure.
func (r *Report) run(p probe) {
	var err error
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		err = p.call()
	}()

	e := Entry{Op: p.op, Status: classify(err)}
	if e.Status != Covered {
		e.Err = err
	}
	if e.Status == Unimplemented {
		logger.Log.Debug("coverage: unimplemented op", "backend", r.Backend, "op", p.op)
	}
	r.Entries = append(r.Entries, e)
}

// inputs holds the operands shared by every probe.
type inputs struct {
	x, kernel, cond, ids, ids2, dst tensor.Storage
}

func upload(dev tensor.Device) (*inputs, error) {
	hosts := []*tensor.HostStorage{
		tensor.FromSlice([]float32{1, 2, 3, 4}),
		tensor.FromSlice([]float32{1}),
		tensor.FromSlice([]uint8{1, 0, 1, 0}),
		tensor.FromSlice([]uint32{1, 0}),
		tensor.FromSlice([]uint32{1, 0, 0, 1}),
		tensor.FromSlice([]float32{0, 0, 0, 0}),
	}
	out := make([]tensor.Storage, len(hosts))
	for i, h := range hosts {
		s, err := dev.StorageFromHost(h)
		if err != nil {
			return nil, fmt.Errorf("coverage: upload probe input: %w", err)
		}
		out[i] = s
	}
	return &inputs{x: out[0], kernel: out[1], cond: out[2], ids: out[3], ids2: out[4], dst: out[5]}, nil
}

// Probe exercises every operation of dev and reports which are implemented.
// It fails only when the probe inputs cannot be created.
func Probe(dev tensor.Device) (*Report, error) {
	in, err := upload(dev)
	if err != nil {
		return nil, err
	}
	r := &Report{Backend: dev.Name(), Location: dev.Location()}
	for _, p := range probes(dev, in) {
		r.run(p)
	}
	logger.Log.Info("coverage: probe finished", "backend", r.Backend,
		"covered", r.Count(Covered), "unimplemented", r.Count(Unimplemented), "failed", r.Count(Failed))
	return r, nil
}

// storageCall adapts an operation returning a storage.
func storageCall(f func() (tensor.Storage, error)) func() error {
	return func() error {
		_, err := f()
		return err
	}
}

func probes(dev tensor.Device, in *inputs) []probe {
	x := in.x
	flat := tensor.Contiguous(tensor.Shape{4})
	mat := tensor.Contiguous(tensor.Shape{2, 2})
	img := tensor.Contiguous(tensor.Shape{1, 1, 2, 2})
	seq := tensor.Contiguous(tensor.Shape{1, 1, 4})
	shape := tensor.Shape{2, 2}

	ps := []probe{
		{tensor.OpZeros, storageCall(func() (tensor.Storage, error) { return dev.Zeros(shape, tensor.F32) })},
		{tensor.OpOnes, storageCall(func() (tensor.Storage, error) { return dev.Ones(shape, tensor.F32) })},
		{tensor.OpRandUniform, storageCall(func() (tensor.Storage, error) { return dev.RandUniform(shape, tensor.F32, 0, 1) })},
		{tensor.OpRandNormal, storageCall(func() (tensor.Storage, error) { return dev.RandNormal(shape, tensor.F32, 0, 1) })},
		{tensor.OpClone, storageCall(func() (tensor.Storage, error) { return x.Clone(flat) })},
		{tensor.OpToHost, func() error { _, err := x.ToHost(); return err }},
		{tensor.OpCopyStridedSrc, func() error { return x.CopyStridedSrc(in.dst, 0, flat) }},
		{tensor.OpAffine, storageCall(func() (tensor.Storage, error) { return x.Affine(flat, 2, 1) })},
		{tensor.OpElu, storageCall(func() (tensor.Storage, error) { return x.Elu(flat, 1) })},
	}
	for _, op := range tensor.AllUnaryOps {
		ps = append(ps, probe{tensor.SubOp(tensor.OpUnary, op), storageCall(func() (tensor.Storage, error) {
			return x.Unary(op, flat)
		})})
	}
	for _, op := range tensor.AllBinaryOps {
		ps = append(ps, probe{tensor.SubOp(tensor.OpBinary, op), storageCall(func() (tensor.Storage, error) {
			return x.Binary(op, x, flat, flat)
		})})
	}
	for _, op := range tensor.AllCmpOps {
		ps = append(ps, probe{tensor.SubOp(tensor.OpCmp, op), storageCall(func() (tensor.Storage, error) {
			return x.Cmp(op, x, flat, flat)
		})})
	}
	for _, op := range tensor.AllReduceOps {
		ps = append(ps, probe{tensor.SubOp(tensor.OpReduce, op), storageCall(func() (tensor.Storage, error) {
			return x.Reduce(op, mat, []int{1})
		})})
	}

	conv1 := tensor.Conv1DParams{Batch: 1, LIn: 4, COut: 1, CIn: 1, KSize: 1, Stride: 1, Dilation: 1}
	conv2 := tensor.Conv2DParams{Batch: 1, IH: 2, IW: 2, KH: 1, KW: 1, COut: 1, CIn: 1, Stride: 1, Dilation: 1}
	k1 := tensor.Contiguous(tensor.Shape{1, 1, 1})
	k2 := tensor.Contiguous(tensor.Shape{1, 1, 1, 1})
	window := [2]int{2, 2}

	return append(ps,
		probe{tensor.OpToDType, storageCall(func() (tensor.Storage, error) { return x.ToDType(flat, tensor.F16) })},
		probe{tensor.OpWhereCond, storageCall(func() (tensor.Storage, error) { return in.cond.WhereCond(flat, x, flat, x, flat) })},
		probe{tensor.OpIndexSelect, storageCall(func() (tensor.Storage, error) {
			return x.IndexSelect(in.ids, mat, tensor.Contiguous(tensor.Shape{2}), 0)
		})},
		probe{tensor.OpGather, storageCall(func() (tensor.Storage, error) { return x.Gather(mat, in.ids2, mat, 1) })},
		probe{tensor.OpScatterAdd, storageCall(func() (tensor.Storage, error) { return x.ScatterAdd(mat, in.ids2, mat, x, mat, 1) })},
		probe{tensor.OpIndexAdd, storageCall(func() (tensor.Storage, error) {
			return x.IndexAdd(mat, in.ids, tensor.Contiguous(tensor.Shape{2}), x, mat, 0)
		})},
		probe{tensor.OpMatMul, storageCall(func() (tensor.Storage, error) {
			return x.MatMul(x, tensor.MatMulDims{B: 1, M: 2, N: 2, K: 2}, mat, mat)
		})},
		probe{tensor.OpConv1D, storageCall(func() (tensor.Storage, error) { return x.Conv1D(seq, in.kernel, k1, conv1) })},
		probe{tensor.OpConv2D, storageCall(func() (tensor.Storage, error) { return x.Conv2D(img, in.kernel, k2, conv2) })},
		probe{tensor.OpAvgPool2D, storageCall(func() (tensor.Storage, error) { return x.AvgPool2D(img, window, window) })},
		probe{tensor.OpMaxPool2D, storageCall(func() (tensor.Storage, error) { return x.MaxPool2D(img, window, window) })},
		probe{tensor.OpUpsampleNearest2D, storageCall(func() (tensor.Storage, error) { return x.UpsampleNearest2D(img, 4, 4) })},
	)
}
