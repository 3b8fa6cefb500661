package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/born-ml/compute/internal/arrowio"
	"github.com/born-ml/compute/internal/backend/coverage"
	"github.com/born-ml/compute/internal/backend/cpu"
	"github.com/born-ml/compute/internal/backend/webgpu"
	"github.com/born-ml/compute/internal/config"
	"github.com/born-ml/compute/internal/logger"
	"github.com/born-ml/compute/internal/serialization"
	"github.com/born-ml/compute/internal/tensor"
)

func cmdDevices(args []string, cfg config.Config, stdout, stderr io.Writer) error {
	fs := newFlagSet("devices", stderr)
	driver := fs.String("driver", cfg.Device.Driver, "driver to enumerate: auto, native or soft")
	if err := fs.Parse(args); err != nil {
		return err
	}

	infos, err := webgpu.ListAdapters(*driver)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "DRIVER\tORDINAL\tNAME\tVENDOR\tBACKEND")
	for _, a := range infos {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", a.Driver, a.Ordinal, a.Name, a.Vendor, a.Backend)
	}
	return tw.Flush()
}

func cmdCoverage(args []string, cfg config.Config, stdout, stderr io.Writer) error {
	fs := newFlagSet("coverage", stderr)
	backend := backendFlags(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return err
	}
	dev, release, err := openBackend(*backend, cfg)
	if err != nil {
		return err
	}
	defer release()

	report, err := coverage.Probe(dev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(stdout, report.String())
	return err
}

// step is one stage of the round-trip pipeline. It returns the new storage
// and its layout.
type step struct {
	name string
	run  func(s tensor.Storage, l tensor.Layout) (tensor.Storage, tensor.Layout, error)
}

var roundtripShape = tensor.Shape{2, 3}

// same keeps the layout of an element-wise result.
func same(s tensor.Storage, err error) func(l tensor.Layout) (tensor.Storage, tensor.Layout, error) {
	return func(l tensor.Layout) (tensor.Storage, tensor.Layout, error) {
		return s, tensor.Contiguous(l.Shape()), err
	}
}

func roundtripSteps(dev tensor.Device) []step {
	return []step{
		{"affine", func(s tensor.Storage, l tensor.Layout) (tensor.Storage, tensor.Layout, error) {
			return same(s.Affine(l, 2, 1))(l)
		}},
		{"binary.add", func(s tensor.Storage, l tensor.Layout) (tensor.Storage, tensor.Layout, error) {
			ones, err := dev.Ones(l.Shape(), s.DType())
			if err != nil {
				return nil, l, err
			}
			return same(s.Binary(tensor.Add, ones, l, tensor.Contiguous(l.Shape())))(l)
		}},
		{"unary.sqrt", func(s tensor.Storage, l tensor.Layout) (tensor.Storage, tensor.Layout, error) {
			return same(s.Unary(tensor.Sqrt, l))(l)
		}},
		{"clone", func(s tensor.Storage, l tensor.Layout) (tensor.Storage, tensor.Layout, error) {
			return same(s.Clone(l))(l)
		}},
		{"copy_strided_src", func(s tensor.Storage, l tensor.Layout) (tensor.Storage, tensor.Layout, error) {
			t, err := l.Transpose(0, 1)
			if err != nil {
				return nil, l, err
			}
			dst, err := dev.Zeros(t.Shape(), s.DType())
			if err != nil {
				return nil, l, err
			}
			if err := s.CopyStridedSrc(dst, 0, t); err != nil {
				return nil, l, err
			}
			return dst, tensor.Contiguous(t.Shape()), nil
		}},
	}
}

// pipeline runs every step on dev. Unimplemented steps are skipped and
// reported in skipped.
func pipeline(dev tensor.Device, in *tensor.HostStorage) (out *tensor.HostStorage, shape tensor.Shape, skipped []string, err error) {
	s, err := dev.StorageFromHost(in)
	if err != nil {
		return nil, nil, nil, err
	}
	l := tensor.Contiguous(roundtripShape)
	for _, st := range roundtripSteps(dev) {
		next, nl, err := st.run(s, l)
		switch {
		case tensor.IsUnimplemented(err):
			skipped = append(skipped, st.name)
			continue
		case err != nil:
			return nil, nil, nil, fmt.Errorf("%s: %w", st.name, err)
		}
		s, l = next, nl
	}
	if err := dev.Synchronize(); err != nil {
		return nil, nil, nil, err
	}
	out, err = s.ToHost()
	if err != nil {
		return nil, nil, nil, err
	}
	return out, l.Shape(), skipped, nil
}

func cmdRoundtrip(args []string, cfg config.Config, stdout, stderr io.Writer) error {
	fs := newFlagSet("roundtrip", stderr)
	backend := backendFlags(fs, &cfg)
	out := fs.String("out", "", "write the result to this safetensors file")
	arrowOut := fs.String("arrow", "", "write the result to this Arrow IPC stream file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	dev, release, err := openBackend(*backend, cfg)
	if err != nil {
		return err
	}
	defer release()

	in := tensor.FromSlice([]float32{0, 1, 2, 3, 4, 5})
	got, shape, skipped, err := pipeline(dev, in)
	if err != nil {
		return err
	}
	for _, name := range skipped {
		_, _ = fmt.Fprintf(stdout, "%-16s unimplemented on %s, skipped\n", name, dev.Name())
	}

	// Only compare against the CPU when both ran the same steps.
	if len(skipped) == 0 {
		want, _, _, err := pipeline(cpu.New(cfg.Parallel), in)
		if err != nil {
			return fmt.Errorf("cpu reference: %w", err)
		}
		if !closeEnough(got, want) {
			return fmt.Errorf("%s result %v differs from cpu %v", dev.Name(), got.Float64s(), want.Float64s())
		}
	}
	_, _ = fmt.Fprintf(stdout, "%s %v: %v\n", dev.Location(), shape, got.Float64s())

	t, err := serialization.NewTensor(shape, got)
	if err != nil {
		return err
	}
	tensors := map[string]serialization.Tensor{"result": t}
	if *out != "" {
		if err := writeAndVerifySafetensors(*out, tensors, dev.Name()); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "wrote %s\n", *out)
	}
	if *arrowOut != "" {
		if err := writeAndVerifyArrow(*arrowOut, tensors); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "wrote %s\n", *arrowOut)
	}
	return nil
}

func closeEnough(a, b *tensor.HostStorage) bool {
	x, y := a.Float64s(), b.Float64s()
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		d := x[i] - y[i]
		if d > 1e-4 || d < -1e-4 {
			return false
		}
	}
	return true
}

func writeAndVerifySafetensors(path string, tensors map[string]serialization.Tensor, source string) error {
	if err := serialization.WriteFile(path, tensors, map[string]string{"source": source}); err != nil {
		return err
	}
	f, err := serialization.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return verifyTensors(tensors, f.Tensors)
}

func writeAndVerifyArrow(path string, tensors map[string]serialization.Tensor) error {
	//nolint:gosec // G304: output path comes from the operator
	w, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := arrowio.WriteIPC(w, tensors); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	//nolint:gosec // G304: output path comes from the operator
	r, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()
	return verifyTensors(tensors, func() (map[string]serialization.Tensor, error) {
		return arrowio.ReadIPC(r)
	})
}

func verifyTensors(want map[string]serialization.Tensor, read func() (map[string]serialization.Tensor, error)) error {
	got, err := read()
	if err != nil {
		return err
	}
	for name, t := range want {
		if !t.Data.Equal(got[name].Data) {
			return fmt.Errorf("tensor %s changed after reading it back", name)
		}
	}
	return nil
}

func cmdInspect(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("inspect", stderr)
	verify := fs.Bool("verify", true, "verify the data checksum")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "usage: born inspect [-verify] <file.safetensors>")
		return errUsage
	}

	f, err := serialization.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if *verify {
		if err := f.VerifyChecksum(); err != nil {
			return err
		}
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tDTYPE\tSHAPE\tBYTES")
	for _, name := range f.Names() {
		info, _ := f.Info(name)
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%v\t%d\n", name, info.DType, info.Shape, info.Size())
	}
	return tw.Flush()
}

// newMux serves Prometheus metrics and the coverage report of dev.
func newMux(dev tensor.Device) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/coverage", func(w http.ResponseWriter, _ *http.Request) {
		report, err := coverage.Probe(dev)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, report.String())
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if err := dev.Synchronize(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "ok\n")
	})
	return mux
}

func cmdServe(args []string, cfg config.Config, stdout, stderr io.Writer) error {
	fs := newFlagSet("serve", stderr)
	backend := backendFlags(fs, &cfg)
	addr := fs.String("addr", ":9090", "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	dev, release, err := openBackend(*backend, cfg)
	if err != nil {
		return err
	}
	defer release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              *addr,
		Handler:           newMux(dev),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	logger.Log.Info("serving", "addr", *addr, "device", dev.Location().String())
	_, _ = fmt.Fprintf(stdout, "serving %s on %s\n", dev.Location(), *addr)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
