// Command bitonicsort sorts random float32 data with gpusort and compares
// the result with a CPU reference sort.
//
// Usage:
//
//	bitonicsort [-config file.toml] [-n 65536] [-backend software] [-runs 3]
//
// The exit status is 0 when every sort validated, 1 on failure, 2 on a usage
// error and 3 when no device is supported.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"slices"
	"time"

	"github.com/muesli/termenv"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/gpusort"
	_ "github.com/gogpu/gpusort/backend/allbackends"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 2
	exitUnsupported = 3
)

// slowCPULength is the length at which the CPU reference gets noticeably slow.
const slowCPULength = 1 << 20

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := parseConfig(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, "bitonicsort:", err)
		return exitUsage
	}

	if cfg.Verbose {
		gpusort.SetLogger(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	tag, err := language.Parse(cfg.Lang)
	if err != nil {
		fmt.Fprintf(stderr, "bitonicsort: -lang %q: %v\n", cfg.Lang, err)
		return exitUsage
	}
	r := &reporter{
		p:   message.NewPrinter(tag),
		out: termenv.NewOutput(stdout),
	}

	opts := []gpusort.Option{gpusort.WithReadbackChunkSize(cfg.ReadbackChunk)}
	if cfg.Backend != "" {
		opts = append(opts, gpusort.WithBackend(cfg.Backend))
	}
	s, err := gpusort.New(ctx, opts...)
	if err != nil {
		if errors.Is(err, gpusort.ErrUnsupportedDevice) || errors.Is(err, gpusort.ErrBackendNotAvailable) {
			r.printf("WebGPU compute is not supported: %v\n", err)
			return exitUnsupported
		}
		fmt.Fprintln(stderr, "bitonicsort:", err)
		return exitFailure
	}
	defer s.Close()

	c := s.Capability()
	info := s.AdapterInfo()
	r.printf("backend: %s (%s, %s)\n", s.Backend(), info.Name, info.Type)
	r.printf("workgroup size: %d, max workgroups: %d, max length: %d\n",
		c.MaxThreadsPerWorkgroup, c.MaxWorkgroupsPerDispatch, c.Bound())

	if cfg.List {
		for _, n := range c.Lengths() {
			r.printf("%d\n", n)
		}
		return exitOK
	}

	if cfg.Runs < 1 {
		fmt.Fprintln(stderr, "bitonicsort: -runs must be at least 1")
		return exitUsage
	}
	if cfg.Length == 0 || cfg.Length > c.Bound() {
		r.printf("length %d is not supported; use -list to see supported lengths\n", cfg.Length)
		return exitUsage
	}
	n := int(cfg.Length) //nolint:gosec // bounded by Capability.Bound

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano()) //nolint:gosec // wall clock is positive
	}
	input := randomInput(seed, n)
	r.printf("length: %d, seed: %d\n", n, seed)

	ok := true
	var reference []float32
	if cfg.CPU {
		if n >= slowCPULength {
			r.printf("warning: the CPU reference sort of %d elements may take a while\n", n)
		}
		reference = slices.Clone(input)
		start := time.Now()
		slices.Sort(reference)
		elapsed := time.Since(start)
		ok = r.result("CPU", elapsed, check(cfg.Validate, reference)) && ok
	}

	for i := range cfg.Runs {
		data := slices.Clone(input)
		start := time.Now()
		if err := s.Sort(ctx, data); err != nil {
			if errors.Is(err, gpusort.ErrInvalidLength) {
				r.printf("%v; use -list to see supported lengths\n", err)
				return exitUsage
			}
			r.result(runLabel(i, cfg.Runs), time.Since(start), err)
			return exitFailure
		}
		elapsed := time.Since(start)
		err := check(cfg.Validate, data)
		if err == nil && reference != nil && !slices.Equal(data, reference) {
			err = errors.New("result differs from the CPU reference")
		}
		ok = r.result(runLabel(i, cfg.Runs), elapsed, err) && ok
	}

	if !ok {
		return exitFailure
	}
	return exitOK
}

func runLabel(i, runs int) string {
	if runs == 1 {
		return "GPU"
	}
	return fmt.Sprintf("GPU #%d", i+1)
}

func check(enabled bool, data []float32) error {
	if !enabled {
		return nil
	}
	return gpusort.Validate(data)
}

// randomInput returns n values in [0, 1) drawn from a PCG seeded with seed.
func randomInput(seed uint64, n int) []float32 {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	data := make([]float32, n)
	for i := range data {
		data[i] = rng.Float32()
	}
	return data
}

// reporter writes locale-formatted lines and coloured status words.
type reporter struct {
	p   *message.Printer
	out *termenv.Output
}

func (r *reporter) printf(format string, args ...any) {
	r.p.Fprintf(r.out, format, args...)
}

// result prints one timing line and reports whether err is nil.
func (r *reporter) result(label string, elapsed time.Duration, err error) bool {
	status := r.out.String("PASS").Foreground(termenv.ANSIGreen).Bold()
	if err != nil {
		status = r.out.String("FAIL").Foreground(termenv.ANSIRed).Bold()
	}
	r.printf("%-8s %s %8.3f ms", label, status, float64(elapsed.Microseconds())/1000)
	if err != nil {
		r.printf("  %v", err)
	}
	r.printf("\n")
	return err == nil
}
