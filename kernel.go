package gpusort

import (
	"embed"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/gogpu/naga"

	"github.com/gogpu/gpusort/internal/cache"
)

// Kernel identifies one of the three compute kernels of the sort protocol.
type Kernel uint8

const (
	// KernelLocalSort sorts each workgroup's T elements in workgroup memory.
	// It is dispatched once per sort and reads no uniforms.
	KernelLocalSort Kernel = iota

	// KernelGlobalCompareExchange performs one compare-exchange stage across
	// workgroups directly in the storage buffer, parameterised by a uniform slot.
	KernelGlobalCompareExchange

	// KernelLocalMerge finishes a global round inside each workgroup, taking
	// the round stride from the bound uniform slot.
	KernelLocalMerge

	numKernels
)

// Kernels lists all kernels in pipeline creation order.
var Kernels = [numKernels]Kernel{KernelLocalSort, KernelGlobalCompareExchange, KernelLocalMerge}

// String returns the kernel name.
func (k Kernel) String() string {
	switch k {
	case KernelLocalSort:
		return "LocalSort"
	case KernelGlobalCompareExchange:
		return "GlobalCompareExchange"
	case KernelLocalMerge:
		return "LocalMerge"
	default:
		return fmt.Sprintf("Kernel(%d)", uint8(k))
	}
}

// UsesUniforms reports whether the kernel binds the packed uniform buffer
// at group 1 with a dynamic offset.
func (k Kernel) UsesUniforms() bool {
	return k == KernelGlobalCompareExchange || k == KernelLocalMerge
}

// EntryPoint is the entry point name of every generated kernel.
const EntryPoint = "main"

//go:embed shaders/*.wgsl
var shaderFS embed.FS

var (
	shaderOnce      sync.Once
	shaderTemplates *template.Template
	errShaderParse  error
)

// sourceKey identifies a generated kernel source.
type sourceKey struct {
	kernel        Kernel
	workgroupSize uint32
}

// Generated sources and the sources naga accepted, shared by all devices.
var (
	kernelSources  = cache.New[sourceKey, string](4 * int(numKernels))
	checkedSources = cache.New[string, struct{}](4 * int(numKernels))
)

var shaderFiles = [numKernels]string{
	KernelLocalSort:             "local_sort.wgsl",
	KernelGlobalCompareExchange: "global_compare_exchange.wgsl",
	KernelLocalMerge:            "local_merge.wgsl",
}

func loadShaderTemplates() (*template.Template, error) {
	shaderOnce.Do(func() {
		shaderTemplates, errShaderParse = template.ParseFS(shaderFS, "shaders/*.wgsl")
	})
	return shaderTemplates, errShaderParse
}

// kernelParams is the template data of a kernel source.
type kernelParams struct {
	WorkgroupSize uint32
	Half          uint32
	Stages        []Step
}

// LocalSortStages returns the unrolled stages of the Local Sort network for
// workgroup size t: k = 2..t, and for each k, j = k/2..1.
func LocalSortStages(t uint32) []Step {
	var stages []Step
	for k := uint32(2); k <= t; k <<= 1 {
		for j := k >> 1; j > 0; j >>= 1 {
			stages = append(stages, Step{Stride: k, CompareDistance: j})
		}
	}
	return stages
}

// LocalMergeStages returns the unrolled stages of the Local Merge for
// workgroup size t: j = t/2..1. Stride is left zero; it comes from the
// uniform slot at run time.
func LocalMergeStages(t uint32) []Step {
	var stages []Step
	for j := t >> 1; j > 0; j >>= 1 {
		stages = append(stages, Step{CompareDistance: j})
	}
	return stages
}

// KernelSource returns the WGSL source of kernel k for the capability's
// workgroup size. The in-workgroup stages are unrolled here, so the
// kernel-side T always equals the planner's T.
func KernelSource(k Kernel, c Capability) (string, error) {
	if k >= numKernels {
		return "", fmt.Errorf("gpusort: unknown kernel %d", uint8(k))
	}
	if err := c.Validate(); err != nil {
		return "", err
	}
	key := sourceKey{kernel: k, workgroupSize: c.MaxThreadsPerWorkgroup}
	return kernelSources.GetOrCreate(key, func() (string, error) {
		return generateKernelSource(k, c.MaxThreadsPerWorkgroup)
	})
}

func generateKernelSource(k Kernel, t uint32) (string, error) {
	tmpl, err := loadShaderTemplates()
	if err != nil {
		return "", fmt.Errorf("gpusort: parse shader templates: %w", err)
	}

	params := kernelParams{WorkgroupSize: t, Half: t >> 1}
	switch k {
	case KernelLocalSort:
		params.Stages = LocalSortStages(t)
	case KernelLocalMerge:
		params.Stages = LocalMergeStages(t)
	}

	var sb strings.Builder
	if err := tmpl.ExecuteTemplate(&sb, shaderFiles[k], params); err != nil {
		return "", fmt.Errorf("gpusort: generate %s: %w", k, err)
	}
	return sb.String(), nil
}

// CheckKernelSource compiles WGSL with naga and reports any parse or
// validation error as ErrResourceCreation. Sources that compiled once are
// not compiled again.
func CheckKernelSource(k Kernel, src string) error {
	_, err := checkedSources.GetOrCreate(src, func() (struct{}, error) {
		_, err := naga.Compile(src)
		return struct{}{}, err
	})
	if err != nil {
		return fmt.Errorf("%w: %s shader: %w", ErrResourceCreation, k, err)
	}
	return nil
}
