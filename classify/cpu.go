package classify

import "golang.org/x/sys/cpu"

// CPUFeatures reports the SIMD extensions the runtime can take advantage of.
func CPUFeatures() map[string]bool {
	return map[string]bool{
		"avx512f": cpu.X86.HasAVX512F,
		"avx2":    cpu.X86.HasAVX2,
		"sse41":   cpu.X86.HasSSE41,
		"asimd":   cpu.ARM64.HasASIMD,
	}
}
