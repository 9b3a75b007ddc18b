package device

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// Kind names a compute device class understood by the model runtime.
type Kind string

const (
	KindCUDA Kind = "cuda"
	KindCPU  Kind = "cpu"
)

// ComputeDevice describes where model inference should run. The selection is
// advisory: it is forwarded to the model runtime, which owns the actual
// placement.
type ComputeDevice interface {
	Kind() Kind
	Name() string
}

type cudaDevice struct{}

func (cudaDevice) Kind() Kind   { return KindCUDA }
func (cudaDevice) Name() string { return "cuda:0" }

type cpuDevice struct{}

func (cpuDevice) Kind() Kind   { return KindCPU }
func (cpuDevice) Name() string { return "cpu" }

// nvidia driver presence markers checked by the probe, in order.
var nvidiaProbePaths = []string{
	"/proc/driver/nvidia/version",
	"/dev/nvidia0",
}

var (
	detectOnce sync.Once
	detected   ComputeDevice
)

// Detect selects the compute device once per process. An explicit override
// wins; otherwise the host is probed for an NVIDIA driver and the selection
// falls back to CPU.
func Detect(override string) (ComputeDevice, error) {
	if trimmed := strings.TrimSpace(override); trimmed != "" {
		return parseOverride(trimmed)
	}
	detectOnce.Do(func() {
		detected = probe(osStat)
	})
	return detected, nil
}

func parseOverride(value string) (ComputeDevice, error) {
	switch Kind(strings.ToLower(value)) {
	case KindCUDA:
		return cudaDevice{}, nil
	case KindCPU:
		return cpuDevice{}, nil
	default:
		return nil, fmt.Errorf("unknown compute device %q", value)
	}
}

type statFunc func(string) (os.FileInfo, error)

func osStat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

func probe(stat statFunc) ComputeDevice {
	for _, path := range nvidiaProbePaths {
		if _, err := stat(path); err == nil {
			return cudaDevice{}
		}
	}
	return cpuDevice{}
}
