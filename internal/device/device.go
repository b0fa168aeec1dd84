// Package device selects the compute device model backends run on.
package device

import (
	"os"
	"os/exec"
	"strings"
)

// ID names a compute device, e.g. "cuda" or "cpu".
type ID string

const (
	Auto ID = "auto"
	CUDA ID = "cuda"
	CPU  ID = "cpu"
)

// Prober reports whether an accelerator is available.
type Prober interface {
	Accelerated() bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func() bool

func (f ProberFunc) Accelerated() bool { return f() }

// Resolver turns a requested device into a concrete one.
type Resolver struct {
	prober Prober
}

// NewResolver returns a Resolver. A nil prober uses SystemProber.
func NewResolver(p Prober) *Resolver {
	if p == nil {
		p = SystemProber{}
	}
	return &Resolver{prober: p}
}

// Resolve returns CUDA or CPU for "auto" (or empty) and the requested value
// unchanged otherwise. Explicit values are not validated.
func (r *Resolver) Resolve(requested string) ID {
	trimmed := strings.TrimSpace(requested)
	if trimmed == "" || strings.EqualFold(trimmed, string(Auto)) {
		if r.prober.Accelerated() {
			return CUDA
		}
		return CPU
	}
	return ID(trimmed)
}

// Resolve is a convenience wrapper around the system prober.
func Resolve(requested string) ID {
	return NewResolver(nil).Resolve(requested)
}

// SystemProber detects an NVIDIA device through the driver node or the
// nvidia-smi binary. CUDA_VISIBLE_DEVICES="" or "-1" hides all devices.
type SystemProber struct {
	// LookPath and Stat are overridable for tests.
	LookPath func(string) (string, error)
	Stat     func(string) (os.FileInfo, error)
	Getenv   func(string) (string, bool)
}

func (p SystemProber) Accelerated() bool {
	getenv := p.Getenv
	if getenv == nil {
		getenv = os.LookupEnv
	}
	if visible, ok := getenv("CUDA_VISIBLE_DEVICES"); ok {
		v := strings.TrimSpace(visible)
		if v == "" || v == "-1" {
			return false
		}
	}
	stat := p.Stat
	if stat == nil {
		stat = os.Stat
	}
	if _, err := stat("/dev/nvidia0"); err == nil {
		return true
	}
	lookPath := p.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	_, err := lookPath("nvidia-smi")
	return err == nil
}
