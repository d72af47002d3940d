// internal/models/resources.go
package models

import (
	"fmt"
	"time"
)

// ResourceSpec describes what a job asks of the resource manager
type ResourceSpec struct {
	Queue    string        `json:"queue,omitempty" yaml:"queue"`
	Cores    int           `json:"cores,omitempty" yaml:"cores"`
	MemoryMB int           `json:"memoryMb,omitempty" yaml:"memory_mb"`
	Walltime time.Duration `json:"walltime,omitempty" yaml:"walltime"`
}

// Merge returns s with every non-zero field of override applied
func (s ResourceSpec) Merge(override ResourceSpec) ResourceSpec {
	if override.Queue != "" {
		s.Queue = override.Queue
	}
	if override.Cores != 0 {
		s.Cores = override.Cores
	}
	if override.MemoryMB != 0 {
		s.MemoryMB = override.MemoryMB
	}
	if override.Walltime != 0 {
		s.Walltime = override.Walltime
	}
	return s
}

// Validate rejects specs no backend could honour
func (s ResourceSpec) Validate() error {
	if s.Cores < 0 {
		return fmt.Errorf("cores must not be negative, got %d", s.Cores)
	}
	if s.MemoryMB < 0 {
		return fmt.Errorf("memory_mb must not be negative, got %d", s.MemoryMB)
	}
	if s.Walltime < 0 {
		return fmt.Errorf("walltime must not be negative, got %s", s.Walltime)
	}
	return nil
}
