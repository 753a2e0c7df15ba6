package config

import "fmt"

// OutputSpec configures the process-wide Output Sink (spec §4.H). All
// sources' poll ticks write into the same sink.
type OutputSpec struct {
	EventQueueSize    int `yaml:"eventQueueSize,omitempty" json:"eventQueueSize,omitempty"`
	StdoutBufferSize  int `yaml:"stdoutBufferSize,omitempty" json:"stdoutBufferSize,omitempty"`
	MemoryThresholdMB int `yaml:"memoryThresholdMb,omitempty" json:"memoryThresholdMb,omitempty"`

	// Strategy is applied when the queue would overflow: "block" | "drop" |
	// "disk_buffer". A tripped memory guard also turns block into a drop
	// and makes disk_buffer spill; the drop strategy does not consult it.
	Strategy        string `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	DropPolicy      string `yaml:"dropPolicy,omitempty" json:"dropPolicy,omitempty"` // oldest_first | newest_first | random
	MaxQueueAgeSecs int    `yaml:"maxQueueAgeSecs,omitempty" json:"maxQueueAgeSecs,omitempty"`

	DiskBuffer *DiskBufferSpec `yaml:"diskBuffer,omitempty" json:"diskBuffer,omitempty"`
	Inner      InnerSinkSpec   `yaml:"inner" json:"inner"`
}

// DiskBufferSpec configures the disk_buffer strategy's spill files.
type DiskBufferSpec struct {
	Path          string `yaml:"path" json:"path"`
	SegmentSizeMB int    `yaml:"segmentSizeMb,omitempty" json:"segmentSizeMb,omitempty"`
	MaxSizeMB     int    `yaml:"maxSizeMb,omitempty" json:"maxSizeMb,omitempty"`
}

// InnerSinkSpec configures where accepted lines ultimately go.
type InnerSinkSpec struct {
	Type string `yaml:"type,omitempty" json:"type,omitempty"` // "stdout" | "file"
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// Rotation is "" (none), "daily", or "size" for a file inner sink.
	Rotation       string `yaml:"rotation,omitempty" json:"rotation,omitempty"`
	RotationSizeMB int    `yaml:"rotationSizeMb,omitempty" json:"rotationSizeMb,omitempty"`
}

func (o *OutputSpec) Validate() error {
	switch o.Strategy {
	case "", "block", "drop", "disk_buffer":
	default:
		return fmt.Errorf("output.strategy must be block, drop, or disk_buffer, got %q", o.Strategy)
	}
	switch o.DropPolicy {
	case "", "oldest_first", "newest_first", "random":
	default:
		return fmt.Errorf("output.dropPolicy must be oldest_first, newest_first, or random, got %q", o.DropPolicy)
	}
	if o.Strategy == "disk_buffer" {
		if o.DiskBuffer == nil || o.DiskBuffer.Path == "" {
			return fmt.Errorf("output.diskBuffer.path must be set when strategy is disk_buffer")
		}
	}
	switch o.Inner.Type {
	case "", "stdout":
	case "file":
		if o.Inner.Path == "" {
			return fmt.Errorf("output.inner.path must be set when inner type is file")
		}
		switch o.Inner.Rotation {
		case "", "daily", "size":
		default:
			return fmt.Errorf("output.inner.rotation must be daily or size, got %q", o.Inner.Rotation)
		}
		if o.Inner.Rotation == "size" && o.Inner.RotationSizeMB <= 0 {
			return fmt.Errorf("output.inner.rotationSizeMb must be > 0 when rotation is size")
		}
	default:
		return fmt.Errorf("output.inner.type must be stdout or file, got %q", o.Inner.Type)
	}
	return nil
}

// EventQueueCapacity resolves the bounded queue size, defaulting to 10000.
func (o *OutputSpec) EventQueueCapacity() int {
	if o.EventQueueSize <= 0 {
		return 10000
	}
	return o.EventQueueSize
}

// MemoryThresholdBytes resolves the RSS memory guard threshold; 0 disables it.
func (o *OutputSpec) MemoryThresholdBytes() int64 {
	if o.MemoryThresholdMB <= 0 {
		return 0
	}
	return int64(o.MemoryThresholdMB) << 20
}
