package config

import (
	"fmt"
	"time"
)

// PipelineConfig controls the metric ingestion pipeline: ring buffer sizing
// and the periodic drain of buffered events into the store.
type PipelineConfig struct {
	// RingBufferSize is the event buffer capacity. Must be a power of two.
	RingBufferSize int `yaml:"ring_buffer_size"`

	// FlushInterval is the base tick for draining the ring buffer.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// BatchSize is the maximum events drained per tick and the size trigger
	// for an early wake.
	BatchSize int `yaml:"batch_size"`

	// WriterThreads is the number of drain goroutines. The ring buffer is
	// single-consumer; values above 1 are rejected.
	WriterThreads int `yaml:"writer_threads"`
}

// DefaultPipelineConfig returns the built-in pipeline defaults.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		RingBufferSize: 8192,
		FlushInterval:  1 * time.Second,
		BatchSize:      1000,
		WriterThreads:  1,
	}
}

// Validate rejects sizes the ring buffer cannot honor.
func (c *PipelineConfig) Validate() error {
	if c.RingBufferSize <= 0 || c.RingBufferSize&(c.RingBufferSize-1) != 0 {
		return fmt.Errorf("%w: pipeline.ring_buffer_size must be a positive power of two, got %d",
			ErrInvalidConfig, c.RingBufferSize)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: pipeline.batch_size must be positive, got %d",
			ErrInvalidConfig, c.BatchSize)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("%w: pipeline.flush_interval must be positive, got %s",
			ErrInvalidConfig, c.FlushInterval)
	}
	if c.WriterThreads != 1 {
		return fmt.Errorf("%w: pipeline.writer_threads must be 1 (single-consumer drain), got %d",
			ErrInvalidConfig, c.WriterThreads)
	}
	return nil
}
