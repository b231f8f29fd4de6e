// Package ffmpeg runs the external ffmpeg processes kapt depends on: the two
// long-lived capture processes of every chunk and the short trim and concat
// jobs of a kapture.
package ffmpeg

import (
	"context"
	"iter"
)

// Process represents one running capture process
type Process interface {
	// ID returns the unique identifier for this process
	ID() string

	// Lines yields diagnostic (stderr) lines in order. The sequence ends once
	// the process has exited and every buffered line was yielded.
	Lines() iter.Seq[string]

	// Quit asks the process to finish writing its output and exit
	Quit() error

	// Wait blocks until the process has exited
	Wait() error
}

// Spawner starts capture processes
type Spawner interface {
	Spawn(ctx context.Context, config *ProcessConfig) (Process, error)
}

// ProcessConfig contains configuration for one capture process
type ProcessConfig struct {
	ID         string
	FFmpegPath string
	Args       []string
	OutputPath string
}
