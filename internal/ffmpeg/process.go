package ffmpeg

import (
	"bufio"
	"context"
	"io"
	"iter"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/kapt/internal/errors"
	"github.com/tphakala/kapt/internal/logging"
)

// KillTimeout bounds how long a process may take to exit after Quit.
const KillTimeout = 5 * time.Second

var logger *slog.Logger

func init() {
	logger = logging.ForService("ffmpeg")
	if logger == nil {
		logger = slog.Default().With("service", "ffmpeg")
	}
}

// ExecSpawner starts real ffmpeg processes
type ExecSpawner struct{}

// Spawn starts ffmpeg with config.Args. Cancelling ctx kills the process.
func (ExecSpawner) Spawn(ctx context.Context, config *ProcessConfig) (Process, error) {
	p := newProcess(config)
	if err := p.start(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// process implements the Process interface
type process struct {
	id     string
	config *ProcessConfig
	cmd    *exec.Cmd
	stdin  io.WriteCloser

	mu      sync.Mutex
	cond    *sync.Cond
	lines   []string
	exited  bool
	waitErr error
	done    chan struct{}

	running   atomic.Bool
	started   time.Time
	startOnce sync.Once
	quitOnce  sync.Once
	startErr  error
	quitErr   error
}

func newProcess(config *ProcessConfig) *process {
	p := &process{
		id:     config.ID,
		config: config,
		done:   make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// ID returns the unique identifier for this process
func (p *process) ID() string {
	return p.id
}

func (p *process) start(ctx context.Context) error {
	p.startOnce.Do(func() {
		p.startErr = p.doStart(ctx)
	})
	return p.startErr
}

func (p *process) doStart(ctx context.Context) error {
	p.cmd = exec.CommandContext(ctx, p.config.FFmpegPath, p.config.Args...)

	var err error
	p.stdin, err = p.cmd.StdinPipe()
	if err != nil {
		return errors.New(err).
			Component("ffmpeg").
			Category(errors.CategoryProcessSpawn).
			Context("operation", "create-stdin-pipe").
			Context("process_id", p.id).
			Build()
	}

	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return errors.New(err).
			Component("ffmpeg").
			Category(errors.CategoryProcessSpawn).
			Context("operation", "create-stderr-pipe").
			Context("process_id", p.id).
			Build()
	}

	if err := p.cmd.Start(); err != nil {
		logger.Error("failed to start ffmpeg process",
			"process_id", p.id,
			"command", p.config.FFmpegPath,
			"error", err)
		return errors.New(err).
			Component("ffmpeg").
			Category(errors.CategoryProcessSpawn).
			Context("operation", "start-ffmpeg").
			Context("process_id", p.id).
			Context("command", p.config.FFmpegPath).
			Build()
	}

	p.started = time.Now()
	p.running.Store(true)

	logger.Debug("ffmpeg process started",
		"process_id", p.id,
		"pid", p.cmd.Process.Pid,
		"output", p.config.OutputPath)

	go p.readErrorOutput(stderr)

	return nil
}

// readErrorOutput collects stderr lines until EOF, then reaps the process.
// Lines are kept in memory so ffmpeg never blocks on a full pipe, no matter
// how late the consumer starts draining.
func (p *process) readErrorOutput(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		p.mu.Lock()
		p.lines = append(p.lines, line)
		p.mu.Unlock()
		p.cond.Broadcast()
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("error reading ffmpeg stderr", "process_id", p.id, "error", err)
	}

	waitErr := p.cmd.Wait()
	p.running.Store(false)

	p.mu.Lock()
	p.exited = true
	p.waitErr = waitErr
	p.mu.Unlock()
	p.cond.Broadcast()
	close(p.done)

	logger.Debug("ffmpeg process exited",
		"process_id", p.id,
		"uptime_ms", time.Since(p.started).Milliseconds(),
		"error", waitErr)
}

// Lines yields stderr lines as they arrive, blocking between lines
func (p *process) Lines() iter.Seq[string] {
	return func(yield func(string) bool) {
		for i := 0; ; i++ {
			p.mu.Lock()
			for i >= len(p.lines) && !p.exited {
				p.cond.Wait()
			}
			if i >= len(p.lines) {
				p.mu.Unlock()
				return
			}
			line := p.lines[i]
			p.mu.Unlock()

			if !yield(line) {
				return
			}
		}
	}
}

// Quit sends "q" on stdin, which makes ffmpeg finalize its output and exit.
// The process is killed if it is still running after KillTimeout.
func (p *process) Quit() error {
	p.quitOnce.Do(func() {
		if !p.running.Load() {
			return
		}

		if _, err := io.WriteString(p.stdin, "q"); err != nil {
			p.quitErr = errors.New(err).
				Component("ffmpeg").
				Category(errors.CategorySystem).
				Context("operation", "quit-ffmpeg").
				Context("process_id", p.id).
				Build()
		}
		if err := p.stdin.Close(); err != nil {
			logger.Debug("failed to close ffmpeg stdin", "process_id", p.id, "error", err)
		}

		go func() {
			timer := time.NewTimer(KillTimeout)
			defer timer.Stop()
			select {
			case <-p.done:
			case <-timer.C:
				logger.Warn("ffmpeg did not respond to quit, forcing kill", "process_id", p.id)
				if err := p.cmd.Process.Kill(); err != nil {
					logger.Error("failed to kill ffmpeg process", "process_id", p.id, "error", err)
				}
			}
		}()
	})
	return p.quitErr
}

// Wait blocks until the process has exited and returns its exit error
func (p *process) Wait() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}
