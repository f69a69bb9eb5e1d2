// Package ffmpeg wraps the ffmpeg/ffprobe binaries behind an Executor that
// the rest of the export pipeline treats as the shared decode/encode engine.
// One Executor is created per process and reused across clips; its scratch
// directory is cleared between clips so no state leaks from one export into
// the next.
package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Executor handles all ffmpeg operations with progress streaming
type Executor struct {
	logger      zerolog.Logger
	ffmpegPath  string
	ffprobePath string
	threads     int
	scratchDir  string

	// Serializes clip-level access to the engine. The orchestrator holds
	// this for the whole of one clip's pipeline run.
	mu sync.Mutex
}

// New creates a new ffmpeg executor with a scratch directory for staging
// sources and collecting outputs.
func New(logger zerolog.Logger, ffmpegBin, ffprobeBin string, threads int, scratchDir string) (*Executor, error) {
	ffmpegPath, err := exec.LookPath(ffmpegBin)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	ffprobePath, err := exec.LookPath(ffprobeBin)
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	e := &Executor{
		logger:      logger.With().Str("component", "ffmpeg").Logger(),
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		threads:     threads,
		scratchDir:  scratchDir,
	}
	if err := e.initScratch(); err != nil {
		return nil, err
	}
	return e, nil
}

// Acquire takes exclusive engine access for one clip's export.
func (e *Executor) Acquire() {
	e.mu.Lock()
}

// Release gives up exclusive engine access.
func (e *Executor) Release() {
	e.mu.Unlock()
}

// Pipe is a running ffmpeg process with one end exposed for streaming raw
// frames. Decode pipes expose Stdout, encode pipes expose Stdin.
type Pipe struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser

	cmd     *exec.Cmd
	stderr  *tailBuffer
	waitErr error
	waited  bool
}

// StartDecode launches ffmpeg producing raw frame data on stdout.
func (e *Executor) StartDecode(ctx context.Context, args []string) (*Pipe, error) {
	return e.startPipe(ctx, args, false, nil, nil)
}

// StartEncode launches ffmpeg consuming raw frame data on stdin. Progress
// lines are parsed off stderr and fed to the handler.
func (e *Executor) StartEncode(ctx context.Context, args []string, progress ProgressFunc) (*Pipe, error) {
	return e.startPipe(ctx, args, true, progress, nil)
}

func (e *Executor) startPipe(ctx context.Context, args []string, stdin bool, progress ProgressFunc, logHandler func(string)) (*Pipe, error) {
	full := e.baseArgs()
	full = append(full, args...)

	e.logger.Debug().
		Strs("args", full).
		Bool("stdin", stdin).
		Msg("starting ffmpeg pipe")

	cmd := exec.CommandContext(ctx, e.ffmpegPath, full...)
	p := &Pipe{cmd: cmd, stderr: newTailBuffer(32)}

	var err error
	if stdin {
		if p.Stdin, err = cmd.StdinPipe(); err != nil {
			return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
		}
	} else {
		if p.Stdout, err = cmd.StdoutPipe(); err != nil {
			return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
		}
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	go e.streamOutput(stderr, progress, func(line string) {
		p.stderr.add(line)
		if logHandler != nil {
			logHandler(line)
		}
	})

	return p, nil
}

// Wait reaps the process. Safe to call more than once; later calls return
// the first result. The returned error carries the exit code and a tail of
// stderr for diagnostics.
func (p *Pipe) Wait() error {
	if p.waited {
		return p.waitErr
	}
	p.waited = true

	err := p.cmd.Wait()
	if err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		p.waitErr = &ExitError{Code: code, Stderr: p.stderr.String(), Err: err}
	}
	return p.waitErr
}

// WaitContext reaps the process, killing it if the context ends first. On
// the kill path the context's error is returned as-is so callers can tell a
// deadline overrun from a cancellation.
func (p *Pipe) WaitContext(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- p.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if p.Stdin != nil {
			_ = p.Stdin.Close()
		}
		if p.Stdout != nil {
			_ = p.Stdout.Close()
		}
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		<-done
		return ctx.Err()
	}
}

// Kill terminates the process without waiting for a clean exit. Used on the
// cancellation path where the encoder state is discarded, not finalized.
func (p *Pipe) Kill() {
	if p.Stdin != nil {
		_ = p.Stdin.Close()
	}
	if p.Stdout != nil {
		_ = p.Stdout.Close()
	}
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.Wait()
}

// ExitError reports a nonzero ffmpeg exit with the stderr tail attached.
// Treating nonzero exits as success was a historical bug class; callers must
// check Wait explicitly.
type ExitError struct {
	Code   int
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("ffmpeg exited with status %d: %s", e.Code, lastLine(e.Stderr))
}

func (e *ExitError) Unwrap() error { return e.Err }

func (e *Executor) baseArgs() []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "info"}
	if e.threads > 0 {
		args = append(args, "-threads", fmt.Sprintf("%d", e.threads))
	}
	args = append(args, "-progress", "pipe:2")
	return args
}

// streamOutput parses ffmpeg stderr and calls handlers
func (e *Executor) streamOutput(r io.Reader, progressHandler ProgressFunc, logHandler func(string)) {
	scanner := bufio.NewScanner(r)
	progressData := &Progress{}

	for scanner.Scan() {
		line := scanner.Text()

		if logHandler != nil {
			logHandler(line)
		}

		if strings.HasPrefix(line, "frame=") {
			fmt.Sscanf(line, "frame=%d", &progressData.Frame)
		} else if strings.HasPrefix(line, "fps=") {
			fmt.Sscanf(line, "fps=%f", &progressData.FPS)
		} else if strings.HasPrefix(line, "bitrate=") {
			progressData.Bitrate = valuePart(line)
		} else if strings.HasPrefix(line, "out_time=") || strings.HasPrefix(line, "time=") {
			progressData.Time = valuePart(line)
		} else if strings.HasPrefix(line, "speed=") {
			progressData.Speed = valuePart(line)
		} else if strings.HasPrefix(line, "progress=") {
			// End of progress block
			if progressHandler != nil && progressData.Frame > 0 {
				progressHandler(progressData)
			}
			progressData = &Progress{}
		}
	}
}

func valuePart(line string) string {
	parts := strings.SplitN(line, "=", 2)
	if len(parts) != 2 {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

// tailBuffer keeps the last n lines of output for error reporting.
type tailBuffer struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
