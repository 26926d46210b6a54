package provider

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
)

// AudioSink renders synthesized audio. Play blocks until the audio has been
// consumed or ctx is cancelled.
type AudioSink interface {
	Play(ctx context.Context, audio io.Reader) error
}

// CommandSink pipes audio into a player process's stdin, for example
// "mpv --really-quiet -" or "ffplay -nodisp -autoexit -".
type CommandSink struct {
	Name string
	Args []string
}

// ParseCommandSink splits a player command line on whitespace.
func ParseCommandSink(cmdline string) (*CommandSink, error) {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty player command")
	}
	return &CommandSink{Name: fields[0], Args: fields[1:]}, nil
}

func (s *CommandSink) Play(ctx context.Context, audio io.Reader) error {
	cmd := exec.CommandContext(ctx, s.Name, s.Args...)
	cmd.Stdin = audio
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("player %s: %w: %s", s.Name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// SpoolSink writes each utterance to its own file in Dir.
type SpoolSink struct {
	Dir string
	Ext string // default ".mp3"
	seq atomic.Uint64
}

func (s *SpoolSink) Play(ctx context.Context, audio io.Reader) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create spool dir: %w", err)
	}
	ext := s.Ext
	if ext == "" {
		ext = ".mp3"
	}
	name := fmt.Sprintf("utterance-%s-%03d%s", time.Now().Format("20060102-150405"), s.seq.Add(1), ext)
	path := filepath.Join(s.Dir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create spool file: %w", err)
	}
	_, err = io.Copy(f, &ctxReader{ctx: ctx, r: audio})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// DiscardSink drains the audio, useful with a remote player or in tests.
type DiscardSink struct{}

func (DiscardSink) Play(ctx context.Context, audio io.Reader) error {
	_, err := io.Copy(io.Discard, &ctxReader{ctx: ctx, r: audio})
	return err
}

// ctxReader stops reading once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
