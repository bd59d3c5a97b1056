// Package progress turns the engine's textual progress markers into callbacks.
package progress

import (
	"bufio"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"

	"scenerender/internal/pkg/logger"
)

// ErrStreamSetup means the engine output could not be captured. The render
// must not start without it.
var ErrStreamSetup = stderrors.New("progress: stream setup failed")

var marker = regexp.MustCompile(`ALF_PROGRESS (\d+)%`)

// maxLine bounds one handled line. Longer output is handed over in maxLine
// chunks so the reader keeps draining the engine's stdout.
const maxLine = 1 << 20

// Extractor reads engine output line by line. Marker lines go to OnProgress,
// everything else is copied to Passthrough.
type Extractor struct {
	OnProgress  func(percent int)
	Passthrough io.Writer
	Log         *logger.Logger
}

// Pipe connects cmd's stdout to an in-process pipe for Run. Call it before
// cmd.Start and close the writer once cmd.Wait returns; Run ends at that EOF.
func Pipe(cmd *exec.Cmd) (*io.PipeReader, *io.PipeWriter, error) {
	if cmd.Stdout != nil {
		return nil, nil, fmt.Errorf("%w: stdout already set", ErrStreamSetup)
	}
	if cmd.Process != nil {
		return nil, nil, fmt.Errorf("%w: process already started", ErrStreamSetup)
	}
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	return pr, pw, nil
}

// Run consumes r until EOF. The reader side runs on its own goroutine and
// hands lines over a channel, so a slow callback never blocks the engine's
// writes beyond the channel buffer. Run returns after the last line has been
// handled; the caller may then Wait on the process.
func (e *Extractor) Run(r io.Reader) error {
	lines := make(chan string, 64)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		readErr <- readLines(r, lines)
	}()

	for line := range lines {
		e.handle(line)
	}

	if err := <-readErr; err != nil {
		return fmt.Errorf("progress: read engine output: %w", err)
	}
	return nil
}

func readLines(r io.Reader, lines chan<- string) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var line []byte
	for {
		chunk, more, err := br.ReadLine()
		if err != nil {
			if len(line) > 0 {
				lines <- string(line)
			}
			if err == io.EOF {
				return nil
			}
			return err
		}
		line = append(line, chunk...)
		if more && len(line) < maxLine {
			continue
		}
		lines <- string(line)
		line = line[:0]
	}
}

func (e *Extractor) handle(line string) {
	defer func() {
		if r := recover(); r != nil {
			e.log().Error("progress line handler panicked", "panic", r, "line", line)
		}
	}()

	if m := marker.FindStringSubmatch(line); m != nil {
		pct, err := strconv.Atoi(m[1])
		if err != nil {
			e.log().Warn("unparseable progress marker", "line", line, "error", err.Error())
			return
		}
		if e.OnProgress != nil {
			e.OnProgress(pct)
		}
		return
	}

	w := e.Passthrough
	if w == nil {
		w = os.Stdout
	}
	if _, err := io.WriteString(w, line+"\n"); err != nil {
		e.log().Warn("engine output passthrough failed", "error", err.Error())
	}
}

func (e *Extractor) log() *logger.Logger {
	if e.Log == nil {
		return logger.Discard()
	}
	return e.Log
}
