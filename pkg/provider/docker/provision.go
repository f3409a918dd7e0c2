package docker

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/platform"
)

// provisionPlaybook is where the build context lands inside the image.
const provisionPlaybook = "/vm/provision/provision.yml"

// provision copies the effective vm.yaml into the container and runs the
// provisioning playbook, streaming classified output into the log.
func (b *Backend) provision(ctx context.Context, container, configPath string) error {
	if _, err := b.engine(ctx, time.Minute, "cp", configPath, container+":/vm/vm.yaml"); err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "copy config into "+container)
	}

	progress := newProgressWriter(b)
	_, err := b.runner.Run(ctx, platform.Cmd{
		Argv:    []string{b.bin, "exec", container, "ansible-playbook", provisionPlaybook},
		Timeout: 30 * time.Minute,
		Stdout:  progress,
		Stderr:  progress,
	})
	progress.flush()
	if err != nil {
		return errdefs.Wrap(err, errdefs.KindProvider, "provision "+container)
	}
	return nil
}

// LineKind classifies one line of playbook output.
type LineKind int

const (
	LineNoise LineKind = iota
	LineTask
	LineOK
	LineChanged
	LineFailed
)

// ClassifyLine recognizes the playbook output lines worth surfacing.
func ClassifyLine(line string) (LineKind, string) {
	trimmed := strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(trimmed, "TASK ["):
		name := strings.TrimPrefix(trimmed, "TASK [")
		if i := strings.Index(name, "]"); i >= 0 {
			name = name[:i]
		}
		return LineTask, name
	case strings.HasPrefix(trimmed, "ok:"):
		return LineOK, trimmed
	case strings.HasPrefix(trimmed, "changed:"):
		return LineChanged, trimmed
	case strings.HasPrefix(trimmed, "failed:"), strings.HasPrefix(trimmed, "fatal:"):
		return LineFailed, trimmed
	}
	return LineNoise, ""
}

// progressWriter splits the playbook stream into lines and logs the
// interesting ones as they arrive.
type progressWriter struct {
	backend *Backend
	buf     strings.Builder
}

func newProgressWriter(b *Backend) *progressWriter {
	return &progressWriter{backend: b}
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		text := w.buf.String()
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			break
		}
		w.handle(text[:i])
		w.buf.Reset()
		w.buf.WriteString(text[i+1:])
	}
	return len(p), nil
}

// flush handles a trailing unterminated line.
func (w *progressWriter) flush() {
	if w.buf.Len() > 0 {
		w.handle(w.buf.String())
		w.buf.Reset()
	}
}

func (w *progressWriter) handle(line string) {
	kind, detail := ClassifyLine(line)
	logger := w.backend.logger
	switch kind {
	case LineTask:
		logger.Info().Str("task", detail).Msg("provisioning")
	case LineChanged:
		logger.Debug().Str("result", detail).Msg("changed")
	case LineFailed:
		logger.Error().Str("result", detail).Msg("provisioning step failed")
	case LineOK:
		logger.Debug().Str("result", detail).Msg("ok")
	}
	if w.backend.pctx.Verbose && kind == LineNoise && strings.TrimSpace(line) != "" {
		logger.Debug().Msg(line)
	}
}

var _ io.Writer = (*progressWriter)(nil)
