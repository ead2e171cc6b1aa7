package sink

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mattjoyce/tracetap/internal/log"
	"github.com/mattjoyce/tracetap/internal/message"
)

// Text writes formatted lines to an io.Writer.
type Text struct {
	formatter Formatter
	logger    *slog.Logger

	mu sync.Mutex
	w  io.Writer

	written      atomic.Int64
	renderErrors atomic.Int64
	writeErrors  atomic.Int64
}

var _ Sink = (*Text)(nil)

// NewText creates a text sink writing to w.
func NewText(w io.Writer, f Formatter) *Text {
	return &Text{
		formatter: f,
		logger:    log.WithComponent("sink"),
		w:         w,
	}
}

// Output formats and writes msg. Render and write failures are logged and
// counted; the message is skipped.
func (t *Text) Output(msg message.Message) {
	line, err := t.formatter.Format(msg)
	if err != nil {
		t.renderErrors.Add(1)
		t.logger.Warn("dropping message that failed to render", "id", msg.ID, "module", msg.Module, "error", err)
		return
	}

	t.mu.Lock()
	_, err = io.WriteString(t.w, line)
	t.mu.Unlock()
	if err != nil {
		t.writeErrors.Add(1)
		t.logger.Error("sink write failed", "error", err)
		return
	}
	t.written.Add(1)
}

// TextStats counts outcomes of Output calls.
type TextStats struct {
	Written      int64
	RenderErrors int64
	WriteErrors  int64
}

func (t *Text) Stats() TextStats {
	return TextStats{
		Written:      t.written.Load(),
		RenderErrors: t.renderErrors.Load(),
		WriteErrors:  t.writeErrors.Load(),
	}
}
