package api

import (
	"github.com/mattjoyce/tracetap/internal/message"
	"github.com/mattjoyce/tracetap/internal/sink"
)

const eventMessage = "message"

type messageSink struct {
	s *Server
}

// MessageSink returns a sink that publishes each delivered message as a
// "message" event on GET /events. It never blocks the dispatch goroutine.
func (s *Server) MessageSink() sink.Sink {
	return messageSink{s: s}
}

func (m messageSink) Output(msg message.Message) {
	text, err := msg.Text()
	if err != nil {
		m.s.logger.Warn("dropping unrenderable message", "module", msg.Module, "category", msg.Category, "error", err)
		return
	}
	m.s.events.Publish(eventMessage, MessageEvent{
		ID:        msg.ID,
		Module:    msg.Module,
		Category:  msg.Category,
		Timestamp: msg.Timestamp,
		File:      msg.File,
		Line:      msg.Line,
		Text:      text,
	})
}
