package tui

import (
	"strings"
	"time"
)

const (
	activityDots = 5
	dotFade      = 2 * time.Second
)

// Spinner lights up when a message arrives and loses one dot per dotFade of
// silence.
type Spinner struct {
	dots      int
	lastEvent time.Time
}

func (s *Spinner) OnMessage(now time.Time) {
	s.dots = activityDots
	s.lastEvent = now
}

func (s *Spinner) Decay(now time.Time) {
	if s.dots == 0 {
		return
	}
	lost := int(now.Sub(s.lastEvent) / dotFade)
	s.dots = max(activityDots-lost, 0)
}

func (s Spinner) Dots() int { return s.dots }

func (s Spinner) Render(theme Theme) string {
	lit := theme.TickerActive.Render("●")
	dark := theme.TickerInactive.Render("○")
	return strings.Repeat(lit, s.dots) + strings.Repeat(dark, activityDots-s.dots)
}

func (s Spinner) LastEvent() time.Time { return s.lastEvent }
