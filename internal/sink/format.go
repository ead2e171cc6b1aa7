package sink

import (
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/tracetap/internal/message"
)

// Mode selects the line layout.
type Mode string

const (
	// ModeAbbreviated renders "[ts][module][category]: text".
	ModeAbbreviated Mode = "abbreviated"
	// ModeVerbose renders "[ts]:[file:line] category: text".
	ModeVerbose Mode = "verbose"
)

// TimestampFormat selects how the timestamp is rendered.
type TimestampFormat string

const (
	TimestampShort TimestampFormat = "short"
	TimestampFull  TimestampFormat = "full"
)

// ShortTimeLayout is the time-of-day layout used by TimestampShort.
const ShortTimeLayout = "15:04:05.000"

// ParseMode accepts the config spelling of a mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeAbbreviated, "":
		return ModeAbbreviated, nil
	case ModeVerbose:
		return ModeVerbose, nil
	default:
		return "", fmt.Errorf("unknown sink mode %q (want abbreviated or verbose)", s)
	}
}

// ParseTimestampFormat accepts the config spelling of a timestamp format.
func ParseTimestampFormat(s string) (TimestampFormat, error) {
	switch TimestampFormat(strings.ToLower(strings.TrimSpace(s))) {
	case TimestampShort, "":
		return TimestampShort, nil
	case TimestampFull:
		return TimestampFull, nil
	default:
		return "", fmt.Errorf("unknown timestamp format %q (want short or full)", s)
	}
}

// Formatter renders messages into single lines, newline included.
type Formatter struct {
	Mode      Mode
	Timestamp TimestampFormat
	// Location converts timestamps before rendering; nil means local time.
	Location *time.Location
}

// FormatTime renders ts according to f.Timestamp.
func (f Formatter) FormatTime(ts time.Time) string {
	loc := f.Location
	if loc == nil {
		loc = time.Local
	}
	ts = ts.In(loc)
	if f.Timestamp == TimestampFull {
		return ts.Format(time.RFC1123)
	}
	return ts.Format(ShortTimeLayout)
}

// Format renders msg. It fails only when the payload cannot render.
func (f Formatter) Format(msg message.Message) (string, error) {
	text, err := msg.Text()
	if err != nil {
		return "", fmt.Errorf("render payload of %s/%s: %w", msg.Module, msg.Category, err)
	}

	ts := f.FormatTime(msg.Timestamp)
	if f.Mode == ModeVerbose {
		return fmt.Sprintf("[%s]:[%s:%d] %s: %s\n", ts, msg.File, msg.Line, msg.Category, text), nil
	}
	return fmt.Sprintf("[%s][%s][%s]: %s\n", ts, msg.Module, msg.Category, text), nil
}
