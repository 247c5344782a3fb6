package console

import (
	"strings"
	"time"
)

// DefaultBufferLines is how much console history a Feed keeps
const DefaultBufferLines = 1000

// Publisher pushes a line to live subscribers. *websocket.Hub satisfies it.
type Publisher interface {
	Publish(room, msgType string, payload interface{}) bool
}

// Line is one captured line of server output
type Line struct {
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// Feed collects the output of the running server for the API and forwards
// each line to live subscribers.
type Feed struct {
	buffer    *RingBuffer
	publisher Publisher
	room      string
}

// NewFeed creates a feed. publisher may be nil.
func NewFeed(maxLines int, publisher Publisher, room string) *Feed {
	if maxLines <= 0 {
		maxLines = DefaultBufferLines
	}
	return &Feed{
		buffer:    NewRingBuffer(maxLines),
		publisher: publisher,
		room:      room,
	}
}

// Append records a raw output line
func (f *Feed) Append(raw string) {
	text := strings.TrimRight(StripANSI(raw), "\r\n")
	if text == "" {
		return
	}

	f.buffer.Add(text)
	if f.publisher != nil {
		f.publisher.Publish(f.room, "output", Line{Text: text, Time: time.Now()})
	}
}

// Tail returns up to limit of the newest lines that pass filter. A nil
// filter keeps everything.
func (f *Feed) Tail(limit int, filter *OutputFilter) []string {
	lines := filter.Apply(f.buffer.Lines())
	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines
}

// Clear forgets all buffered output
func (f *Feed) Clear() {
	f.buffer.Reset()
}
