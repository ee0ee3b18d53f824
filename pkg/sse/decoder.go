// Package sse decodes and writes text/event-stream frames.
package sse

import "strings"

// DefaultEvent is the event name of a frame that carries no "event:" line.
const DefaultEvent = "message"

const (
	eventPrefix = "event:"
	dataPrefix  = "data:"
	separator   = "\n\n"
)

// Frame is one decoded unit of an event stream.
type Frame struct {
	Event string
	Data  string
}

// Decode splits the text received so far into complete frames and the
// trailing remainder that has not been terminated by a blank line yet.
//
// Decode keeps no state: callers append the next chunk to the returned
// remainder and call it again. Segments without data (keep-alives,
// comments) are dropped.
func Decode(buf string) ([]Frame, string) {
	buf = strings.ReplaceAll(buf, "\r\n", "\n")

	segments := strings.Split(buf, separator)
	remainder := segments[len(segments)-1]

	var frames []Frame
	for _, segment := range segments[:len(segments)-1] {
		if frame, ok := parseSegment(segment); ok {
			frames = append(frames, frame)
		}
	}
	return frames, remainder
}

func parseSegment(segment string) (Frame, bool) {
	frame := Frame{Event: DefaultEvent}

	var data strings.Builder
	for _, line := range strings.Split(segment, "\n") {
		switch {
		case strings.HasPrefix(line, eventPrefix):
			if name := strings.TrimSpace(line[len(eventPrefix):]); name != "" {
				frame.Event = name
			}
		case strings.HasPrefix(line, dataPrefix):
			value := line[len(dataPrefix):]
			// a single space after the colon belongs to the marker
			value = strings.TrimPrefix(value, " ")
			data.WriteString(value)
		}
	}

	if data.Len() == 0 {
		return Frame{}, false
	}
	frame.Data = data.String()
	return frame, true
}
