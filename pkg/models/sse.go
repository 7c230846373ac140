package models

import (
	"bufio"
	"io"
	"strings"
)

// sseEvent is one Server-Sent Event: the "event:" field plus the joined
// "data:" lines.
type sseEvent struct {
	Type string
	Data string
}

// sseScanner parses an SSE byte stream. Events are delimited by blank lines;
// comment lines (":") and unknown fields are skipped.
type sseScanner struct {
	reader  *bufio.Reader
	current sseEvent
	err     error
}

func newSSEScanner(r io.Reader) *sseScanner {
	return &sseScanner{reader: bufio.NewReaderSize(r, 64*1024)}
}

func (s *sseScanner) Next() bool {
	s.current = sseEvent{}

	var dataLines []string
	var eventType string
	hasData := false

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && line == "" {
			if err == io.EOF {
				if hasData {
					s.current = sseEvent{Type: eventType, Data: strings.Join(dataLines, "\n")}
					s.err = io.EOF
					return true
				}
				return false
			}
			s.err = err
			return false
		}

		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if hasData {
				s.current = sseEvent{Type: eventType, Data: strings.Join(dataLines, "\n")}
				return true
			}
			eventType = ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, hasColon := strings.Cut(line, ":")
		if !hasColon {
			field = line
			value = ""
		} else {
			// one leading space after the colon is part of the delimiter
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "data":
			dataLines = append(dataLines, value)
			hasData = true
		case "event":
			eventType = value
		}
	}
}

func (s *sseScanner) Event() sseEvent { return s.current }

func (s *sseScanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}
