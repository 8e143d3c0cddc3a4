package progress

import (
	"bufio"
	"io"
	"strings"
)

// frame is one dispatched SSE event
type frame struct {
	ID    string
	Event string
	Data  string
}

// readFrames parses an SSE stream and calls fn per dispatched event, and comment for each comment line.
// It returns the scanner error, or nil at EOF.
func readFrames(r io.Reader, fn func(frame), comment func()) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var cur frame
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if len(data) > 0 || cur.Event != "" {
				cur.Data = strings.Join(data, "\n")
				if cur.Event == "" {
					cur.Event = "message"
				}
				fn(cur)
			}
			cur, data = frame{ID: cur.ID}, nil
			continue
		}
		if strings.HasPrefix(line, ":") {
			if comment != nil {
				comment()
			}
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			cur.Event = value
		case "data":
			data = append(data, value)
		case "id":
			cur.ID = value
		}
	}
	return scanner.Err()
}
