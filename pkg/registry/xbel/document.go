package xbel

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/entrhq/recent-scrub/pkg/registry"
)

// bookmark is one <bookmark> element and its byte range in the document.
type bookmark struct {
	start, end int64
	entry      registry.Entry
}

// scan locates every top-level <bookmark> element. Offsets allow removing
// elements without re-serialising (and thereby restructuring) the rest of
// the document.
func scan(data []byte) ([]bookmark, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		marks   []bookmark
		current *bookmark
		depth   int
		sawRoot bool
	)

	for {
		offset := dec.InputOffset()
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse xbel: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch {
			case depth == 1:
				if t.Name.Local != "xbel" {
					return nil, fmt.Errorf("parse xbel: unexpected root element <%s>", t.Name.Local)
				}
				sawRoot = true
			case depth == 2 && t.Name.Local == "bookmark":
				current = &bookmark{start: offset, entry: entryFromAttrs(t.Attr)}
			case current != nil && t.Name.Local == "mime-type":
				current.entry.MimeType = attr(t.Attr, "type")
			case current != nil && t.Name.Local == "application":
				if name := attr(t.Attr, "name"); name != "" {
					current.entry.Applications = append(current.entry.Applications, name)
				}
			}
		case xml.EndElement:
			if depth == 2 && current != nil && t.Name.Local == "bookmark" {
				current.end = dec.InputOffset()
				marks = append(marks, *current)
				current = nil
			}
			depth--
		}
	}

	if !sawRoot {
		return nil, errors.New("parse xbel: missing <xbel> root element")
	}
	return marks, nil
}

// excise returns data without the given elements. Leading indentation and
// the preceding line break of each element go with it.
func excise(data []byte, marks []bookmark) []byte {
	out := make([]byte, 0, len(data))
	var pos int64
	for _, m := range marks {
		start := m.start
		for start > pos && isSpace(data[start-1]) {
			start--
		}
		out = append(out, data[pos:start]...)
		pos = m.end
	}
	return append(out, data[pos:]...)
}

func entryFromAttrs(attrs []xml.Attr) registry.Entry {
	return registry.Entry{
		URI:      attr(attrs, "href"),
		Added:    parseTime(attr(attrs, "added")),
		Modified: parseTime(attr(attrs, "modified")),
		Visited:  parseTime(attr(attrs, "visited")),
	}
}

func attr(attrs []xml.Attr, name string) string {
	for _, a := range attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
