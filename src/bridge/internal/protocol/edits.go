package protocol

import (
	"bytes"
	"fmt"
	"sort"

	"go.lsp.dev/protocol"
)

type offsetEdit struct {
	start, end int
	text       string
}

// ApplyTextEdits applies edits whose ranges all refer to the original content and returns the result.
// Overlapping edits are rejected.
func ApplyTextEdits(content []byte, edits []protocol.TextEdit) ([]byte, error) {
	m := NewTextOffsetMapper(content)
	resolved := make([]offsetEdit, 0, len(edits))
	for _, edit := range edits {
		start, err := m.PositionOffset(edit.Range.Start)
		if err != nil {
			return nil, fmt.Errorf("resolving edit start: %w", err)
		}
		end, err := m.PositionOffset(edit.Range.End)
		if err != nil {
			return nil, fmt.Errorf("resolving edit end: %w", err)
		}
		if end < start {
			return nil, fmt.Errorf("edit range ends before it starts at offset %d", start)
		}
		resolved = append(resolved, offsetEdit{start: start, end: end, text: edit.NewText})
	}

	sort.SliceStable(resolved, func(i, j int) bool { return resolved[i].start < resolved[j].start })
	for i := 1; i < len(resolved); i++ {
		if resolved[i].start < resolved[i-1].end {
			return nil, fmt.Errorf("overlapping edits at offset %d", resolved[i].start)
		}
	}

	var buf bytes.Buffer
	last := 0
	for _, e := range resolved {
		buf.Write(content[last:e.start])
		buf.WriteString(e.text)
		last = e.end
	}
	buf.Write(content[last:])
	return buf.Bytes(), nil
}
