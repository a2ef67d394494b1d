package transcriber

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"videoforge/internal/services"
)

// Cue is one subtitle entry.
type Cue struct {
	Index int
	Start time.Duration
	End   time.Duration
	Text  string
}

// ParseSRT parses SRT content into cues. Blank entries are skipped; a
// malformed timing line fails the whole parse since downstream overlay
// windows depend on it.
func ParseSRT(content string) ([]Cue, error) {
	blocks := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n\n")
	var cues []Cue
	for _, block := range blocks {
		lines := nonEmptyLines(block)
		if len(lines) < 2 {
			continue
		}

		offset := 0
		index := len(cues) + 1
		if n, err := strconv.Atoi(strings.TrimSpace(lines[0])); err == nil {
			index = n
			offset = 1
		}
		if offset >= len(lines) {
			continue
		}

		start, end, err := parseTiming(lines[offset])
		if err != nil {
			return nil, err
		}
		text := strings.Join(lines[offset+1:], "\n")
		if strings.TrimSpace(text) == "" {
			continue
		}
		cues = append(cues, Cue{Index: index, Start: start, End: end, Text: text})
	}
	return cues, nil
}

// PlainText flattens cues into a single prose transcript.
func PlainText(cues []Cue) string {
	parts := make([]string, 0, len(cues))
	for _, c := range cues {
		parts = append(parts, strings.ReplaceAll(c.Text, "\n", " "))
	}
	return strings.Join(parts, " ")
}

func parseTiming(line string) (time.Duration, time.Duration, error) {
	parts := strings.Split(line, "-->")
	if len(parts) != 2 {
		return 0, 0, services.NewError(services.KindValidation, "",
			fmt.Sprintf("malformed srt timing line %q", line))
	}
	start, err := parseTimestamp(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	end, err := parseTimestamp(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// parseTimestamp parses HH:MM:SS,mmm (comma or dot separator).
func parseTimestamp(ts string) (time.Duration, error) {
	ts = strings.ReplaceAll(ts, ".", ",")
	var h, m, s, ms int
	if _, err := fmt.Sscanf(ts, "%d:%d:%d,%d", &h, &m, &s, &ms); err != nil {
		return 0, services.WrapError(services.KindValidation, "",
			fmt.Sprintf("malformed srt timestamp %q", ts), err)
	}
	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(ms)*time.Millisecond, nil
}

func nonEmptyLines(block string) []string {
	var out []string
	for _, line := range strings.Split(block, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}
