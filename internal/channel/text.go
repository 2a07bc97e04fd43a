package channel

import "strings"

// SplitLines breaks a generated reply into trimmed, non-empty lines. Each line is sent
// as its own chat bubble.
func SplitLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// LimitLines splits any line longer than limit runes into consecutive pieces.
// limit <= 0 returns lines unchanged.
func LimitLines(lines []string, limit int) []string {
	if limit <= 0 {
		return lines
	}
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if runeLen(line) <= limit {
			out = append(out, line)
			continue
		}
		out = append(out, splitLongLine(line, limit)...)
	}
	return out
}

func runeLen(value string) int {
	return len([]rune(value))
}

func splitLongLine(line string, limit int) []string {
	runes := []rune(line)
	chunks := make([]string, 0, len(runes)/limit+1)
	for start := 0; start < len(runes); start += limit {
		end := start + limit
		if end > len(runes) {
			end = len(runes)
		}
		segment := strings.TrimSpace(string(runes[start:end]))
		if segment == "" {
			continue
		}
		chunks = append(chunks, segment)
	}
	return chunks
}
