package documents

import "strings"

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

var separators = []string{"\n\n", "\n", " ", ""}

// Split cuts text into chunks of at most size runes. It prefers paragraph,
// then line, then word boundaries, and repeats up to overlap runes of the
// previous chunk at the start of the next one.
func Split(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return split(text, separators, size, overlap)
}

func split(text string, seps []string, size, overlap int) []string {
	sep := seps[len(seps)-1]
	rest := seps[len(seps)-1:]
	for i, s := range seps {
		if s == "" || strings.Contains(text, s) {
			sep = s
			rest = seps[i+1:]
			break
		}
	}

	var pieces []string
	if sep == "" {
		pieces = strings.Split(text, "")
	} else {
		pieces = strings.Split(text, sep)
	}

	var out, pending []string
	for _, p := range pieces {
		if p == "" {
			continue
		}
		if runeLen(p) <= size {
			pending = append(pending, p)
			continue
		}
		out = append(out, merge(pending, sep, size, overlap)...)
		pending = nil
		if len(rest) == 0 {
			out = append(out, p)
		} else {
			out = append(out, split(p, rest, size, overlap)...)
		}
	}
	return append(out, merge(pending, sep, size, overlap)...)
}

// merge joins small pieces into chunks no longer than size, carrying a tail
// of at most overlap runes into the next chunk.
func merge(pieces []string, sep string, size, overlap int) []string {
	var out, window []string
	total := 0
	sepLen := runeLen(sep)
	for _, p := range pieces {
		n := runeLen(p)
		extra := 0
		if len(window) > 0 {
			extra = sepLen
		}
		if total+n+extra > size && len(window) > 0 {
			if chunk := strings.TrimSpace(strings.Join(window, sep)); chunk != "" {
				out = append(out, chunk)
			}
			for len(window) > 0 && (total > overlap || (total+n+sepLen > size && total > 0)) {
				total -= runeLen(window[0])
				if len(window) > 1 {
					total -= sepLen
				}
				window = window[1:]
			}
		}
		if len(window) > 0 {
			total += sepLen
		}
		window = append(window, p)
		total += n
	}
	if chunk := strings.TrimSpace(strings.Join(window, sep)); chunk != "" {
		out = append(out, chunk)
	}
	return out
}

func runeLen(s string) int { return len([]rune(s)) }
