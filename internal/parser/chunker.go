// Package parser splits long conversation transcripts into pieces that fit
// a model's context window.
package parser

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ChunkConfig defines chunking parameters. Sizes are in bytes.
type ChunkConfig struct {
	// Threshold: only chunk if the transcript exceeds this length
	Threshold int
	// MaxSize: chunks grow turn by turn up to this size
	MaxSize int
	// TargetSize: turns longer than MaxSize are split at sentences into pieces of about this size
	TargetSize int
	// OverlapTurns: trailing turns of a chunk repeated at the start of the next
	OverlapTurns int
}

// DefaultChunkConfig returns defaults sized for small local models.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		Threshold:    12000,
		MaxSize:      8000,
		TargetSize:   4000,
		OverlapTurns: 1,
	}
}

// ShouldChunk returns true if a transcript of the given turns should be chunked.
func ShouldChunk(turns []string, config ChunkConfig) bool {
	return transcriptLen(turns) > config.Threshold
}

// ChunkTranscript groups turns into newline-joined chunks. Chunk boundaries
// fall between turns; a single turn larger than MaxSize is split at
// sentence boundaries. Short transcripts come back as one chunk and an
// empty transcript as none.
func ChunkTranscript(turns []string, config ChunkConfig) []string {
	turns = nonEmpty(turns)
	if len(turns) == 0 {
		return nil
	}
	if !ShouldChunk(turns, config) {
		return []string{strings.Join(turns, "\n")}
	}

	var chunks []string
	var current []string
	size, fresh := 0, 0

	flush := func() {
		if fresh == 0 {
			return
		}
		chunks = append(chunks, strings.Join(current, "\n"))
		keep := min(max(config.OverlapTurns, 0), len(current))
		current = append([]string(nil), current[len(current)-keep:]...)
		size, fresh = transcriptLen(current), 0
	}

	for _, turn := range turns {
		if len(turn) > config.MaxSize {
			flush()
			current, size = nil, 0
			chunks = append(chunks, splitTurn(turn, config)...)
			continue
		}
		if size+len(turn)+1 > config.MaxSize && fresh > 0 {
			flush()
			for len(current) > 0 && size+len(turn)+1 > config.MaxSize {
				current = current[1:]
				size = transcriptLen(current)
			}
		}
		current = append(current, turn)
		size += len(turn) + 1
		fresh++
	}
	flush()
	return chunks
}

// splitTurn splits one oversized turn by sentences, cutting sentences
// longer than the target at rune boundaries. Every piece after the first
// repeats the speaker prefix so the model keeps attribution. No piece
// exceeds TargetSize (or MaxSize when that is smaller).
func splitTurn(turn string, config ChunkConfig) []string {
	prefix := ""
	if speaker, _, ok := strings.Cut(turn, ": "); ok && !strings.ContainsAny(speaker, " \n") {
		prefix = speaker + ": "
	}
	target := config.TargetSize
	if target <= 0 || target > config.MaxSize {
		target = config.MaxSize
	}
	room := max(target-len(prefix)-1, utf8.UTFMax)

	var chunks []string
	var current strings.Builder
	empty := func() bool { return current.Len() == 0 || current.String() == prefix }

	for _, sentence := range splitSentences(turn) {
		for _, piece := range hardSplit(strings.TrimSpace(sentence), room) {
			if !empty() && current.Len()+1+len(piece) > target {
				chunks = append(chunks, current.String())
				current.Reset()
				current.WriteString(prefix)
			}
			if !empty() {
				current.WriteString(" ")
			}
			current.WriteString(piece)
		}
	}
	if !empty() {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// hardSplit cuts s into pieces of at most n bytes, preferring the last
// whitespace in the second half of each window and otherwise the last rune
// boundary.
func hardSplit(s string, n int) []string {
	var pieces []string
	for len(s) > n {
		cut := n
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if sp := strings.LastIndexFunc(s[:cut], unicode.IsSpace); sp > cut/2 {
			cut = sp
		}
		if piece := strings.TrimSpace(s[:cut]); piece != "" {
			pieces = append(pieces, piece)
		}
		s = strings.TrimLeftFunc(s[cut:], unicode.IsSpace)
	}
	if s = strings.TrimSpace(s); s != "" {
		pieces = append(pieces, s)
	}
	return pieces
}

// splitSentences splits text into sentences. CJK full-width terminators
// end a sentence without trailing space.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		switch r {
		case '。', '！', '？':
			sentences = append(sentences, current.String())
			current.Reset()
		case '.', '!', '?':
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				if i > 1 && unicode.IsUpper(runes[i-1]) {
					continue // Likely abbreviation like "Dr."
				}
				sentences = append(sentences, current.String())
				current.Reset()
			}
		}
	}

	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}
	return sentences
}

func nonEmpty(turns []string) []string {
	out := make([]string, 0, len(turns))
	for _, t := range turns {
		if strings.TrimSpace(t) != "" {
			out = append(out, t)
		}
	}
	return out
}

func transcriptLen(turns []string) int {
	n := 0
	for _, t := range turns {
		n += len(t) + 1
	}
	return n
}
