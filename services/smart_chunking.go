package services

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultSeparators are tried in order: paragraph, line, sentence, word, character.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// SmartChunkingService splits text into overlapping chunks, preferring
// natural boundaries. Sizes are measured in characters (runes).
type SmartChunkingService struct {
	chunkSize  int
	overlap    int
	separators []string
}

// ChunkingOption configures a SmartChunkingService.
type ChunkingOption func(*SmartChunkingService)

// WithChunkSize sets the target chunk size in characters.
func WithChunkSize(n int) ChunkingOption {
	return func(s *SmartChunkingService) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithOverlap sets how many trailing characters a chunk may share with the next one.
func WithOverlap(n int) ChunkingOption {
	return func(s *SmartChunkingService) {
		if n >= 0 {
			s.overlap = n
		}
	}
}

// NewSmartChunkingService creates a chunker with 1000/100 defaults.
func NewSmartChunkingService(opts ...ChunkingOption) *SmartChunkingService {
	s := &SmartChunkingService{
		chunkSize:  1000,
		overlap:    100,
		separators: DefaultSeparators,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.overlap >= s.chunkSize {
		s.overlap = s.chunkSize - 1
	}
	return s
}

// ChunkSize returns the configured target size.
func (s *SmartChunkingService) ChunkSize() int { return s.chunkSize }

// Overlap returns the configured overlap.
func (s *SmartChunkingService) Overlap() int { return s.overlap }

// TextSpan is a chunk and its byte offsets in the text it was cut from.
type TextSpan struct {
	Start int
	End   int
	Text  string
}

type piece struct {
	start, end int
	runes      int
}

// Split returns the chunk texts of text in order.
func (s *SmartChunkingService) Split(text string) []string {
	spans := s.SplitSpans(text)
	if len(spans) == 0 {
		return nil
	}
	out := make([]string, len(spans))
	for i, sp := range spans {
		out[i] = sp.Text
	}
	return out
}

// SplitSpans is Split with byte offsets. Every span satisfies
// text[Start:End] == Text and Text is never empty.
func (s *SmartChunkingService) SplitSpans(text string) []TextSpan {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.splitRange(text, 0, len(text), s.separators)
}

func (s *SmartChunkingService) splitRange(text string, start, end int, separators []string) []TextSpan {
	segment := text[start:end]

	sep := separators[len(separators)-1]
	var rest []string
	for i, cand := range separators {
		if cand == "" {
			sep = ""
			break
		}
		if strings.Contains(segment, cand) {
			sep = cand
			rest = separators[i+1:]
			break
		}
	}

	var out []TextSpan
	var good []piece
	for _, p := range splitKeepingSeparator(text, start, end, sep) {
		if p.runes < s.chunkSize {
			good = append(good, p)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.mergePieces(text, good)...)
			good = nil
		}
		if len(rest) == 0 {
			out = appendTrimmed(out, text, p.start, p.end)
		} else {
			out = append(out, s.splitRange(text, p.start, p.end, rest)...)
		}
	}
	if len(good) > 0 {
		out = append(out, s.mergePieces(text, good)...)
	}
	return out
}

// mergePieces packs consecutive pieces into chunks. When a chunk is full,
// pieces are dropped from its front until at most overlap characters remain,
// and those become the start of the next chunk.
func (s *SmartChunkingService) mergePieces(text string, pieces []piece) []TextSpan {
	var out []TextSpan
	var window []piece
	total := 0
	for _, p := range pieces {
		if total+p.runes > s.chunkSize && len(window) > 0 {
			out = appendTrimmed(out, text, window[0].start, window[len(window)-1].end)
			for total > s.overlap || (total+p.runes > s.chunkSize && total > 0) {
				total -= window[0].runes
				window = window[1:]
			}
		}
		window = append(window, p)
		total += p.runes
	}
	if len(window) > 0 {
		out = appendTrimmed(out, text, window[0].start, window[len(window)-1].end)
	}
	return out
}

// splitKeepingSeparator cuts text[start:end] after every occurrence of sep,
// so each separator stays at the end of the piece before it. An empty sep
// yields one piece per character. Empty pieces are dropped.
func splitKeepingSeparator(text string, start, end int, sep string) []piece {
	var pieces []piece
	if sep == "" {
		for i := start; i < end; {
			_, size := utf8.DecodeRuneInString(text[i:end])
			pieces = append(pieces, piece{start: i, end: i + size, runes: 1})
			i += size
		}
		return pieces
	}

	pos := start
	for pos < end {
		idx := strings.Index(text[pos:end], sep)
		cut := end
		if idx >= 0 {
			cut = pos + idx + len(sep)
		}
		pieces = append(pieces, piece{start: pos, end: cut, runes: utf8.RuneCountInString(text[pos:cut])})
		pos = cut
	}
	return pieces
}

func appendTrimmed(out []TextSpan, text string, start, end int) []TextSpan {
	for start < end {
		r, size := utf8.DecodeRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		start += size
	}
	for end > start {
		r, size := utf8.DecodeLastRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		end -= size
	}
	if start == end {
		return out
	}
	return append(out, TextSpan{Start: start, End: end, Text: text[start:end]})
}
