package engine

import (
	"fmt"
	"maps"
	"regexp"
	"strings"
	"unicode/utf8"
)

// splitLevels are tried in order: paragraph, line, sentence end, word.
// Text that survives all of them is cut per character.
var splitLevels = []*regexp.Regexp{
	regexp.MustCompile(`(?:\r?\n){2,}`),
	regexp.MustCompile(`\r?\n`),
	regexp.MustCompile(`[.!?]+["')\]]*\s+`),
	regexp.MustCompile(`[ \t]+`),
}

// Splitter breaks documents into overlapping chunks of at most ChunkSize
// characters (runes). Chunks are exact substrings of their document.
type Splitter struct {
	ChunkSize    int
	ChunkOverlap int
}

// NewSplitter validates size and overlap. Overlap must be smaller than size.
func NewSplitter(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, NewError(KindInvalidConfiguration, fmt.Sprintf("chunk size must be positive, got %d", size), nil)
	}
	if overlap < 0 || overlap >= size {
		return nil, NewError(KindInvalidConfiguration,
			fmt.Sprintf("chunk overlap %d must be non-negative and smaller than chunk size %d", overlap, size), nil)
	}
	return &Splitter{ChunkSize: size, ChunkOverlap: overlap}, nil
}

// span is a half-open byte range with its rune length cached.
type span struct {
	start, end int
	runes      int
}

// Split chunks every document in order. A document with no text is a NoContent error.
func (s *Splitter) Split(docs []Document) ([]Chunk, error) {
	if len(docs) == 0 {
		return nil, NewError(KindNoContent, "no documents to split", nil)
	}
	var chunks []Chunk
	for i, doc := range docs {
		if strings.TrimSpace(doc.Content) == "" {
			return nil, NewError(KindNoContent, fmt.Sprintf("document %d (%s) is empty", i, doc.Source), nil)
		}
		for _, sp := range s.spans(doc.Content) {
			text := doc.Content[sp.start:sp.end]
			if strings.TrimSpace(text) == "" {
				continue
			}
			chunks = append(chunks, Chunk{
				Content:  text,
				Source:   doc.Source,
				Metadata: maps.Clone(doc.Metadata),
				Offset:   sp.start,
			})
		}
	}
	return chunks, nil
}

// spans returns the chunk ranges for text: atomize, then greedy merge.
func (s *Splitter) spans(text string) []span {
	var atoms []span
	s.atomize(text, 0, 0, &atoms)
	return s.merge(atoms)
}

// atomize appends pieces no longer than ChunkSize. Pieces keep their trailing
// separator so that consecutive atoms tile text without gaps.
func (s *Splitter) atomize(text string, base, level int, out *[]span) {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return
	}
	if n <= s.ChunkSize {
		*out = append(*out, span{start: base, end: base + len(text), runes: n})
		return
	}
	if level >= len(splitLevels) {
		for i, r := range text {
			*out = append(*out, span{start: base + i, end: base + i + utf8.RuneLen(r), runes: 1})
		}
		return
	}
	cuts := splitLevels[level].FindAllStringIndex(text, -1)
	if len(cuts) == 0 {
		s.atomize(text, base, level+1, out)
		return
	}
	prev := 0
	for _, c := range cuts {
		if c[1] <= prev {
			continue
		}
		s.atomize(text[prev:c[1]], base+prev, level+1, out)
		prev = c[1]
	}
	if prev < len(text) {
		s.atomize(text[prev:], base+prev, level+1, out)
	}
}

// merge packs consecutive atoms into chunks. When a chunk is emitted, the next
// one starts with the longest tail of it that fits in ChunkOverlap and still
// leaves room for the incoming atom.
func (s *Splitter) merge(atoms []span) []span {
	if len(atoms) == 0 {
		return nil
	}
	var out []span
	start, total := 0, 0
	for j, a := range atoms {
		if total+a.runes > s.ChunkSize && j > start {
			out = append(out, span{start: atoms[start].start, end: atoms[j-1].end, runes: total})
			for start < j && (total > s.ChunkOverlap || total+a.runes > s.ChunkSize) {
				total -= atoms[start].runes
				start++
			}
		}
		total += a.runes
	}
	out = append(out, span{start: atoms[start].start, end: atoms[len(atoms)-1].end, runes: total})
	return out
}
