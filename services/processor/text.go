// Package processor implements DocumentProcessor for utf-8 text and
// markdown documents. Splitting is paragraph-first: blank lines delimit
// paragraphs, adjacent paragraphs pack into chunks up to the size limit, and
// oversized paragraphs fold into fixed windows with overlap so no content is
// lost at window edges.
package processor

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ragforge/models"
	"github.com/ragforge/services"
)

const (
	defaultMaxChunkChars = 1200
	defaultOverlapChars  = 150
)

// TextProcessor chunks plain text. Offsets in the produced chunks are rune
// positions into the newline-normalized document.
type TextProcessor struct {
	maxChunkChars int
	overlapChars  int
}

func NewTextProcessor(maxChunkChars, overlapChars int) *TextProcessor {
	if maxChunkChars <= 0 {
		maxChunkChars = defaultMaxChunkChars
	}
	if overlapChars < 0 || overlapChars >= maxChunkChars {
		overlapChars = defaultOverlapChars
		if overlapChars >= maxChunkChars {
			overlapChars = maxChunkChars / 4
		}
	}
	return &TextProcessor{maxChunkChars: maxChunkChars, overlapChars: overlapChars}
}

func (p *TextProcessor) Process(ctx context.Context, data []byte, filename string, documentID string) ([]models.ProcessedChunk, *services.ProcessMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if bytes.ContainsRune(data, 0) || !utf8.Valid(data) {
		return nil, nil, models.NewValidationError(fmt.Sprintf("document %s is not valid utf-8 text", filename))
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	runes := []rune(text)

	chunks := make([]models.ProcessedChunk, 0)
	emit := func(start, end int) {
		content := string(runes[start:end])
		if strings.TrimSpace(content) == "" {
			return
		}
		chunks = append(chunks, models.ProcessedChunk{
			Content:    content,
			ChunkIndex: len(chunks),
			StartChar:  start,
			EndChar:    end,
			Metadata:   map[string]interface{}{"filename": filename, "document_id": documentID},
		})
	}

	var curStart, curEnd int
	haveCur := false
	flush := func() {
		if haveCur {
			emit(curStart, curEnd)
			haveCur = false
		}
	}

	for _, r := range paragraphRanges(runes) {
		start, end := r[0], r[1]

		// Oversized paragraphs fold into overlapping windows.
		if end-start > p.maxChunkChars {
			flush()
			step := p.maxChunkChars - p.overlapChars
			for lo := start; lo < end; lo += step {
				hi := lo + p.maxChunkChars
				if hi > end {
					hi = end
				}
				emit(lo, hi)
				if hi == end {
					break
				}
			}
			continue
		}

		if haveCur && end-curStart > p.maxChunkChars {
			flush()
		}
		if !haveCur {
			curStart = start
			haveCur = true
		}
		curEnd = end
	}
	flush()

	meta := &services.ProcessMeta{
		ChunkCount: len(chunks),
		TotalChars: len(runes),
		Metadata:   map[string]interface{}{"filename": filename},
	}
	return chunks, meta, nil
}

// paragraphRanges returns half-open rune ranges of non-blank paragraphs.
// A blank line (a newline followed by optional spaces and another newline)
// separates paragraphs; single newlines stay inside one paragraph.
func paragraphRanges(runes []rune) [][2]int {
	var ranges [][2]int
	n := len(runes)
	i := 0

	for i < n {
		for i < n && unicode.IsSpace(runes[i]) {
			i++
		}
		if i >= n {
			break
		}
		start := i

		for i < n {
			if runes[i] == '\n' {
				j := i + 1
				for j < n && (runes[j] == ' ' || runes[j] == '\t') {
					j++
				}
				if j >= n || runes[j] == '\n' {
					break
				}
			}
			i++
		}

		end := i
		for end > start && unicode.IsSpace(runes[end-1]) {
			end--
		}
		if end > start {
			ranges = append(ranges, [2]int{start, end})
		}
	}
	return ranges
}
