// Package chunk splits file content into retrievable pieces. Recognized
// languages split along top-level declaration boundaries via tree-sitter;
// everything else falls back to fixed-size overlapping windows so context at
// boundaries is never lost.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Window sizing for the fallback splitter, in bytes. Roughly 300 tokens per
// window at ~4 bytes/token, with 15% overlap.
const (
	windowBytes  = 1200
	overlapBytes = 180
)

// Piece is one chunk of a file: a byte range, its content, and a content
// hash used for idempotent indexing.
type Piece struct {
	ByteStart int
	ByteEnd   int
	Content   string
	Hash      string
}

// Split chunks content for the given path. Syntactic splitting is attempted
// first for recognized extensions; the window fallback handles the rest and
// any parse failure.
func Split(path string, content []byte) []Piece {
	if len(content) == 0 {
		return nil
	}

	if pieces := splitSyntactic(path, content); len(pieces) > 0 {
		return pieces
	}
	return splitWindows(content)
}

// splitWindows produces fixed-size overlapping windows, snapped forward to
// the next line break so a window never opens mid-line.
func splitWindows(content []byte) []Piece {
	var pieces []Piece

	start := 0
	for start < len(content) {
		end := start + windowBytes
		if end >= len(content) {
			end = len(content)
		} else if nl := strings.IndexByte(string(content[end:]), '\n'); nl >= 0 && nl < overlapBytes {
			end += nl + 1
		}

		pieces = append(pieces, newPiece(content, start, end))
		if end == len(content) {
			break
		}
		start = end - overlapBytes
		if start <= pieces[len(pieces)-1].ByteStart {
			start = pieces[len(pieces)-1].ByteStart + 1
		}
	}
	return pieces
}

func newPiece(content []byte, start, end int) Piece {
	text := string(content[start:end])
	sum := sha256.Sum256([]byte(text))
	return Piece{
		ByteStart: start,
		ByteEnd:   end,
		Content:   text,
		Hash:      hex.EncodeToString(sum[:]),
	}
}
