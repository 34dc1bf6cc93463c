package chunk

import (
	"context"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
)

// languageFor maps a file extension to its tree-sitter grammar. Unrecognized
// extensions return nil and take the window fallback.
func languageFor(path string) *sitter.Language {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return golang.GetLanguage()
	case ".py":
		return python.GetLanguage()
	case ".js", ".jsx", ".mjs":
		return javascript.GetLanguage()
	default:
		return nil
	}
}

// splitSyntactic chunks content along top-level declaration boundaries.
// Adjacent small declarations are packed into one piece up to the window
// size; declarations larger than a window are re-split by the fallback so a
// single oversized function does not blow the prompt budget. Returns nil when
// the language is unrecognized or parsing fails, signaling the caller to use
// the window fallback.
func splitSyntactic(path string, content []byte) []Piece {
	lang := languageFor(path)
	if lang == nil {
		return nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil || tree == nil {
		return nil
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil
	}

	var pieces []Piece
	groupStart := -1
	groupEnd := 0

	flush := func() {
		if groupStart < 0 || groupEnd <= groupStart {
			return
		}
		if groupEnd-groupStart > windowBytes*2 {
			// Oversized declaration: window-split it in place, keeping
			// absolute byte offsets.
			for _, p := range splitWindows(content[groupStart:groupEnd]) {
				pieces = append(pieces, newPiece(content, groupStart+p.ByteStart, groupStart+p.ByteEnd))
			}
		} else {
			pieces = append(pieces, newPiece(content, groupStart, groupEnd))
		}
		groupStart = -1
	}

	for i := 0; i < int(root.ChildCount()); i++ {
		node := root.Child(i)
		start, end := int(node.StartByte()), int(node.EndByte())

		if groupStart >= 0 && end-groupStart > windowBytes {
			flush()
		}
		if groupStart < 0 {
			groupStart = start
		}
		groupEnd = end
	}
	flush()

	return pieces
}
