package lsp

import "bamlls/internal/source"

// applyChanges applies full and ranged content changes in order. Ranged
// edits address UTF-16 columns of the text as it stands before each edit.
func applyChanges(text string, changes []textDocumentContentChangeEvent) string {
	for _, change := range changes {
		if change.Range == nil {
			text = change.Text
			continue
		}
		li := source.NewLineIndex(text)
		start := int(li.Offset(toPosition(change.Range.Start)))
		end := int(li.Offset(toPosition(change.Range.End)))
		if end < start {
			end = start
		}
		text = text[:start] + change.Text + text[end:]
	}
	return text
}
