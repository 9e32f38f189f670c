package lsp

import "testing"

func TestApplyChanges(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		changes []textDocumentContentChangeEvent
		want    string
	}{
		{
			name:    "full replace",
			text:    "old",
			changes: []textDocumentContentChangeEvent{{Text: "new"}},
			want:    "new",
		},
		{
			name: "insert at start",
			text: "one\ntwo\n",
			changes: []textDocumentContentChangeEvent{{
				Range: &lspRange{Start: position{Line: 1, Character: 0}, End: position{Line: 1, Character: 0}},
				Text:  "// ",
			}},
			want: "one\n// two\n",
		},
		{
			name: "surrogate pair columns",
			text: "a😀b\n",
			changes: []textDocumentContentChangeEvent{{
				Range: &lspRange{Start: position{Line: 0, Character: 3}, End: position{Line: 0, Character: 4}},
				Text:  "c",
			}},
			want: "a😀c\n",
		},
		{
			name: "sequential edits see earlier ones",
			text: "ab",
			changes: []textDocumentContentChangeEvent{
				{Range: &lspRange{Start: position{Line: 0, Character: 1}, End: position{Line: 0, Character: 1}}, Text: "\n"},
				{Range: &lspRange{Start: position{Line: 1, Character: 0}, End: position{Line: 1, Character: 1}}, Text: "B"},
			},
			want: "a\nB",
		},
		{
			name: "range past end clamps",
			text: "x",
			changes: []textDocumentContentChangeEvent{{
				Range: &lspRange{Start: position{Line: 5, Character: 0}, End: position{Line: 9, Character: 9}},
				Text:  "y",
			}},
			want: "xy",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := applyChanges(tc.text, tc.changes); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
