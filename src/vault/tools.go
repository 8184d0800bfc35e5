package vault

import (
	"context"
	"fmt"
	"strings"

	"github.com/aymanbagabas/go-udiff"

	"github.com/scribehq/scribe/src/toolkit"
)

const readNotePrompt = `Reads a note from the vault and returns its full content.

Note names are relative markdown paths, for example "ideas/launch.md".
Reading a note that does not exist is an error.`

const writeNotePrompt = `Creates or replaces a note in the vault.

The full content of the note is written; there is no append. Parent folders
are created automatically. Prefer edit_note for changing part of an existing
note.`

const editNotePrompt = `Performs an exact string replacement inside an existing note.

The old text must occur exactly once in the note, or the edit fails. The
result includes a unified diff of the change so it can be shown to the user.`

const listNotesPrompt = `Lists the names of every note in the vault, sorted.`

const searchNotesPrompt = `Searches every note for a case-insensitive substring and returns matching
lines with their note name and line number.`

// ReadNoteInput names the note to read.
type ReadNoteInput struct {
	Name string `json:"name" required:"true" description:"Relative path of the note, e.g. ideas/launch.md"`
}

// ReadNoteOutput carries a note's content.
type ReadNoteOutput struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// WriteNoteInput replaces a note's content wholesale.
type WriteNoteInput struct {
	Name    string `json:"name" required:"true" description:"Relative path of the note to create or replace"`
	Content string `json:"content" required:"true" description:"Full new content of the note"`
}

// WriteNoteOutput reports the written note.
type WriteNoteOutput struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

// EditNoteInput is an exact-match replacement inside one note.
type EditNoteInput struct {
	Name    string `json:"name" required:"true" description:"Relative path of the note to edit"`
	OldText string `json:"old_text" required:"true" description:"Exact text to replace; must occur exactly once"`
	NewText string `json:"new_text" required:"true" description:"Replacement text"`
}

// EditNoteOutput includes a unified diff of the applied change.
type EditNoteOutput struct {
	Name string `json:"name"`
	Diff string `json:"diff"`
}

// ListNotesInput has no parameters.
type ListNotesInput struct{}

// ListNotesOutput is the sorted note catalog.
type ListNotesOutput struct {
	Notes []string `json:"notes"`
	Count int      `json:"count"`
}

// SearchNotesInput is a substring query over all notes.
type SearchNotesInput struct {
	Query string `json:"query" required:"true" description:"Case-insensitive substring to search for"`
}

// SearchNotesOutput lists matching lines.
type SearchNotesOutput struct {
	Matches []SearchMatch `json:"matches"`
	Count   int           `json:"count"`
}

// ReadNoteTool returns the read_note tool bound to this vault.
func (v *Vault) ReadNoteTool() toolkit.Tool {
	return toolkit.MustNewFunc("read_note", readNotePrompt, func(ctx context.Context, input ReadNoteInput) (ReadNoteOutput, error) {
		content, err := v.Read(input.Name)
		if err != nil {
			return ReadNoteOutput{}, err
		}
		return ReadNoteOutput{Name: input.Name, Content: content}, nil
	})
}

// WriteNoteTool returns the write_note tool bound to this vault.
func (v *Vault) WriteNoteTool() toolkit.Tool {
	return toolkit.MustNewFunc("write_note", writeNotePrompt, func(ctx context.Context, input WriteNoteInput) (WriteNoteOutput, error) {
		if err := v.Write(input.Name, input.Content); err != nil {
			return WriteNoteOutput{}, err
		}
		return WriteNoteOutput{Name: input.Name, Size: len(input.Content)}, nil
	})
}

// EditNoteTool returns the edit_note tool bound to this vault.
func (v *Vault) EditNoteTool() toolkit.Tool {
	return toolkit.MustNewFunc("edit_note", editNotePrompt, func(ctx context.Context, input EditNoteInput) (EditNoteOutput, error) {
		if input.OldText == "" {
			return EditNoteOutput{}, fmt.Errorf("old_text is required")
		}
		content, err := v.Read(input.Name)
		if err != nil {
			return EditNoteOutput{}, err
		}
		switch n := strings.Count(content, input.OldText); {
		case n == 0:
			return EditNoteOutput{}, fmt.Errorf("old_text not found in %s", input.Name)
		case n > 1:
			return EditNoteOutput{}, fmt.Errorf("old_text occurs %d times in %s, provide more context", n, input.Name)
		}

		updated := strings.Replace(content, input.OldText, input.NewText, 1)
		if err := v.Write(input.Name, updated); err != nil {
			return EditNoteOutput{}, err
		}
		diff := udiff.Unified("a/"+input.Name, "b/"+input.Name, content, updated)
		return EditNoteOutput{Name: input.Name, Diff: diff}, nil
	})
}

// ListNotesTool returns the list_notes tool bound to this vault.
func (v *Vault) ListNotesTool() toolkit.Tool {
	return toolkit.MustNewFunc("list_notes", listNotesPrompt, func(ctx context.Context, input ListNotesInput) (ListNotesOutput, error) {
		notes, err := v.List()
		if err != nil {
			return ListNotesOutput{}, err
		}
		return ListNotesOutput{Notes: notes, Count: len(notes)}, nil
	})
}

// SearchNotesTool returns the search_notes tool bound to this vault.
func (v *Vault) SearchNotesTool() toolkit.Tool {
	return toolkit.MustNewFunc("search_notes", searchNotesPrompt, func(ctx context.Context, input SearchNotesInput) (SearchNotesOutput, error) {
		matches, err := v.Search(input.Query)
		if err != nil {
			return SearchNotesOutput{}, err
		}
		return SearchNotesOutput{Matches: matches, Count: len(matches)}, nil
	})
}

// RegisterAll registers every vault tool plus the web fetch tool on the
// toolbox.
func (v *Vault) RegisterAll(tb *toolkit.Toolbox) error {
	tools := []toolkit.Tool{
		v.ReadNoteTool(),
		v.WriteNoteTool(),
		v.EditNoteTool(),
		v.ListNotesTool(),
		v.SearchNotesTool(),
		FetchPageTool(nil, v.logger),
	}
	for _, tool := range tools {
		if err := tb.Register(tool); err != nil {
			return err
		}
	}
	return nil
}
