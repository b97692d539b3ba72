package facade

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/memcontext/vault/internal/model"
)

// chapterBreak splits a book's raw text into chapters. It matches a line
// consisting of "Chapter" (case-insensitive) followed by a number or roman
// numeral, the common convention across plain-text book dumps.
var chapterBreak = regexp.MustCompile(`(?mi)^\s*chapter\s+([0-9]+|[ivxlcdm]+)\b.*$`)

// IngestBookInput is the payload for ingest_book.
type IngestBookInput struct {
	Title       string
	OwnerID     string
	ContextName string
	Text        string
	AccessLevel model.AccessLevel
}

// IngestBook splits Text into per-chapter memories, stores each inside the
// named context, and links them with a spine of "next" relations so a
// caller can walk the book in order starting from the first returned id.
func (f *Facade) IngestBook(ctx context.Context, in IngestBookInput) (chapterIDs []int64, err error) {
	defer func() { f.observe("ingest_book", err) }()

	if in.OwnerID == "" {
		return nil, model.ErrIntegrity("owner_id is required")
	}

	chapters := splitChapters(in.Text)
	if len(chapters) == 0 {
		chapters = []string{in.Text}
	}

	bookContext, err := f.ensureContext(ctx, in.OwnerID, in.ContextName)
	if err != nil {
		return nil, err
	}

	var contextID *int64
	if bookContext != 0 {
		contextID = &bookContext
	}

	chapterIDs = make([]int64, 0, len(chapters))
	for i, body := range chapters {
		id, err := f.CreateMemory(ctx, CreateMemoryInput{
			Title:       chapterTitle(in.Title, i),
			Content:     []byte(body),
			OwnerID:     in.OwnerID,
			ContextID:   contextID,
			AccessLevel: in.AccessLevel,
			Metadata:    map[string]string{"book_title": in.Title, "chapter_index": strconv.Itoa(i)},
		})
		if err != nil {
			return chapterIDs, err
		}
		chapterIDs = append(chapterIDs, id)
	}

	for i := 0; i+1 < len(chapterIDs); i++ {
		if _, err := f.CreateRelation(ctx, &model.Relation{
			Name: "next", SourceMemoryID: chapterIDs[i], TargetMemoryID: chapterIDs[i+1],
			Strength: 1.0, OwnerID: in.OwnerID,
		}); err != nil {
			return chapterIDs, err
		}
	}
	return chapterIDs, nil
}

func (f *Facade) ensureContext(ctx context.Context, ownerID, name string) (int64, error) {
	if name == "" {
		return 0, nil
	}
	existing, lerr := f.ListContexts(ctx, ownerID)
	if lerr != nil {
		return 0, lerr
	}
	for _, c := range existing {
		if c.Name == name {
			return c.ID, nil
		}
	}
	return f.CreateContext(ctx, &model.Context{Name: name, OwnerID: ownerID})
}

func splitChapters(text string) []string {
	locs := chapterBreak.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}
	chapters := make([]string, 0, len(locs))
	for i, loc := range locs {
		start := loc[0]
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(text[start:end])
		if body != "" {
			chapters = append(chapters, body)
		}
	}
	return chapters
}

func chapterTitle(bookTitle string, index int) string {
	if bookTitle == "" {
		return "Chapter " + strconv.Itoa(index+1)
	}
	return bookTitle + " - Chapter " + strconv.Itoa(index+1)
}
