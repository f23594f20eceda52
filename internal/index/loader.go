package index

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/backlogic/storysearch/internal/store"
)

// maxStoryLineBytes caps a single JSONL record. Backlog exports with
// pasted documents run long, but anything past this is corrupt.
const maxStoryLineBytes = 4 * 1024 * 1024

// reservedStoryKeys are consumed into Story fields (or dropped) rather
// than carried through as metadata. Everything else in a record survives
// as a metadata string so exports keep their custom fields.
var reservedStoryKeys = map[string]bool{
	"id":         true,
	"_id":        true,
	"title":      true,
	"summary":    true,
	"content":    true,
	"text":       true,
	"project":    true,
	"priority":   true,
	"risk":       true,
	"labels":     true,
	"created_at": true,
	"updated_at": true,
	"embedding":  true, // never re-imported; vectors are rebuilt from text
}

// LoadResult contains the outcome of parsing a story corpus file.
type LoadResult struct {
	// Stories holds every parseable record in file order.
	Stories []*store.Story
	// Skipped counts records dropped as malformed or empty.
	Skipped int
}

// LoadStories reads a JSONL corpus file, one story object per line.
// Malformed lines are skipped with a warning so one bad export row does
// not abort a whole ingest. Duplicate IDs keep their first position but
// take the later record's content.
func LoadStories(path string) (*LoadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stories file: %w", err)
	}
	defer func() { _ = f.Close() }()

	result := &LoadResult{}
	position := make(map[string]int)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxStoryLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		story, err := parseStoryRecord([]byte(line))
		if err != nil {
			slog.Warn("skipping story record",
				slog.Int("line", lineNo),
				slog.String("error", err.Error()))
			result.Skipped++
			continue
		}

		if idx, seen := position[story.ID]; seen {
			slog.Warn("duplicate story id, later record wins",
				slog.String("story_id", story.ID),
				slog.Int("line", lineNo))
			result.Stories[idx] = story
			continue
		}
		position[story.ID] = len(result.Stories)
		result.Stories = append(result.Stories, story)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stories file: %w", err)
	}

	slog.Info("stories_loaded",
		slog.String("path", path),
		slog.Int("stories", len(result.Stories)),
		slog.Int("skipped", result.Skipped))

	return result, nil
}

// parseStoryRecord converts one JSON object into a Story.
// Field fallbacks match common backlog exports: content may arrive as
// "content", "text", or "summary"; Jira-style exports carry the title
// in "summary".
func parseStoryRecord(line []byte) (*store.Story, error) {
	var rec map[string]any
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}

	title := stringField(rec, "title")
	content := stringField(rec, "content")
	if content == "" {
		content = stringField(rec, "text")
	}
	summary := stringField(rec, "summary")
	if title == "" {
		title = summary
	} else if content == "" {
		content = summary
	}

	if title == "" && content == "" {
		return nil, fmt.Errorf("record has no searchable text")
	}

	id := recordID(rec)
	if id == "" {
		// Content-addressed fallback keeps re-ingests stable for
		// exports that never assigned identifiers.
		id = hashString(title + "\x00" + content)
	}

	story := &store.Story{
		ID:        id,
		Title:     title,
		Content:   content,
		Project:   stringField(rec, "project"),
		Priority:  stringField(rec, "priority"),
		Risk:      stringField(rec, "risk"),
		Labels:    store.NormalizeLabels(labelsField(rec)),
		CreatedAt: timeField(rec, "created_at"),
		UpdatedAt: timeField(rec, "updated_at"),
	}

	for key, value := range rec {
		if reservedStoryKeys[key] {
			continue
		}
		s, ok := metadataString(value)
		if !ok {
			continue
		}
		if story.Metadata == nil {
			story.Metadata = make(map[string]string)
		}
		story.Metadata[key] = s
	}

	return story, nil
}

// recordID accepts "id", then "_id" in both the plain-string and the
// mongoexport {"$oid": "..."} shapes.
func recordID(rec map[string]any) string {
	if id := stringField(rec, "id"); id != "" {
		return id
	}
	switch v := rec["_id"].(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		if oid, ok := v["$oid"].(string); ok {
			return strings.TrimSpace(oid)
		}
	}
	return ""
}

func stringField(rec map[string]any, key string) string {
	s, _ := rec[key].(string)
	return strings.TrimSpace(s)
}

// labelsField accepts a JSON array of strings or a comma-separated string.
func labelsField(rec map[string]any) []string {
	switch v := rec["labels"].(type) {
	case []any:
		labels := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				labels = append(labels, s)
			}
		}
		return labels
	case string:
		return strings.Split(v, ",")
	default:
		return nil
	}
}

func timeField(rec map[string]any, key string) time.Time {
	s, _ := rec[key].(string)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// metadataString flattens a JSON value into a metadata string.
// Nested structures are kept as compact JSON so nothing is lost; nulls
// are dropped.
func metadataString(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case nil:
		return "", false
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(raw), true
	}
}
