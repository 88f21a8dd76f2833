package database

import (
	"fmt"
	"sort"
	"strings"
)

// NewSQLChunk builds a synthetic chunk carrying a relational result so it
// can be injected into retrieval context. The id is prefixed "SQL-" for
// easy detection downstream.
func NewSQLChunk(idSuffix, title, body string) Chunk {
	return Chunk{
		ChunkID:   SQLChunkPrefix + idSuffix,
		ChunkType: ChunkTypeSQLResult,
		Title:     title,
		Text:      body,
	}
}

// SQLCountBody renders a class-count result as chunk text. The count line
// matches the fact-line patterns the prompt assembler preserves.
func SQLCountBody(topicCode string, count int) string {
	return fmt.Sprintf("SQL_RESULT for topic=%s\nTotal classes: %d\n", topicCode, count)
}

// SQLDateRangeBody renders a learned-at range result as chunk text.
func SQLDateRangeBody(topicCode string, r DateRange) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SQL_RESULT for topic=%s\n", topicCode)
	if r.Earliest != "" {
		fmt.Fprintf(&sb, "earliest: %s\n", r.Earliest)
	}
	if r.Latest != "" {
		fmt.Fprintf(&sb, "latest: %s\n", r.Latest)
	}
	return sb.String()
}

// SQLCourseListBody renders a course listing as chunk text.
func SQLCourseListBody(courses []Course) string {
	var sb strings.Builder
	sb.WriteString("SQL_RESULT courses\n")
	fmt.Fprintf(&sb, "Total courses: %d\n", len(courses))
	for _, c := range courses {
		fmt.Fprintf(&sb, "%s: %s\n", c.Code, c.Title)
	}
	return sb.String()
}

// SQLRowsBody renders a generic row-listing result as chunk text. The
// total line matches the fact-line patterns the prompt assembler
// preserves; each row is flattened to key: value pairs.
func SQLRowsBody(label string, rows []map[string]string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SQL_RESULT %s\n", label)
	fmt.Fprintf(&sb, "Total rows: %d\n", len(rows))
	for _, r := range rows {
		parts := make([]string, 0, len(r))
		for _, key := range sortedKeys(r) {
			parts = append(parts, fmt.Sprintf("%s: %s", key, r[key]))
		}
		sb.WriteString(strings.Join(parts, ", "))
		sb.WriteString("\n")
	}
	return sb.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SQLTopicListBody renders a topic listing as chunk text.
func SQLTopicListBody(topics []Topic) string {
	var sb strings.Builder
	sb.WriteString("SQL_RESULT topics\n")
	fmt.Fprintf(&sb, "Total topics: %d\n", len(topics))
	for _, t := range topics {
		fmt.Fprintf(&sb, "%s: %s\n", t.Code, t.Title)
	}
	return sb.String()
}
