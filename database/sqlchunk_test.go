package database

import (
	"strings"
	"testing"
)

func TestNewSQLChunk(t *testing.T) {
	c := NewSQLChunk("count_classes_C1-T1", "Class count C1-T1", SQLCountBody("C1-T1", 5))

	if c.ChunkID != "SQL-count_classes_C1-T1" {
		t.Fatalf("chunk id = %s", c.ChunkID)
	}
	if c.ChunkType != ChunkTypeSQLResult {
		t.Fatalf("chunk type = %s", c.ChunkType)
	}
	if !c.IsSQLResult() {
		t.Fatal("SQL chunk not detected")
	}
	if !strings.Contains(c.Text, "Total classes: 5") {
		t.Fatalf("body = %q", c.Text)
	}
}

func TestIsSQLResult(t *testing.T) {
	if (Chunk{ChunkID: "TOPIC-1"}).IsSQLResult() {
		t.Fatal("corpus chunk misdetected as SQL result")
	}
	if !(Chunk{ChunkID: "SQL-list_courses"}).IsSQLResult() {
		t.Fatal("SQL chunk not detected")
	}
}

func TestSQLDateRangeBody(t *testing.T) {
	body := SQLDateRangeBody("C2-T3", DateRange{Earliest: "2025-06-21T00:00", Latest: "2025-06-21T00:00"})
	if !strings.Contains(body, "earliest: 2025-06-21T00:00") || !strings.Contains(body, "latest: 2025-06-21T00:00") {
		t.Fatalf("body = %q", body)
	}
}

func TestSQLRowsBody(t *testing.T) {
	rows := []map[string]string{
		{"topic_code": "C1-T1", "topic_title": "SQL Basics", "learned_at": "2025-06-21T09:00"},
	}
	body := SQLRowsBody("Classes on 2025-06-21", rows)
	if !strings.Contains(body, "Total rows: 1") {
		t.Fatalf("body = %q", body)
	}
	if !strings.Contains(body, "learned_at: 2025-06-21T09:00, topic_code: C1-T1, topic_title: SQL Basics") {
		t.Fatalf("body = %q", body)
	}
}

func TestSQLListBodiesCarryTotals(t *testing.T) {
	courses := []Course{{Code: "C1", Title: "Databases"}, {Code: "C2", Title: "Algorithms"}}
	body := SQLCourseListBody(courses)
	if !strings.Contains(body, "Total courses: 2") || !strings.Contains(body, "C1: Databases") {
		t.Fatalf("body = %q", body)
	}

	topics := []Topic{{Code: "C1-T1", Title: "SQL Basics"}}
	body = SQLTopicListBody(topics)
	if !strings.Contains(body, "Total topics: 1") || !strings.Contains(body, "C1-T1: SQL Basics") {
		t.Fatalf("body = %q", body)
	}
}
