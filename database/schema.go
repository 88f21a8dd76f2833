package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the curriculum tables when missing. All reads in the
// Store are parameterized against this layout.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			chunk_id TEXT PRIMARY KEY,
			chunk_type TEXT NOT NULL,
			title TEXT,
			text TEXT NOT NULL,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS courses (
			id SERIAL PRIMARY KEY,
			code TEXT UNIQUE NOT NULL,
			title TEXT NOT NULL,
			description TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS topics (
			id SERIAL PRIMARY KEY,
			course_id INT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
			code TEXT UNIQUE NOT NULL,
			title TEXT NOT NULL,
			position INT
		)`,
		`CREATE TABLE IF NOT EXISTS instructors (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS classes (
			id SERIAL PRIMARY KEY,
			topic_id INT NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
			instructor_id INT REFERENCES instructors(id),
			title TEXT,
			content TEXT,
			class_number INT,
			learned_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS assignments (
			id SERIAL PRIMARY KEY,
			title TEXT NOT NULL,
			due_date DATE
		)`,
		`CREATE TABLE IF NOT EXISTS assignment_topics (
			assignment_id INT NOT NULL REFERENCES assignments(id) ON DELETE CASCADE,
			topic_id INT NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
			PRIMARY KEY (assignment_id, topic_id)
		)`,
		"CREATE INDEX IF NOT EXISTS idx_chunks_type ON chunks(chunk_type)",
		"CREATE INDEX IF NOT EXISTS idx_classes_topic ON classes(topic_id)",
		"CREATE INDEX IF NOT EXISTS idx_topics_course ON topics(course_id)",
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}

	return nil
}
