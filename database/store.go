package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// isoMinute matches java.time.LocalDateTime.toString() for whole-minute
// timestamps, which is what the corpus stores for learned_at.
const isoMinute = "2006-01-02T15:04"

// Store executes parameterized reads over the curriculum tables and owns
// chunk rows. It also builds the synthetic SQL-result chunks injected into
// retrieval context.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// FetchChunks hydrates full chunk rows for the given ids. Unknown ids are
// simply absent from the returned map.
func (s *Store) FetchChunks(ctx context.Context, chunkIDs []string) (map[string]Chunk, error) {
	out := make(map[string]Chunk, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		"SELECT chunk_id, chunk_type, title, text, metadata FROM chunks WHERE chunk_id = ANY($1)",
		chunkIDs)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out[c.ChunkID] = c
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// AllChunks loads every chunk row into memory, used by the lexical reindexer.
func (s *Store) AllChunks(ctx context.Context) ([]Chunk, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT chunk_id, chunk_type, title, text, metadata FROM chunks ORDER BY chunk_id")
	if err != nil {
		return nil, fmt.Errorf("query all chunks: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanChunk(rows pgx.Rows) (Chunk, error) {
	var c Chunk
	var title, text *string
	var metadata []byte
	if err := rows.Scan(&c.ChunkID, &c.ChunkType, &title, &text, &metadata); err != nil {
		return Chunk{}, fmt.Errorf("scan chunk row: %w", err)
	}
	if title != nil {
		c.Title = *title
	}
	if text != nil {
		c.Text = *text
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			// metadata is advisory; a malformed bag must not sink the row
			c.Metadata = nil
		}
	}
	return c, nil
}

func (s *Store) resolveTopicID(ctx context.Context, topicCode string) (int, bool, error) {
	var id int
	err := s.pool.QueryRow(ctx,
		"SELECT id FROM topics WHERE UPPER(code) = UPPER($1)",
		strings.TrimSpace(topicCode)).Scan(&id)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("resolve topic id: %w", err)
	}
	return id, true, nil
}

// LearnedAtRange returns the earliest and latest class timestamps for a
// topic code. The second return is false when the topic is unknown or has
// no classes.
func (s *Store) LearnedAtRange(ctx context.Context, topicCode string) (DateRange, bool, error) {
	topicID, ok, err := s.resolveTopicID(ctx, topicCode)
	if err != nil || !ok {
		return DateRange{}, false, err
	}

	var earliest, latest *time.Time
	err = s.pool.QueryRow(ctx,
		"SELECT MIN(learned_at), MAX(learned_at) FROM classes WHERE topic_id = $1",
		topicID).Scan(&earliest, &latest)
	if err != nil {
		return DateRange{}, false, fmt.Errorf("query learned range: %w", err)
	}
	if earliest == nil && latest == nil {
		return DateRange{}, false, nil
	}

	var r DateRange
	if earliest != nil {
		r.Earliest = earliest.Format(isoMinute)
	}
	if latest != nil {
		r.Latest = latest.Format(isoMinute)
	}
	return r, true, nil
}

// CountClassesForTopic counts classes for a topic code. The second return
// is false when the topic code is unknown.
func (s *Store) CountClassesForTopic(ctx context.Context, topicCode string) (int, bool, error) {
	topicID, ok, err := s.resolveTopicID(ctx, topicCode)
	if err != nil || !ok {
		return 0, false, err
	}

	var cnt int
	err = s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM classes WHERE topic_id = $1", topicID).Scan(&cnt)
	if err != nil {
		return 0, false, fmt.Errorf("count classes: %w", err)
	}
	return cnt, true, nil
}

func (s *Store) ListCourses(ctx context.Context) ([]Course, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, code, title, COALESCE(description, '') FROM courses ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()

	var out []Course
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.Code, &c.Title, &c.Description); err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListTopics(ctx context.Context) ([]Topic, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, course_id, code, title, COALESCE(position, 0) FROM topics ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	var out []Topic
	for rows.Next() {
		var t Topic
		if err := rows.Scan(&t.ID, &t.CourseID, &t.Code, &t.Title, &t.Position); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ListInstructors(ctx context.Context) ([]map[string]string, error) {
	return s.queryRowsAsMaps(ctx,
		"SELECT id::text AS id, name FROM instructors ORDER BY name")
}

// TopicsOnDate lists topics (with their classes) taught on an ISO date.
func (s *Store) TopicsOnDate(ctx context.Context, isoDate string) ([]map[string]string, error) {
	return s.queryRowsAsMaps(ctx,
		`SELECT c.id::text AS class_id, to_char(c.learned_at, 'YYYY-MM-DD"T"HH24:MI') AS learned_at,
		        t.code AS topic_code, t.title AS topic_title
		 FROM classes c JOIN topics t ON c.topic_id = t.id
		 WHERE DATE(c.learned_at) = $1::date ORDER BY t.code`, isoDate)
}

// ClassesOnDate lists classes taught on an ISO date ordered by time.
func (s *Store) ClassesOnDate(ctx context.Context, isoDate string) ([]map[string]string, error) {
	return s.queryRowsAsMaps(ctx,
		`SELECT c.id::text AS class_id, to_char(c.learned_at, 'YYYY-MM-DD"T"HH24:MI') AS learned_at,
		        t.code AS topic_code, t.title AS topic_title
		 FROM classes c JOIN topics t ON c.topic_id = t.id
		 WHERE DATE(c.learned_at) = $1::date ORDER BY c.learned_at`, isoDate)
}

// ClassesByInstructor lists classes taught by an instructor, matched
// case-insensitively by name.
func (s *Store) ClassesByInstructor(ctx context.Context, instructorName string) ([]map[string]string, error) {
	return s.queryRowsAsMaps(ctx,
		`SELECT c.id::text AS class_id, to_char(c.learned_at, 'YYYY-MM-DD"T"HH24:MI') AS learned_at,
		        t.code AS topic_code, t.title AS topic_title
		 FROM classes c
		 JOIN instructors i ON c.instructor_id = i.id
		 JOIN topics t ON c.topic_id = t.id
		 WHERE UPPER(i.name) = UPPER($1) ORDER BY c.learned_at`,
		strings.TrimSpace(instructorName))
}

// AssignmentsForClass lists assignments linked (via topic) to a class.
func (s *Store) AssignmentsForClass(ctx context.Context, classID, limit int) ([]map[string]string, error) {
	return s.queryRowsAsMaps(ctx,
		`SELECT a.id::text AS assignment_id, a.title, COALESCE(to_char(a.due_date, 'YYYY-MM-DD'), '') AS due_date
		 FROM assignments a
		 JOIN assignment_topics at ON a.id = at.assignment_id
		 JOIN classes c ON at.topic_id = c.topic_id
		 WHERE c.id = $1 ORDER BY a.due_date LIMIT $2`, classID, limit)
}

// AssignmentsDueOnDate lists assignments due on an ISO date.
func (s *Store) AssignmentsDueOnDate(ctx context.Context, isoDate string) ([]map[string]string, error) {
	return s.queryRowsAsMaps(ctx,
		`SELECT id::text AS assignment_id, title, COALESCE(to_char(due_date, 'YYYY-MM-DD'), '') AS due_date
		 FROM assignments WHERE due_date = $1::date ORDER BY due_date`, isoDate)
}

// TopicsWithMostAssignments ranks topics by assignment count.
func (s *Store) TopicsWithMostAssignments(ctx context.Context, limit int) ([]map[string]string, error) {
	return s.queryRowsAsMaps(ctx,
		`SELECT t.code, t.title, COUNT(at.assignment_id)::text AS assignments_count
		 FROM topics t JOIN assignment_topics at ON at.topic_id = t.id
		 GROUP BY t.id ORDER BY COUNT(at.assignment_id) DESC LIMIT $1`, limit)
}

// CountAssignmentsPerTopic reports assignment counts per topic including
// zero-assignment topics.
func (s *Store) CountAssignmentsPerTopic(ctx context.Context) ([]map[string]string, error) {
	return s.queryRowsAsMaps(ctx,
		`SELECT t.code, t.title, COUNT(at.assignment_id)::text AS assignments_count
		 FROM topics t LEFT JOIN assignment_topics at ON at.topic_id = t.id
		 GROUP BY t.id ORDER BY COUNT(at.assignment_id) DESC`)
}

// TopicsNeverTaught lists topics with no classes.
func (s *Store) TopicsNeverTaught(ctx context.Context) ([]map[string]string, error) {
	return s.queryRowsAsMaps(ctx,
		`SELECT t.code, t.title FROM topics t
		 LEFT JOIN classes c ON c.topic_id = t.id
		 WHERE c.id IS NULL ORDER BY t.code`)
}

// ClassesWithNoAssignments lists classes whose topic carries no assignment.
func (s *Store) ClassesWithNoAssignments(ctx context.Context) ([]map[string]string, error) {
	return s.queryRowsAsMaps(ctx,
		`SELECT c.id::text AS class_id, t.code AS topic_code, t.title AS topic_title
		 FROM classes c JOIN topics t ON c.topic_id = t.id
		 LEFT JOIN assignment_topics at ON at.topic_id = c.topic_id
		 WHERE at.assignment_id IS NULL ORDER BY c.id`)
}

// CourseSchedule resolves the class date range of a course by code or
// title (either may be empty). The third return is false on no match.
func (s *Store) CourseSchedule(ctx context.Context, courseCode, title string) (string, DateRange, bool, error) {
	var code string
	var earliest, latest *time.Time

	query := `SELECT co.code, MIN(cl.learned_at), MAX(cl.learned_at)
	          FROM courses co
	          JOIN topics t ON t.course_id = co.id
	          LEFT JOIN classes cl ON cl.topic_id = t.id
	          WHERE `
	var arg string
	switch {
	case strings.TrimSpace(courseCode) != "":
		query += "UPPER(co.code) = UPPER($1)"
		arg = strings.TrimSpace(courseCode)
	case strings.TrimSpace(title) != "":
		query += "UPPER(co.title) = UPPER($1)"
		arg = strings.TrimSpace(title)
	default:
		return "", DateRange{}, false, nil
	}
	query += " GROUP BY co.code"

	err := s.pool.QueryRow(ctx, query, arg).Scan(&code, &earliest, &latest)
	if err == pgx.ErrNoRows {
		return "", DateRange{}, false, nil
	}
	if err != nil {
		return "", DateRange{}, false, fmt.Errorf("query course schedule: %w", err)
	}

	var r DateRange
	if earliest != nil {
		r.Earliest = earliest.Format(isoMinute)
	}
	if latest != nil {
		r.Latest = latest.Format(isoMinute)
	}
	return code, r, true, nil
}

func (s *Store) queryRowsAsMaps(ctx context.Context, query string, args ...any) ([]map[string]string, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]string
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row values: %w", err)
		}
		r := make(map[string]string, len(fields))
		for i, fd := range fields {
			if values[i] == nil {
				r[string(fd.Name)] = ""
				continue
			}
			r[string(fd.Name)] = fmt.Sprintf("%v", values[i])
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
