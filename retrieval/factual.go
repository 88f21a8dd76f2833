package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/edurag/edurag/database"
	"github.com/edurag/edurag/intent"
)

var topicCodePattern = regexp.MustCompile(`(?i)\bC\d+-T\d+\b`)

// ExtractTopicCode returns the first topic identifier of form C<d>-T<d>
// in the query, normalized to upper case.
func ExtractTopicCode(query string) string {
	m := topicCodePattern.FindString(query)
	return strings.ToUpper(m)
}

var isoDatePattern = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)

func extractISODate(query string) string {
	return isoDatePattern.FindString(query)
}

var (
	countClassesPattern = regexp.MustCompile(`(?i)\b(how\s+many|count)\b.*\bclass`)
	learnedAtPattern    = regexp.MustCompile(`(?i)\bwhen\b.*\blearn`)
	listCoursesPattern  = regexp.MustCompile(`(?i)\b(list|what\s+are\s+the|show\s+me\s+all|which)\b.*\bcourses?\b`)
	listTopicsPattern   = regexp.MustCompile(`(?i)\b(list|what\s+are\s+the|show\s+me\s+all|which)\b.*\btopics?\b`)

	listInstructorsPattern     = regexp.MustCompile(`(?i)\b(list|what\s+are\s+the|show\s+me\s+all|which|who\s+are)\b.*\binstructors?\b`)
	classesByInstructorPattern = regexp.MustCompile(`(?i)\bclasses\b.*?\b(?:taught\s+)?by\s+([A-Za-z][A-Za-z .'-]*)`)
	mostAssignmentsPattern     = regexp.MustCompile(`(?i)\btopics?\b.*\bmost\s+assignments\b|\bmost\s+assignments\b.*\btopics?\b`)
	assignmentsPerTopicPattern = regexp.MustCompile(`(?i)\bassignments\s+per\s+topic\b|\b(how\s+many|count)\b.*\bassignments\b.*\btopics?\b`)
	neverTaughtPattern         = regexp.MustCompile(`(?i)\btopics?\b.*\bnever\s+(been\s+)?taught\b|\btopics?\b.*\b(no|without)\s+classes\b`)
	noAssignmentsPattern       = regexp.MustCompile(`(?i)\bclasses\b.*\b(no|without)\s+assignments\b`)
	assignmentsDuePattern      = regexp.MustCompile(`(?i)\bassignments?\b.*\bdue\b`)
	assignmentsForClassPattern = regexp.MustCompile(`(?i)\bassignments?\b.*\bclass\s+(\d+)\b`)
	topicsWordPattern          = regexp.MustCompile(`(?i)\btopics?\b`)
	classesWordPattern         = regexp.MustCompile(`(?i)\bclass(es)?\b`)
)

const (
	mostAssignmentsLimit   = 5
	assignmentsForClassCap = 20
)

// factualMatch is one resolved deterministic query: the synthetic chunk
// for context injection, the rendered answer, and the query text shown to
// the user.
type factualMatch struct {
	chunk  database.Chunk
	answer string
	sql    string
}

// tryFactual attempts the closed set of deterministic relational queries
// in order. A hit yields a synthetic SQL chunk, a deterministic sentence,
// and high confidence.
func (o *Orchestrator) tryFactual(ctx context.Context, query string) (Result, bool, error) {
	m, ok, err := o.matchFactual(ctx, query)
	if err != nil || !ok {
		return Result{}, false, err
	}
	return Result{
		Answer:     m.answer,
		Sources:    []string{m.chunk.ChunkID},
		Intent:     intent.Factual,
		Confidence: ConfidenceHigh,
		SQL:        m.sql,
	}, true, nil
}

// factualChunk resolves the same dispatch for the mixed path, which wants
// only the synthetic chunk to inject into a generated context.
func (o *Orchestrator) factualChunk(ctx context.Context, query string) (database.Chunk, string, bool, error) {
	m, ok, err := o.matchFactual(ctx, query)
	if err != nil || !ok {
		return database.Chunk{}, "", false, err
	}
	return m.chunk, m.sql, true, nil
}

// matchFactual runs the ordered matchers. Queries that match a pattern
// but return no rows fall through to the next matcher (and ultimately the
// semantic path), mirroring the empty-optional behavior of the underlying
// store queries.
func (o *Orchestrator) matchFactual(ctx context.Context, query string) (factualMatch, bool, error) {
	// specific topic/class aggregations run before the generic listings
	// that their phrasing would also match
	if mostAssignmentsPattern.MatchString(query) {
		rows, err := o.store.TopicsWithMostAssignments(ctx, mostAssignmentsLimit)
		if err != nil {
			return factualMatch{}, false, fmt.Errorf("topics with most assignments: %w", err)
		}
		if len(rows) > 0 {
			return rowListMatch("topics_most_assignments", "Topics with most assignments", rows,
				"Topics with the most assignments:",
				func(r map[string]string) string {
					return fmt.Sprintf("%s: %s (%s assignments)", r["code"], r["title"], r["assignments_count"])
				},
				fmt.Sprintf("SELECT t.code, t.title, COUNT(at.assignment_id) FROM topics t JOIN assignment_topics at ON at.topic_id = t.id GROUP BY t.id ORDER BY COUNT(at.assignment_id) DESC LIMIT %d", mostAssignmentsLimit),
			), true, nil
		}
	}

	if assignmentsPerTopicPattern.MatchString(query) {
		rows, err := o.store.CountAssignmentsPerTopic(ctx)
		if err != nil {
			return factualMatch{}, false, fmt.Errorf("assignments per topic: %w", err)
		}
		if len(rows) > 0 {
			return rowListMatch("assignments_per_topic", "Assignments per topic", rows,
				"Assignments per topic:",
				func(r map[string]string) string {
					return fmt.Sprintf("%s: %s (%s assignments)", r["code"], r["title"], r["assignments_count"])
				},
				"SELECT t.code, t.title, COUNT(at.assignment_id) FROM topics t LEFT JOIN assignment_topics at ON at.topic_id = t.id GROUP BY t.id ORDER BY COUNT(at.assignment_id) DESC",
			), true, nil
		}
	}

	if neverTaughtPattern.MatchString(query) {
		rows, err := o.store.TopicsNeverTaught(ctx)
		if err != nil {
			return factualMatch{}, false, fmt.Errorf("topics never taught: %w", err)
		}
		if len(rows) > 0 {
			return rowListMatch("topics_never_taught", "Topics never taught", rows,
				fmt.Sprintf("You have %d topics with no classes yet:", len(rows)),
				func(r map[string]string) string { return fmt.Sprintf("%s: %s", r["code"], r["title"]) },
				"SELECT t.code, t.title FROM topics t LEFT JOIN classes c ON c.topic_id = t.id WHERE c.id IS NULL ORDER BY t.code",
			), true, nil
		}
	}

	if noAssignmentsPattern.MatchString(query) {
		rows, err := o.store.ClassesWithNoAssignments(ctx)
		if err != nil {
			return factualMatch{}, false, fmt.Errorf("classes with no assignments: %w", err)
		}
		if len(rows) > 0 {
			return rowListMatch("classes_no_assignments", "Classes with no assignments", rows,
				fmt.Sprintf("You have %d classes with no assignments:", len(rows)),
				func(r map[string]string) string {
					return fmt.Sprintf("class %s - %s: %s", r["class_id"], r["topic_code"], r["topic_title"])
				},
				"SELECT c.id, t.code, t.title FROM classes c JOIN topics t ON c.topic_id = t.id LEFT JOIN assignment_topics at ON at.topic_id = c.topic_id WHERE at.assignment_id IS NULL ORDER BY c.id",
			), true, nil
		}
	}

	if m := assignmentsForClassPattern.FindStringSubmatch(query); m != nil {
		classID, err := strconv.Atoi(m[1])
		if err == nil {
			rows, err := o.store.AssignmentsForClass(ctx, classID, assignmentsForClassCap)
			if err != nil {
				return factualMatch{}, false, fmt.Errorf("assignments for class: %w", err)
			}
			if len(rows) > 0 {
				return rowListMatch(fmt.Sprintf("assignments_for_class_%d", classID), fmt.Sprintf("Assignments for class %d", classID), rows,
					fmt.Sprintf("Class %d has %d assignments:", classID, len(rows)),
					func(r map[string]string) string {
						return fmt.Sprintf("%s (due %s)", r["title"], r["due_date"])
					},
					fmt.Sprintf("SELECT a.id, a.title, a.due_date FROM assignments a JOIN assignment_topics at ON a.id = at.assignment_id JOIN classes c ON at.topic_id = c.topic_id WHERE c.id = %d ORDER BY a.due_date", classID),
				), true, nil
			}
		}
	}

	if isoDate := extractISODate(query); isoDate != "" {
		if match, ok, err := o.matchDateQuery(ctx, query, isoDate); err != nil || ok {
			return match, ok, err
		}
	}

	if m := classesByInstructorPattern.FindStringSubmatch(query); m != nil {
		name := strings.TrimRight(strings.TrimSpace(m[1]), "?.!")
		if name != "" {
			rows, err := o.store.ClassesByInstructor(ctx, name)
			if err != nil {
				return factualMatch{}, false, fmt.Errorf("classes by instructor: %w", err)
			}
			if len(rows) > 0 {
				return rowListMatch("classes_by_"+slug(name), "Classes taught by "+name, rows,
					fmt.Sprintf("%s taught %d classes:", name, len(rows)),
					func(r map[string]string) string {
						return fmt.Sprintf("%s: %s (%s)", r["topic_code"], r["topic_title"], r["learned_at"])
					},
					"SELECT c.id, c.learned_at, t.code, t.title FROM classes c JOIN instructors i ON c.instructor_id = i.id JOIN topics t ON c.topic_id = t.id WHERE UPPER(i.name) = UPPER($1) ORDER BY c.learned_at",
				), true, nil
			}
		}
	}

	if listInstructorsPattern.MatchString(query) {
		rows, err := o.store.ListInstructors(ctx)
		if err != nil {
			return factualMatch{}, false, fmt.Errorf("list instructors: %w", err)
		}
		if len(rows) > 0 {
			return rowListMatch("list_instructors", "Instructors", rows,
				fmt.Sprintf("You have %d instructors:", len(rows)),
				func(r map[string]string) string { return r["name"] },
				"SELECT id, name FROM instructors ORDER BY name",
			), true, nil
		}
	}

	if listCoursesPattern.MatchString(query) {
		courses, err := o.store.ListCourses(ctx)
		if err != nil {
			return factualMatch{}, false, fmt.Errorf("list courses: %w", err)
		}
		if len(courses) > 0 {
			lines := make([]string, 0, len(courses))
			for _, c := range courses {
				lines = append(lines, fmt.Sprintf("%s: %s", c.Code, c.Title))
			}
			return factualMatch{
				chunk:  database.NewSQLChunk("list_courses", "Courses", database.SQLCourseListBody(courses)),
				answer: fmt.Sprintf("You have %d courses:\n%s", len(courses), strings.Join(lines, "\n")),
				sql:    "SELECT code, title FROM courses ORDER BY code",
			}, true, nil
		}
	}

	if listTopicsPattern.MatchString(query) {
		topics, err := o.store.ListTopics(ctx)
		if err != nil {
			return factualMatch{}, false, fmt.Errorf("list topics: %w", err)
		}
		if len(topics) > 0 {
			lines := make([]string, 0, len(topics))
			for _, t := range topics {
				lines = append(lines, fmt.Sprintf("%s: %s", t.Code, t.Title))
			}
			return factualMatch{
				chunk:  database.NewSQLChunk("list_topics", "Topics", database.SQLTopicListBody(topics)),
				answer: fmt.Sprintf("You have %d topics:\n%s", len(topics), strings.Join(lines, "\n")),
				sql:    "SELECT code, title FROM topics ORDER BY code",
			}, true, nil
		}
	}

	topicCode := ExtractTopicCode(query)
	if topicCode == "" {
		return factualMatch{}, false, nil
	}

	if learnedAtPattern.MatchString(query) {
		r, ok, err := o.store.LearnedAtRange(ctx, topicCode)
		if err != nil {
			return factualMatch{}, false, fmt.Errorf("learned-at range: %w", err)
		}
		if ok {
			return factualMatch{
				chunk:  database.NewSQLChunk("learned_range_"+topicCode, "Learned range "+topicCode, database.SQLDateRangeBody(topicCode, r)),
				answer: learnedAtSentence(topicCode, r),
				sql:    fmt.Sprintf("SELECT MIN(learned_at), MAX(learned_at) FROM classes WHERE topic_id = (SELECT id FROM topics WHERE UPPER(code) = UPPER('%s'))", topicCode),
			}, true, nil
		}
	}

	if countClassesPattern.MatchString(query) {
		cnt, ok, err := o.store.CountClassesForTopic(ctx, topicCode)
		if err != nil {
			return factualMatch{}, false, fmt.Errorf("count classes: %w", err)
		}
		if ok {
			return factualMatch{
				chunk:  database.NewSQLChunk("count_classes_"+topicCode, "Class count "+topicCode, database.SQLCountBody(topicCode, cnt)),
				answer: fmt.Sprintf("You have %d classes for %s.", cnt, topicCode),
				sql:    fmt.Sprintf("SELECT COUNT(*) FROM classes WHERE topic_id = (SELECT id FROM topics WHERE UPPER(code) = UPPER('%s'))", topicCode),
			}, true, nil
		}
	}

	return factualMatch{}, false, nil
}

// matchDateQuery dispatches queries that anchor on an ISO date:
// assignments due, topics taught, and classes held on that day.
func (o *Orchestrator) matchDateQuery(ctx context.Context, query, isoDate string) (factualMatch, bool, error) {
	if assignmentsDuePattern.MatchString(query) {
		rows, err := o.store.AssignmentsDueOnDate(ctx, isoDate)
		if err != nil {
			return factualMatch{}, false, fmt.Errorf("assignments due on date: %w", err)
		}
		if len(rows) > 0 {
			return rowListMatch("assignments_due_"+isoDate, "Assignments due "+isoDate, rows,
				fmt.Sprintf("You have %d assignments due on %s:", len(rows), isoDate),
				func(r map[string]string) string { return fmt.Sprintf("%s (due %s)", r["title"], r["due_date"]) },
				"SELECT id, title, due_date FROM assignments WHERE due_date = $1 ORDER BY due_date",
			), true, nil
		}
		return factualMatch{}, false, nil
	}

	if topicsWordPattern.MatchString(query) {
		rows, err := o.store.TopicsOnDate(ctx, isoDate)
		if err != nil {
			return factualMatch{}, false, fmt.Errorf("topics on date: %w", err)
		}
		if len(rows) > 0 {
			return rowListMatch("topics_on_"+isoDate, "Topics on "+isoDate, rows,
				fmt.Sprintf("You covered %d topics on %s:", len(rows), isoDate),
				func(r map[string]string) string { return fmt.Sprintf("%s: %s", r["topic_code"], r["topic_title"]) },
				"SELECT c.id, c.learned_at, t.code, t.title FROM classes c JOIN topics t ON c.topic_id = t.id WHERE DATE(c.learned_at) = $1 ORDER BY t.code",
			), true, nil
		}
		return factualMatch{}, false, nil
	}

	if classesWordPattern.MatchString(query) {
		rows, err := o.store.ClassesOnDate(ctx, isoDate)
		if err != nil {
			return factualMatch{}, false, fmt.Errorf("classes on date: %w", err)
		}
		if len(rows) > 0 {
			return rowListMatch("classes_on_"+isoDate, "Classes on "+isoDate, rows,
				fmt.Sprintf("You had %d classes on %s:", len(rows), isoDate),
				func(r map[string]string) string {
					return fmt.Sprintf("%s: %s (%s)", r["topic_code"], r["topic_title"], r["learned_at"])
				},
				"SELECT c.id, c.learned_at, t.code, t.title FROM classes c JOIN topics t ON c.topic_id = t.id WHERE DATE(c.learned_at) = $1 ORDER BY c.learned_at",
			), true, nil
		}
	}

	return factualMatch{}, false, nil
}

// rowListMatch renders a row-listing query result into a synthetic chunk
// plus a deterministic listing answer.
func rowListMatch(idSuffix, title string, rows []map[string]string, lead string, line func(map[string]string) string, sql string) factualMatch {
	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, line(r))
	}
	return factualMatch{
		chunk:  database.NewSQLChunk(idSuffix, title, database.SQLRowsBody(title, rows)),
		answer: lead + "\n" + strings.Join(lines, "\n"),
		sql:    sql,
	}
}

func slug(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}

// learnedAtSentence renders a learned-at range for display: a single
// sentence for same-day ranges, an interval otherwise.
func learnedAtSentence(topicCode string, r database.DateRange) string {
	earliest := formatLearnedDate(r.Earliest)
	latest := formatLearnedDate(r.Latest)
	switch {
	case earliest == "" && latest == "":
		return fmt.Sprintf("There is no recorded class for %s.", topicCode)
	case earliest == latest || latest == "":
		return fmt.Sprintf("You learned %s on %s.", topicCode, earliest)
	case earliest == "":
		return fmt.Sprintf("You learned %s on %s.", topicCode, latest)
	default:
		return fmt.Sprintf("You learned %s between %s and %s.", topicCode, earliest, latest)
	}
}

func formatLearnedDate(iso string) string {
	if iso == "" {
		return ""
	}
	for _, layout := range []string{"2006-01-02T15:04", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, iso); err == nil {
			return t.Format("January 2, 2006")
		}
	}
	return iso
}
