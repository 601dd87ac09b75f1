package resultstore

import (
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/varfish-org/varfish-server-sub005/models/pedigree"
	"github.com/varfish-org/varfish-server-sub005/models/queries"
	"github.com/varfish-org/varfish-server-sub005/models/settings"
	"github.com/varfish-org/varfish-server-sub005/services/compiler"
)

var ErrExecutionNotFound = errors.New("query execution not found")
var ErrResultSetNotFound = errors.New("result set not found")

const schema = `
CREATE TABLE IF NOT EXISTS query_executions (
	id              TEXT PRIMARY KEY,
	case_id         TEXT NOT NULL,
	settings_json   TEXT NOT NULL,
	pedigree_json   TEXT NOT NULL,
	state           TEXT NOT NULL,
	message         TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL,
	started_at      TEXT,
	finished_at     TEXT,
	elapsed_seconds REAL NOT NULL DEFAULT 0,
	result_set_id   TEXT
);
CREATE INDEX IF NOT EXISTS idx_query_executions_case ON query_executions(case_id);

CREATE TABLE IF NOT EXISTS result_sets (
	id              TEXT PRIMARY KEY,
	execution_id    TEXT,
	case_id         TEXT NOT NULL,
	is_case_default INTEGER NOT NULL DEFAULT 0,
	row_count       INTEGER NOT NULL DEFAULT 0,
	committed_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_result_sets_case ON result_sets(case_id);

CREATE TABLE IF NOT EXISTS result_rows (
	result_set_id TEXT NOT NULL,
	rank          INTEGER NOT NULL,
	chrom         TEXT NOT NULL,
	pos           INTEGER NOT NULL,
	ref           TEXT NOT NULL,
	alt           TEXT NOT NULL,
	payload_json  TEXT NOT NULL DEFAULT '{}',
	flag_count    INTEGER NOT NULL DEFAULT 0,
	comment_count INTEGER NOT NULL DEFAULT 0,
	acmg_count    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (result_set_id, rank)
);

CREATE TABLE IF NOT EXISTS variant_flags (
	case_id TEXT NOT NULL,
	chrom   TEXT NOT NULL,
	pos     INTEGER NOT NULL,
	ref     TEXT NOT NULL,
	alt     TEXT NOT NULL,
	flag    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_variant_flags_coord ON variant_flags(case_id, chrom, pos, ref, alt);

CREATE TABLE IF NOT EXISTS variant_comments (
	case_id TEXT NOT NULL,
	chrom   TEXT NOT NULL,
	pos     INTEGER NOT NULL,
	ref     TEXT NOT NULL,
	alt     TEXT NOT NULL,
	comment TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_variant_comments_coord ON variant_comments(case_id, chrom, pos, ref, alt);

CREATE TABLE IF NOT EXISTS acmg_ratings (
	case_id TEXT NOT NULL,
	chrom   TEXT NOT NULL,
	pos     INTEGER NOT NULL,
	ref     TEXT NOT NULL,
	alt     TEXT NOT NULL,
	rating  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_acmg_ratings_coord ON acmg_ratings(case_id, chrom, pos, ref, alt);
`

// Store owns the durable engine bookkeeping: executions, committed
// result sets with their ordered rows, and the flag/comment/ACMG side
// tables joined into rows at commit time
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

func Open(path string, logger *zap.SugaredLogger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening result store: %w", err)
	}
	// the commit transaction is the single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrating result store: %w", err)
	}

	logger.Infow("result store opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value sql.NullString) time.Time {
	if !value.Valid || value.String == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339Nano, value.String)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func (s *Store) CreateExecution(exec *queries.QueryExecution) error {
	settingsJson, err := json.Marshal(exec.Settings)
	if err != nil {
		return fmt.Errorf("marshalling filter settings: %w", err)
	}
	pedigreeJson, err := json.Marshal(exec.Pedigree)
	if err != nil {
		return fmt.Errorf("marshalling pedigree: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO query_executions (id, case_id, settings_json, pedigree_json, state, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		exec.Id.String(), exec.CaseId, string(settingsJson), string(pedigreeJson),
		string(exec.State), exec.Message, formatTime(exec.CreatedAt))
	return err
}

// UpdateExecutionState persists one state-machine transition
func (s *Store) UpdateExecutionState(id uuid.UUID, state queries.State, message string) error {
	var result sql.Result
	var err error
	switch state {
	case queries.Running:
		result, err = s.db.Exec(
			`UPDATE query_executions SET state = ?, message = ?, started_at = ? WHERE id = ?`,
			string(state), message, formatTime(time.Now()), id.String())
	case queries.Failed, queries.Cancelled:
		result, err = s.db.Exec(
			`UPDATE query_executions SET state = ?, message = ?, finished_at = ? WHERE id = ?`,
			string(state), message, formatTime(time.Now()), id.String())
	default:
		result, err = s.db.Exec(
			`UPDATE query_executions SET state = ?, message = ? WHERE id = ?`,
			string(state), message, id.String())
	}
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

// FailInterruptedExecutions flips every execution a previous process
// left non-terminal to Failed. Without the sweep such rows would report
// a phantom Queued or Running state forever; it runs once on startup
// before any new work is accepted.
func (s *Store) FailInterruptedExecutions() (int, error) {
	result, err := s.db.Exec(
		`UPDATE query_executions SET state = ?, message = ?, finished_at = ?
		 WHERE state IN (?, ?, ?)`,
		string(queries.Failed), "interrupted by restart", formatTime(time.Now()),
		string(queries.Initial), string(queries.Queued), string(queries.Running))
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		s.logger.Infow("interrupted executions swept", "count", affected)
	}
	return int(affected), nil
}

func (s *Store) scanExecution(row *sql.Row) (*queries.QueryExecution, error) {
	var (
		idString      string
		caseId        string
		settingsJson  string
		pedigreeJson  string
		state         string
		message       string
		createdAt     sql.NullString
		startedAt     sql.NullString
		finishedAt    sql.NullString
		elapsed       float64
		resultSetId   sql.NullString
	)
	err := row.Scan(&idString, &caseId, &settingsJson, &pedigreeJson, &state,
		&message, &createdAt, &startedAt, &finishedAt, &elapsed, &resultSetId)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, err
	}

	exec := &queries.QueryExecution{
		Id:             uuid.MustParse(idString),
		CaseId:         caseId,
		State:          queries.State(state),
		Message:        message,
		CreatedAt:      parseTime(createdAt),
		StartedAt:      parseTime(startedAt),
		FinishedAt:     parseTime(finishedAt),
		ElapsedSeconds: elapsed,
	}
	if resultSetId.Valid && resultSetId.String != "" {
		exec.ResultSetId = uuid.MustParse(resultSetId.String)
	}

	var filterSettings settings.FilterSettings
	if err := json.Unmarshal([]byte(settingsJson), &filterSettings); err != nil {
		return nil, fmt.Errorf("unmarshalling stored filter settings: %w", err)
	}
	exec.Settings = &filterSettings

	var ped pedigree.Pedigree
	if err := json.Unmarshal([]byte(pedigreeJson), &ped); err != nil {
		return nil, fmt.Errorf("unmarshalling stored pedigree: %w", err)
	}
	exec.Pedigree = &ped

	return exec, nil
}

const executionColumns = `id, case_id, settings_json, pedigree_json, state, message,
	created_at, started_at, finished_at, elapsed_seconds, result_set_id`

func (s *Store) GetExecution(id uuid.UUID) (*queries.QueryExecution, error) {
	row := s.db.QueryRow(
		`SELECT `+executionColumns+` FROM query_executions WHERE id = ?`, id.String())
	return s.scanExecution(row)
}

func (s *Store) ListExecutions(caseId string) ([]*queries.QueryExecution, error) {
	rows, err := s.db.Query(
		`SELECT id FROM query_executions WHERE case_id = ? ORDER BY created_at, id`, caseId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var idString string
		if err := rows.Scan(&idString); err != nil {
			return nil, err
		}
		ids = append(ids, uuid.MustParse(idString))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	executions := make([]*queries.QueryExecution, 0, len(ids))
	for _, id := range ids {
		exec, err := s.GetExecution(id)
		if err != nil {
			return nil, err
		}
		executions = append(executions, exec)
	}
	return executions, nil
}

func countCoordinate(tx *sql.Tx, table string, caseId string, row *queries.ResultRow) (int, error) {
	var count int
	err := tx.QueryRow(
		`SELECT COUNT(*) FROM `+table+` WHERE case_id = ? AND chrom = ? AND pos = ? AND ref = ? AND alt = ?`,
		caseId, row.Chrom, row.Pos, row.Ref, row.Alt).Scan(&count)
	return count, err
}

// CommitResultSet performs the atomic running -> done transition: in a
// single transaction it creates the fresh result set, bulk-inserts the
// ordered rows with their denormalized annotation counts, stamps
// row_count and elapsed_seconds, flips the execution to Done, and only
// then removes the superseded result set. Readers never observe a
// half-written set; on any failure the transaction rolls back whole.
func (s *Store) CommitResultSet(exec *queries.QueryExecution, resultRows []queries.ResultRow, joins compiler.SideTableJoins) (uuid.UUID, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback()

	// the execution this commit supersedes may already own a set
	var previousSetId sql.NullString
	if err := tx.QueryRow(
		`SELECT result_set_id FROM query_executions WHERE id = ?`,
		exec.Id.String()).Scan(&previousSetId); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, ErrExecutionNotFound
		}
		return uuid.Nil, err
	}

	newSetId := uuid.New()
	committedAt := time.Now()
	if _, err := tx.Exec(
		`INSERT INTO result_sets (id, execution_id, case_id, row_count, committed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		newSetId.String(), exec.Id.String(), exec.CaseId, len(resultRows),
		formatTime(committedAt)); err != nil {
		return uuid.Nil, err
	}

	insertRow, err := tx.Prepare(
		`INSERT INTO result_rows (result_set_id, rank, chrom, pos, ref, alt, payload_json, flag_count, comment_count, acmg_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return uuid.Nil, err
	}
	defer insertRow.Close()

	for rank, resultRow := range resultRows {
		flagCount, commentCount, acmgCount := 0, 0, 0
		if joins.Flags {
			if flagCount, err = countCoordinate(tx, "variant_flags", exec.CaseId, &resultRow); err != nil {
				return uuid.Nil, err
			}
		}
		if joins.Comments {
			if commentCount, err = countCoordinate(tx, "variant_comments", exec.CaseId, &resultRow); err != nil {
				return uuid.Nil, err
			}
		}
		if joins.AcmgRatings {
			if acmgCount, err = countCoordinate(tx, "acmg_ratings", exec.CaseId, &resultRow); err != nil {
				return uuid.Nil, err
			}
		}

		if _, err := insertRow.Exec(
			newSetId.String(), rank, resultRow.Chrom, resultRow.Pos, resultRow.Ref,
			resultRow.Alt, resultRow.Payload, flagCount, commentCount, acmgCount); err != nil {
			return uuid.Nil, err
		}
	}

	elapsed := committedAt.Sub(exec.StartedAt).Seconds()
	if exec.StartedAt.IsZero() {
		elapsed = 0
	}
	if _, err := tx.Exec(
		`UPDATE query_executions
		 SET state = ?, message = '', finished_at = ?, elapsed_seconds = ?, result_set_id = ?
		 WHERE id = ?`,
		string(queries.Done), formatTime(committedAt), elapsed, newSetId.String(),
		exec.Id.String()); err != nil {
		return uuid.Nil, err
	}

	// the old set is only deleted after the new one fully commits in
	// the same transaction (swap-on-commit, not in-place mutation)
	if previousSetId.Valid && previousSetId.String != "" {
		if _, err := tx.Exec(`DELETE FROM result_rows WHERE result_set_id = ?`, previousSetId.String); err != nil {
			return uuid.Nil, err
		}
		if _, err := tx.Exec(`DELETE FROM result_sets WHERE id = ?`, previousSetId.String); err != nil {
			return uuid.Nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, err
	}
	return newSetId, nil
}

func (s *Store) GetResultSet(id uuid.UUID) (*queries.ResultSet, error) {
	var (
		executionId   sql.NullString
		caseId        string
		isCaseDefault int
		rowCount      int
		committedAt   sql.NullString
	)
	err := s.db.QueryRow(
		`SELECT execution_id, case_id, is_case_default, row_count, committed_at
		 FROM result_sets WHERE id = ?`, id.String()).
		Scan(&executionId, &caseId, &isCaseDefault, &rowCount, &committedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResultSetNotFound
	}
	if err != nil {
		return nil, err
	}

	resultSet := &queries.ResultSet{
		Id:            id,
		CaseId:        caseId,
		IsCaseDefault: isCaseDefault != 0,
		RowCount:      rowCount,
		CommittedAt:   parseTime(committedAt),
	}
	if executionId.Valid && executionId.String != "" {
		resultSet.ExecutionId = uuid.MustParse(executionId.String)
	}
	return resultSet, nil
}

func encodeCursor(rank int) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(rank)))
}

func decodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return -1, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("malformed cursor: %w", err)
	}
	rank, err := strconv.Atoi(string(decoded))
	if err != nil {
		return 0, fmt.Errorf("malformed cursor: %w", err)
	}
	return rank, nil
}

// ListRows reads one page of a committed result set. The cursor is an
// opaque encoding of the last seen rank; committed sets are immutable,
// so pages concatenate to the full sequence without duplicates or gaps.
func (s *Store) ListRows(resultSetId uuid.UUID, cursor string, pageSize int) ([]queries.ResultRow, string, error) {
	if _, err := s.GetResultSet(resultSetId); err != nil {
		return nil, "", err
	}

	afterRank, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	rows, err := s.db.Query(
		`SELECT rank, chrom, pos, ref, alt, payload_json, flag_count, comment_count, acmg_count
		 FROM result_rows WHERE result_set_id = ? AND rank > ?
		 ORDER BY rank LIMIT ?`,
		resultSetId.String(), afterRank, pageSize)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	page := []queries.ResultRow{}
	lastRank := afterRank
	for rows.Next() {
		resultRow := queries.ResultRow{ResultSetId: resultSetId}
		if err := rows.Scan(&resultRow.Rank, &resultRow.Chrom, &resultRow.Pos,
			&resultRow.Ref, &resultRow.Alt, &resultRow.Payload,
			&resultRow.FlagCount, &resultRow.CommentCount, &resultRow.AcmgCount); err != nil {
			return nil, "", err
		}
		page = append(page, resultRow)
		lastRank = resultRow.Rank
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(page) == pageSize {
		var remaining int
		if err := s.db.QueryRow(
			`SELECT COUNT(*) FROM result_rows WHERE result_set_id = ? AND rank > ?`,
			resultSetId.String(), lastRank).Scan(&remaining); err != nil {
			return nil, "", err
		}
		if remaining > 0 {
			nextCursor = encodeCursor(lastRank)
		}
	}

	return page, nextCursor, nil
}

// ListCommittedResultSetIds feeds the scheduled repair pass
func (s *Store) ListCommittedResultSetIds() ([]uuid.UUID, error) {
	rows, err := s.db.Query(`SELECT id FROM result_sets ORDER BY committed_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var idString string
		if err := rows.Scan(&idString); err != nil {
			return nil, err
		}
		ids = append(ids, uuid.MustParse(idString))
	}
	return ids, rows.Err()
}

// RepairAnnotationCounts re-derives the denormalized flag/comment/ACMG
// counts of every row in the set from the side tables. Idempotent, and
// it never changes row identity or row count.
func (s *Store) RepairAnnotationCounts(resultSetId uuid.UUID) error {
	resultSet, err := s.GetResultSet(resultSetId)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		`SELECT rank, chrom, pos, ref, alt FROM result_rows WHERE result_set_id = ? ORDER BY rank`,
		resultSetId.String())
	if err != nil {
		return err
	}

	type coordinate struct {
		rank int
		row  queries.ResultRow
	}
	coordinates := []coordinate{}
	for rows.Next() {
		var entry coordinate
		if err := rows.Scan(&entry.rank, &entry.row.Chrom, &entry.row.Pos,
			&entry.row.Ref, &entry.row.Alt); err != nil {
			rows.Close()
			return err
		}
		coordinates = append(coordinates, entry)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, entry := range coordinates {
		flagCount, err := countCoordinate(tx, "variant_flags", resultSet.CaseId, &entry.row)
		if err != nil {
			return err
		}
		commentCount, err := countCoordinate(tx, "variant_comments", resultSet.CaseId, &entry.row)
		if err != nil {
			return err
		}
		acmgCount, err := countCoordinate(tx, "acmg_ratings", resultSet.CaseId, &entry.row)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(
			`UPDATE result_rows SET flag_count = ?, comment_count = ?, acmg_count = ?
			 WHERE result_set_id = ? AND rank = ?`,
			flagCount, commentCount, acmgCount, resultSetId.String(), entry.rank); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Debugw("annotation counts repaired",
		"resultSetId", resultSetId.String(), "rows", len(coordinates))
	return nil
}

// PromoteCaseDefault marks one committed result set as the case-default
// set used for plain case browsing; at most one exists per case
func (s *Store) PromoteCaseDefault(caseId string, resultSetId uuid.UUID) error {
	resultSet, err := s.GetResultSet(resultSetId)
	if err != nil {
		return err
	}
	if resultSet.CaseId != caseId {
		return fmt.Errorf("result set %s does not belong to case %s", resultSetId, caseId)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE result_sets SET is_case_default = 0 WHERE case_id = ?`, caseId); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`UPDATE result_sets SET is_case_default = 1 WHERE id = ?`, resultSetId.String()); err != nil {
		return err
	}

	return tx.Commit()
}

// side-table writers; the annotation/curation surfaces are external to
// the engine, these exist so repair and commit can be exercised

func (s *Store) AddFlag(caseId, chrom string, pos int, ref, alt, flag string) error {
	_, err := s.db.Exec(
		`INSERT INTO variant_flags (case_id, chrom, pos, ref, alt, flag) VALUES (?, ?, ?, ?, ?, ?)`,
		caseId, chrom, pos, ref, alt, flag)
	return err
}

func (s *Store) AddComment(caseId, chrom string, pos int, ref, alt, comment string) error {
	_, err := s.db.Exec(
		`INSERT INTO variant_comments (case_id, chrom, pos, ref, alt, comment) VALUES (?, ?, ?, ?, ?, ?)`,
		caseId, chrom, pos, ref, alt, comment)
	return err
}

func (s *Store) AddAcmgRating(caseId, chrom string, pos int, ref, alt string, rating int) error {
	_, err := s.db.Exec(
		`INSERT INTO acmg_ratings (case_id, chrom, pos, ref, alt, rating) VALUES (?, ?, ?, ?, ?, ?)`,
		caseId, chrom, pos, ref, alt, rating)
	return err
}
