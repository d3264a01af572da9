package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"driveingest/internal/database/migrations"
	"driveingest/internal/ingest"
	"driveingest/internal/model"
)

// Dialect selects the SQL flavour a SQLDatabase speaks.
type Dialect string

const (
	DialectSQLite   Dialect = migrations.SQLite
	DialectPostgres Dialect = migrations.Postgres
)

// SQLDatabase implements ingest.Database on database/sql. Queries are written
// with ? placeholders and rebound for the dialect.
type SQLDatabase struct {
	db      *sql.DB
	dialect Dialect
	path    string
}

// Compile-time check that SQLDatabase implements ingest.Database.
var _ ingest.Database = (*SQLDatabase)(nil)

// rebind rewrites ? placeholders to $1, $2, ... for postgres.
func (s *SQLDatabase) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Cursor operations

func (s *SQLDatabase) LoadCursor(ctx context.Context) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx, "SELECT token FROM change_cursor WHERE id = 1").Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading change cursor: %w", err)
	}
	return token, nil
}

func (s *SQLDatabase) SaveCursor(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO change_cursor (id, token, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`),
		token, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving change cursor: %w", err)
	}
	return nil
}

// File operations

const fileColumns = `id, remote_id, name, mime_type, modified_time, web_view_link,
	detected_at, processed, folder_id, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*model.RemoteFile, error) {
	var f model.RemoteFile
	err := row.Scan(&f.ID, &f.RemoteID, &f.Name, &f.MimeType, &f.ModifiedTime, &f.WebViewLink,
		&f.DetectedAt, &f.Processed, &f.FolderID, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *SQLDatabase) FindFileByRemoteID(ctx context.Context, remoteID string) (*model.RemoteFile, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+fileColumns+" FROM remote_files WHERE remote_id = ?"), remoteID)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding file %s: %w", remoteID, err)
	}
	return f, nil
}

func (s *SQLDatabase) ApplyFileChanges(ctx context.Context, inserts, updates []*model.RemoteFile) ([]*model.RemoteFile, []*model.RemoteFile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	insertQuery := s.rebind(`
		INSERT INTO remote_files (remote_id, name, mime_type, modified_time, web_view_link,
			detected_at, processed, folder_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (remote_id) DO NOTHING
		RETURNING id`)

	var inserted []*model.RemoteFile
	for _, f := range inserts {
		err := tx.QueryRowContext(ctx, insertQuery,
			f.RemoteID, f.Name, f.MimeType, f.ModifiedTime, f.WebViewLink,
			f.DetectedAt, f.Processed, f.FolderID, f.CreatedAt,
		).Scan(&f.ID)
		if errors.Is(err, sql.ErrNoRows) {
			// Written by a concurrent sync since the lookup.
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("inserting file %s: %w", f.RemoteID, err)
		}
		inserted = append(inserted, f)
	}

	updateQuery := s.rebind(`
		UPDATE remote_files
		SET name = ?, mime_type = ?, modified_time = ?, web_view_link = ?, folder_id = ?
		WHERE id = ?`)

	var updated []*model.RemoteFile
	for _, f := range updates {
		res, err := tx.ExecContext(ctx, updateQuery,
			f.Name, f.MimeType, f.ModifiedTime, f.WebViewLink, f.FolderID, f.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("updating file %s: %w", f.RemoteID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			continue
		}
		updated = append(updated, f)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("committing file changes: %w", err)
	}
	return inserted, updated, nil
}

func (s *SQLDatabase) ListFiles(ctx context.Context) ([]*model.RemoteFile, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+fileColumns+" FROM remote_files ORDER BY detected_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	defer rows.Close()

	var files []*model.RemoteFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	return files, nil
}

func (s *SQLDatabase) CountFilesInFolder(ctx context.Context, folderID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT COUNT(*) FROM remote_files WHERE folder_id = ?"), folderID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting files in folder %d: %w", folderID, err)
	}
	return n, nil
}

// Folder operations

const folderColumns = "id, name, remote_id, parent_id, folder_type, team_id, created_at"

func scanFolder(row rowScanner) (*model.Folder, error) {
	var f model.Folder
	var typ string
	if err := row.Scan(&f.ID, &f.Name, &f.RemoteID, &f.ParentID, &typ, &f.TeamID, &f.CreatedAt); err != nil {
		return nil, err
	}
	f.Type = model.FolderType(typ)
	return &f, nil
}

func (s *SQLDatabase) FindFolderByID(ctx context.Context, id int64) (*model.Folder, error) {
	f, err := scanFolder(s.db.QueryRowContext(ctx, s.rebind("SELECT "+folderColumns+" FROM folders WHERE id = ?"), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding folder %d: %w", id, err)
	}
	return f, nil
}

func (s *SQLDatabase) FindFolderByRemoteID(ctx context.Context, remoteID string) (*model.Folder, error) {
	f, err := scanFolder(s.db.QueryRowContext(ctx, s.rebind("SELECT "+folderColumns+" FROM folders WHERE remote_id = ?"), remoteID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding folder %s: %w", remoteID, err)
	}
	return f, nil
}

func (s *SQLDatabase) CreateFolder(ctx context.Context, folder *model.Folder) error {
	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO folders (name, remote_id, parent_id, folder_type, team_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`),
		folder.Name, folder.RemoteID, folder.ParentID, string(folder.Type), folder.TeamID, folder.CreatedAt,
	).Scan(&folder.ID)
	if err != nil {
		return fmt.Errorf("inserting folder %q: %w", folder.Name, err)
	}
	return nil
}

func (s *SQLDatabase) ListFolders(ctx context.Context) ([]*model.Folder, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+folderColumns+" FROM folders ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}
	defer rows.Close()

	var folders []*model.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning folder: %w", err)
		}
		folders = append(folders, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}
	return folders, nil
}

// Analysis operations

func (s *SQLDatabase) SaveAnalysis(ctx context.Context, r *model.AnalysisResult) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, s.rebind(`
		INSERT INTO analysis_results (file_id, created_at) VALUES (?, ?)
		ON CONFLICT (file_id) DO NOTHING
		RETURNING id`), r.FileID, r.CreatedAt).Scan(&r.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inserting analysis result: %w", err)
	}

	ev := &r.Initial
	err = tx.QueryRowContext(ctx, s.rebind(`
		INSERT INTO criteria_evaluations (analysis_result_id, final_score, general_recommendations,
			recommended_audiences, suggested_questions)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`),
		r.ID, ev.FinalScore, string(ev.GeneralRecommendations), string(ev.RecommendedAudiences), string(ev.SuggestedQuestions),
	).Scan(&ev.ID)
	if err != nil {
		return false, fmt.Errorf("inserting criteria evaluation: %w", err)
	}

	criterionQuery := s.rebind(`
		INSERT INTO evaluation_criteria (criteria_evaluation_id, criteria_type, score_interview,
			positives, improvements, recommendations)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`)
	for i := range ev.Criteria {
		c := &ev.Criteria[i]
		err := tx.QueryRowContext(ctx, criterionQuery,
			ev.ID, string(c.Type), c.Score, string(c.Positives), string(c.Improvements), string(c.Recommendations),
		).Scan(&c.ID)
		if err != nil {
			return false, fmt.Errorf("inserting %s criterion: %w", c.Type, err)
		}
	}

	crit := &r.Critical
	err = tx.QueryRowContext(ctx, s.rebind(`
		INSERT INTO critical_evaluations (analysis_result_id, team_id, specificity_of_improvements,
			identified_improvement_opportunities, reflective_quality_scores, notes)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`),
		r.ID, crit.TeamID, crit.SpecificityOfImprovements, crit.IdentifiedImprovementOpportunities,
		crit.ReflectiveQualityScores, crit.Notes,
	).Scan(&crit.ID)
	if err != nil {
		return false, fmt.Errorf("inserting critical evaluation: %w", err)
	}

	d := &r.Details
	err = tx.QueryRowContext(ctx, s.rebind(`
		INSERT INTO analysis_details (analysis_result_id, validated_insights, pending_hypotheses,
			identified_gaps, action_items)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`),
		r.ID, string(d.ValidatedInsights), string(d.PendingHypotheses), string(d.IdentifiedGaps), string(d.ActionItems),
	).Scan(&d.ID)
	if err != nil {
		return false, fmt.Errorf("inserting analysis details: %w", err)
	}

	m := &d.Mentor
	err = tx.QueryRowContext(ctx, s.rebind(`
		INSERT INTO mentor_report_details (analysis_details_id, executive_summary, key_findings,
			discussion_points, recommended_questions, next_steps, alerts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		d.ID, m.ExecutiveSummary, string(m.KeyFindings), string(m.DiscussionPoints),
		string(m.RecommendedQuestions), string(m.NextSteps), string(m.Alerts),
	).Scan(&m.ID)
	if err != nil {
		return false, fmt.Errorf("inserting mentor report: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.rebind("UPDATE remote_files SET processed = ? WHERE id = ?"), true, r.FileID); err != nil {
		return false, fmt.Errorf("marking file processed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing analysis: %w", err)
	}
	return true, nil
}

func (s *SQLDatabase) FindAnalysisByFileID(ctx context.Context, fileID int64) (*model.AnalysisResult, error) {
	r := &model.AnalysisResult{FileID: fileID}
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT id, created_at FROM analysis_results WHERE file_id = ?"), fileID).
		Scan(&r.ID, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding analysis for file %d: %w", fileID, err)
	}

	var general, audiences, questions string
	ev := &r.Initial
	err = s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, final_score, general_recommendations, recommended_audiences, suggested_questions
		FROM criteria_evaluations WHERE analysis_result_id = ?`), r.ID).
		Scan(&ev.ID, &ev.FinalScore, &general, &audiences, &questions)
	if err != nil {
		return nil, fmt.Errorf("loading criteria evaluation: %w", err)
	}
	ev.GeneralRecommendations = json.RawMessage(general)
	ev.RecommendedAudiences = json.RawMessage(audiences)
	ev.SuggestedQuestions = json.RawMessage(questions)

	if ev.Criteria, err = s.loadCriteria(ctx, ev.ID); err != nil {
		return nil, err
	}

	crit := &r.Critical
	err = s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, team_id, specificity_of_improvements, identified_improvement_opportunities,
			reflective_quality_scores, notes
		FROM critical_evaluations WHERE analysis_result_id = ?`), r.ID).
		Scan(&crit.ID, &crit.TeamID, &crit.SpecificityOfImprovements, &crit.IdentifiedImprovementOpportunities,
			&crit.ReflectiveQualityScores, &crit.Notes)
	if err != nil {
		return nil, fmt.Errorf("loading critical evaluation: %w", err)
	}

	var insights, hypotheses, gaps, actions string
	d := &r.Details
	err = s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, validated_insights, pending_hypotheses, identified_gaps, action_items
		FROM analysis_details WHERE analysis_result_id = ?`), r.ID).
		Scan(&d.ID, &insights, &hypotheses, &gaps, &actions)
	if err != nil {
		return nil, fmt.Errorf("loading analysis details: %w", err)
	}
	d.ValidatedInsights = json.RawMessage(insights)
	d.PendingHypotheses = json.RawMessage(hypotheses)
	d.IdentifiedGaps = json.RawMessage(gaps)
	d.ActionItems = json.RawMessage(actions)

	var findings, points, recommended, next, alerts string
	m := &d.Mentor
	err = s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, executive_summary, key_findings, discussion_points, recommended_questions, next_steps, alerts
		FROM mentor_report_details WHERE analysis_details_id = ?`), d.ID).
		Scan(&m.ID, &m.ExecutiveSummary, &findings, &points, &recommended, &next, &alerts)
	if err != nil {
		return nil, fmt.Errorf("loading mentor report: %w", err)
	}
	m.KeyFindings = json.RawMessage(findings)
	m.DiscussionPoints = json.RawMessage(points)
	m.RecommendedQuestions = json.RawMessage(recommended)
	m.NextSteps = json.RawMessage(next)
	m.Alerts = json.RawMessage(alerts)

	return r, nil
}

func (s *SQLDatabase) loadCriteria(ctx context.Context, evaluationID int64) ([]model.EvaluationCriterion, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, criteria_type, score_interview, positives, improvements, recommendations
		FROM evaluation_criteria WHERE criteria_evaluation_id = ? ORDER BY id`), evaluationID)
	if err != nil {
		return nil, fmt.Errorf("loading criteria: %w", err)
	}
	defer rows.Close()

	var criteria []model.EvaluationCriterion
	for rows.Next() {
		var c model.EvaluationCriterion
		var typ, positives, improvements, recommendations string
		if err := rows.Scan(&c.ID, &typ, &c.Score, &positives, &improvements, &recommendations); err != nil {
			return nil, fmt.Errorf("scanning criterion: %w", err)
		}
		c.Type = model.CriterionType(typ)
		c.Positives = json.RawMessage(positives)
		c.Improvements = json.RawMessage(improvements)
		c.Recommendations = json.RawMessage(recommendations)
		criteria = append(criteria, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading criteria: %w", err)
	}
	return criteria, nil
}

// Maintenance

// Path returns the database file path, ":memory:", or "" for postgres.
func (s *SQLDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db, string(s.dialect))
}

// Migrate applies pending migrations.
func (s *SQLDatabase) Migrate() error {
	return migrations.MigrateUp(s.db, string(s.dialect))
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
// Only sqlite stores can be copied this way.
func (s *SQLDatabase) BackupTo(destPath string) error {
	if s.dialect != DialectSQLite {
		return fmt.Errorf("backup is not supported for %s databases", s.dialect)
	}
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
