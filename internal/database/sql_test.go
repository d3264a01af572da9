package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"driveingest/internal/model"
)

var testTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// newTestDB creates a migrated in-memory database.
func newTestDB(t *testing.T) *SQLDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteDatabase() error = %v", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("Migrate() error = %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func newFile(remoteID string) *model.RemoteFile {
	return &model.RemoteFile{
		RemoteID:     remoteID,
		Name:         remoteID + ".pdf",
		MimeType:     "application/pdf",
		ModifiedTime: testTime.Add(-time.Hour),
		DetectedAt:   testTime,
		CreatedAt:    testTime,
	}
}

func insertFile(t *testing.T, db *SQLDatabase, f *model.RemoteFile) *model.RemoteFile {
	t.Helper()
	inserted, _, err := db.ApplyFileChanges(context.Background(), []*model.RemoteFile{f}, nil)
	if err != nil {
		t.Fatalf("ApplyFileChanges() error = %v", err)
	}
	if len(inserted) != 1 {
		t.Fatalf("ApplyFileChanges() inserted %d, want 1", len(inserted))
	}
	return inserted[0]
}

func TestSQLDatabase_Rebind(t *testing.T) {
	pg := &SQLDatabase{dialect: DialectPostgres}
	if got := pg.rebind("SELECT a FROM t WHERE b = ? AND c = ?"); got != "SELECT a FROM t WHERE b = $1 AND c = $2" {
		t.Errorf("rebind() = %q", got)
	}
	lite := &SQLDatabase{dialect: DialectSQLite}
	if got := lite.rebind("WHERE b = ?"); got != "WHERE b = ?" {
		t.Errorf("rebind() = %q, want unchanged", got)
	}
}

func TestSQLDatabase_Cursor(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	token, err := db.LoadCursor(ctx)
	if err != nil {
		t.Fatalf("LoadCursor() error = %v", err)
	}
	if token != "" {
		t.Errorf("LoadCursor() = %q, want empty", token)
	}

	for _, want := range []string{"100", "250"} {
		if err := db.SaveCursor(ctx, want); err != nil {
			t.Fatalf("SaveCursor(%q) error = %v", want, err)
		}
		got, err := db.LoadCursor(ctx)
		if err != nil {
			t.Fatalf("LoadCursor() error = %v", err)
		}
		if got != want {
			t.Errorf("LoadCursor() = %q, want %q", got, want)
		}
	}

	var rows int
	if err := db.db.QueryRow("SELECT COUNT(*) FROM change_cursor").Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 1 {
		t.Errorf("change_cursor rows = %d, want 1", rows)
	}
}

func TestSQLDatabase_Files(t *testing.T) {
	ctx := context.Background()

	t.Run("returns nil when file not found", func(t *testing.T) {
		db := newTestDB(t)
		f, err := db.FindFileByRemoteID(ctx, "nope")
		if err != nil {
			t.Fatalf("FindFileByRemoteID() error = %v", err)
		}
		if f != nil {
			t.Errorf("FindFileByRemoteID() = %v, want nil", f)
		}
	})

	t.Run("insert assigns id and round trips", func(t *testing.T) {
		db := newTestDB(t)
		in := newFile("r1")
		in.WebViewLink = sql.NullString{String: "https://drive/r1", Valid: true}
		got := insertFile(t, db, in)
		if got.ID == 0 {
			t.Fatal("inserted file has no ID")
		}

		found, err := db.FindFileByRemoteID(ctx, "r1")
		if err != nil {
			t.Fatalf("FindFileByRemoteID() error = %v", err)
		}
		if found.ID != got.ID || found.Name != "r1.pdf" || found.WebViewLink.String != "https://drive/r1" {
			t.Errorf("FindFileByRemoteID() = %+v", found)
		}
		if !found.ModifiedTime.Equal(in.ModifiedTime) {
			t.Errorf("ModifiedTime = %v, want %v", found.ModifiedTime, in.ModifiedTime)
		}
		if found.Processed {
			t.Error("new file should not be processed")
		}
	})

	t.Run("conflicting insert is skipped", func(t *testing.T) {
		db := newTestDB(t)
		insertFile(t, db, newFile("dup"))

		inserted, updated, err := db.ApplyFileChanges(ctx, []*model.RemoteFile{newFile("dup"), newFile("other")}, nil)
		if err != nil {
			t.Fatalf("ApplyFileChanges() error = %v", err)
		}
		if len(inserted) != 1 || inserted[0].RemoteID != "other" {
			t.Errorf("inserted = %v, want only other", inserted)
		}
		if len(updated) != 0 {
			t.Errorf("updated = %v, want none", updated)
		}
	})

	t.Run("update changes fields", func(t *testing.T) {
		db := newTestDB(t)
		f := insertFile(t, db, newFile("u1"))
		f.Name = "renamed.pdf"
		f.ModifiedTime = testTime

		_, updated, err := db.ApplyFileChanges(ctx, nil, []*model.RemoteFile{f})
		if err != nil {
			t.Fatalf("ApplyFileChanges() error = %v", err)
		}
		if len(updated) != 1 {
			t.Fatalf("updated = %d, want 1", len(updated))
		}
		found, err := db.FindFileByRemoteID(ctx, "u1")
		if err != nil {
			t.Fatalf("FindFileByRemoteID() error = %v", err)
		}
		if found.Name != "renamed.pdf" || !found.ModifiedTime.Equal(testTime) {
			t.Errorf("after update = %+v", found)
		}
	})

	t.Run("update of missing row is not reported", func(t *testing.T) {
		db := newTestDB(t)
		ghost := newFile("ghost")
		ghost.ID = 999
		_, updated, err := db.ApplyFileChanges(ctx, nil, []*model.RemoteFile{ghost})
		if err != nil {
			t.Fatalf("ApplyFileChanges() error = %v", err)
		}
		if len(updated) != 0 {
			t.Errorf("updated = %d, want 0", len(updated))
		}
	})

	t.Run("failed batch rolls back", func(t *testing.T) {
		db := newTestDB(t)
		bad := newFile("bad")
		bad.FolderID = sql.NullInt64{Int64: 42, Valid: true} // no such folder

		if _, _, err := db.ApplyFileChanges(ctx, []*model.RemoteFile{newFile("good"), bad}, nil); err == nil {
			t.Fatal("ApplyFileChanges() expected foreign key error")
		}
		found, err := db.FindFileByRemoteID(ctx, "good")
		if err != nil {
			t.Fatalf("FindFileByRemoteID() error = %v", err)
		}
		if found != nil {
			t.Error("first insert of failed batch was committed")
		}
	})

	t.Run("list newest detection first", func(t *testing.T) {
		db := newTestDB(t)
		old := newFile("old")
		old.DetectedAt = testTime.Add(-time.Hour)
		insertFile(t, db, old)
		insertFile(t, db, newFile("new"))

		files, err := db.ListFiles(ctx)
		if err != nil {
			t.Fatalf("ListFiles() error = %v", err)
		}
		if len(files) != 2 || files[0].RemoteID != "new" || files[1].RemoteID != "old" {
			t.Errorf("ListFiles() order wrong: %v", files)
		}
	})
}

func TestSQLDatabase_Folders(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	team := &model.Folder{
		Name:      "Team A",
		RemoteID:  sql.NullString{String: "rf-1", Valid: true},
		Type:      model.FolderTypeTeam,
		TeamID:    sql.NullString{String: "team-a", Valid: true},
		CreatedAt: testTime,
	}
	if err := db.CreateFolder(ctx, team); err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}
	if team.ID == 0 {
		t.Fatal("CreateFolder() did not assign ID")
	}

	batch := &model.Folder{
		Name:      "Interviews",
		RemoteID:  sql.NullString{String: "rf-2", Valid: true},
		ParentID:  sql.NullInt64{Int64: team.ID, Valid: true},
		Type:      model.FolderTypeInterviews,
		TeamID:    team.TeamID,
		CreatedAt: testTime,
	}
	if err := db.CreateFolder(ctx, batch); err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}

	t.Run("find by id", func(t *testing.T) {
		got, err := db.FindFolderByID(ctx, batch.ID)
		if err != nil {
			t.Fatalf("FindFolderByID() error = %v", err)
		}
		if got.Type != model.FolderTypeInterviews || got.ParentID.Int64 != team.ID {
			t.Errorf("FindFolderByID() = %+v", got)
		}
	})

	t.Run("find by remote id", func(t *testing.T) {
		got, err := db.FindFolderByRemoteID(ctx, "rf-1")
		if err != nil {
			t.Fatalf("FindFolderByRemoteID() error = %v", err)
		}
		if got == nil || got.ID != team.ID {
			t.Errorf("FindFolderByRemoteID() = %v, want team", got)
		}
		missing, err := db.FindFolderByRemoteID(ctx, "nope")
		if err != nil || missing != nil {
			t.Errorf("FindFolderByRemoteID(nope) = %v, %v, want nil, nil", missing, err)
		}
	})

	t.Run("duplicate remote id rejected", func(t *testing.T) {
		dup := &model.Folder{
			Name:      "Again",
			RemoteID:  sql.NullString{String: "rf-1", Valid: true},
			Type:      model.FolderTypeTeam,
			CreatedAt: testTime,
		}
		if err := db.CreateFolder(ctx, dup); err == nil {
			t.Error("CreateFolder() with duplicate remote id should fail")
		}
	})

	t.Run("list ordered by id", func(t *testing.T) {
		folders, err := db.ListFolders(ctx)
		if err != nil {
			t.Fatalf("ListFolders() error = %v", err)
		}
		if len(folders) != 2 || folders[0].ID != team.ID || folders[1].ID != batch.ID {
			t.Errorf("ListFolders() = %v", folders)
		}
	})

	t.Run("count files in folder", func(t *testing.T) {
		f := newFile("in-folder")
		f.FolderID = sql.NullInt64{Int64: batch.ID, Valid: true}
		insertFile(t, db, f)

		n, err := db.CountFilesInFolder(ctx, batch.ID)
		if err != nil {
			t.Fatalf("CountFilesInFolder() error = %v", err)
		}
		if n != 1 {
			t.Errorf("CountFilesInFolder() = %d, want 1", n)
		}
	})
}

func sampleAnalysis(fileID int64) *model.AnalysisResult {
	r := &model.AnalysisResult{
		FileID:    fileID,
		CreatedAt: testTime,
		Initial: model.CriteriaEvaluation{
			FinalScore:             7.5,
			GeneralRecommendations: json.RawMessage(`["practice"]`),
			RecommendedAudiences:   json.RawMessage(`[]`),
			SuggestedQuestions:     json.RawMessage(`{"q1":"why?"}`),
		},
		Critical: model.CriticalEvaluation{
			TeamID:                    sql.NullString{String: "team-a", Valid: true},
			SpecificityOfImprovements: true,
			Notes:                     "solid",
		},
		Details: model.AnalysisDetails{
			ValidatedInsights: json.RawMessage(`["a"]`),
			PendingHypotheses: json.RawMessage(`[]`),
			IdentifiedGaps:    json.RawMessage(`[]`),
			ActionItems:       json.RawMessage(`["b"]`),
			Mentor: model.MentorReportDetails{
				ExecutiveSummary:     "summary",
				KeyFindings:          json.RawMessage(`[]`),
				DiscussionPoints:     json.RawMessage(`[]`),
				RecommendedQuestions: json.RawMessage(`[]`),
				NextSteps:            json.RawMessage(`["c"]`),
				Alerts:               json.RawMessage(`[]`),
			},
		},
	}
	for i, ct := range model.Criteria {
		r.Initial.Criteria = append(r.Initial.Criteria, model.EvaluationCriterion{
			Type:            ct,
			Score:           float64(i + 1),
			Positives:       json.RawMessage(`[]`),
			Improvements:    json.RawMessage(`[]`),
			Recommendations: json.RawMessage(`[]`),
		})
	}
	return r
}

func TestSQLDatabase_Analysis(t *testing.T) {
	ctx := context.Background()

	t.Run("save and load graph", func(t *testing.T) {
		db := newTestDB(t)
		f := insertFile(t, db, newFile("doc"))

		created, err := db.SaveAnalysis(ctx, sampleAnalysis(f.ID))
		if err != nil {
			t.Fatalf("SaveAnalysis() error = %v", err)
		}
		if !created {
			t.Fatal("SaveAnalysis() = false, want true")
		}

		got, err := db.FindAnalysisByFileID(ctx, f.ID)
		if err != nil {
			t.Fatalf("FindAnalysisByFileID() error = %v", err)
		}
		if got == nil {
			t.Fatal("FindAnalysisByFileID() = nil")
		}
		if got.Initial.FinalScore != 7.5 || string(got.Initial.SuggestedQuestions) != `{"q1":"why?"}` {
			t.Errorf("Initial = %+v", got.Initial)
		}
		if len(got.Initial.Criteria) != 5 {
			t.Fatalf("len(Criteria) = %d, want 5", len(got.Initial.Criteria))
		}
		for i, c := range got.Initial.Criteria {
			if c.Type != model.Criteria[i] || c.Score != float64(i+1) {
				t.Errorf("Criteria[%d] = %s/%v", i, c.Type, c.Score)
			}
		}
		if got.Critical.TeamID.String != "team-a" || !got.Critical.SpecificityOfImprovements || got.Critical.Notes != "solid" {
			t.Errorf("Critical = %+v", got.Critical)
		}
		if got.Details.Mentor.ExecutiveSummary != "summary" || string(got.Details.Mentor.NextSteps) != `["c"]` {
			t.Errorf("Mentor = %+v", got.Details.Mentor)
		}

		file, err := db.FindFileByRemoteID(ctx, "doc")
		if err != nil {
			t.Fatalf("FindFileByRemoteID() error = %v", err)
		}
		if !file.Processed {
			t.Error("file not marked processed")
		}
	})

	t.Run("second save is skipped", func(t *testing.T) {
		db := newTestDB(t)
		f := insertFile(t, db, newFile("doc"))
		if _, err := db.SaveAnalysis(ctx, sampleAnalysis(f.ID)); err != nil {
			t.Fatalf("SaveAnalysis() error = %v", err)
		}

		again := sampleAnalysis(f.ID)
		again.Initial.FinalScore = 1
		created, err := db.SaveAnalysis(ctx, again)
		if err != nil {
			t.Fatalf("SaveAnalysis() error = %v", err)
		}
		if created {
			t.Error("second SaveAnalysis() = true, want false")
		}

		var n int
		if err := db.db.QueryRow("SELECT COUNT(*) FROM criteria_evaluations").Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("criteria_evaluations rows = %d, want 1", n)
		}
	})

	t.Run("failure leaves nothing behind", func(t *testing.T) {
		db := newTestDB(t)
		f := insertFile(t, db, newFile("doc"))
		bad := sampleAnalysis(f.ID)
		bad.Initial.Criteria = append(bad.Initial.Criteria, bad.Initial.Criteria[0]) // duplicate type

		if _, err := db.SaveAnalysis(ctx, bad); err == nil {
			t.Fatal("SaveAnalysis() expected unique violation")
		}
		got, err := db.FindAnalysisByFileID(ctx, f.ID)
		if err != nil {
			t.Fatalf("FindAnalysisByFileID() error = %v", err)
		}
		if got != nil {
			t.Error("partial analysis was committed")
		}
		file, err := db.FindFileByRemoteID(ctx, "doc")
		if err != nil {
			t.Fatalf("FindFileByRemoteID() error = %v", err)
		}
		if file.Processed {
			t.Error("file marked processed after rollback")
		}
	})

	t.Run("missing analysis", func(t *testing.T) {
		db := newTestDB(t)
		got, err := db.FindAnalysisByFileID(ctx, 1)
		if err != nil || got != nil {
			t.Errorf("FindAnalysisByFileID() = %v, %v, want nil, nil", got, err)
		}
	})
}

func TestSQLDatabase_Maintenance(t *testing.T) {
	t.Run("check migrations on fresh database", func(t *testing.T) {
		db, err := NewSQLiteDatabase(":memory:")
		if err != nil {
			t.Fatalf("NewSQLiteDatabase() error = %v", err)
		}
		defer db.Close()
		if err := db.CheckMigrations(); err == nil {
			t.Error("CheckMigrations() on fresh database should fail")
		}
		if err := db.Migrate(); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}
		if err := db.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() after Migrate error = %v", err)
		}
	})

	t.Run("backup produces readable copy", func(t *testing.T) {
		db := newTestDB(t)
		insertFile(t, db, newFile("kept"))

		dest := filepath.Join(t.TempDir(), "copy.db")
		if err := db.BackupTo(dest); err != nil {
			t.Fatalf("BackupTo() error = %v", err)
		}
		if _, err := os.Stat(dest); err != nil {
			t.Fatalf("backup file missing: %v", err)
		}

		cp, err := NewSQLiteDatabase(dest)
		if err != nil {
			t.Fatalf("NewSQLiteDatabase() error = %v", err)
		}
		defer cp.Close()
		f, err := cp.FindFileByRemoteID(context.Background(), "kept")
		if err != nil {
			t.Fatalf("FindFileByRemoteID() error = %v", err)
		}
		if f == nil {
			t.Error("backup is missing file row")
		}
	})

	t.Run("backup unsupported for postgres", func(t *testing.T) {
		db := &SQLDatabase{dialect: DialectPostgres}
		if err := db.BackupTo("x"); err == nil {
			t.Error("BackupTo() on postgres should fail")
		}
	})
}
