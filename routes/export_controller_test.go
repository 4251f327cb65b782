package routes

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/oauth"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tmercier/collecte/app"
	"github.com/tmercier/collecte/storage"
)

var exportSchema = []string{
	`CREATE TABLE campaign (
		id INTEGER PRIMARY KEY, owner TEXT, title TEXT, description TEXT,
		version INTEGER DEFAULT 0, created_at TIMESTAMP)`,
	`CREATE TABLE form_field (
		id INTEGER PRIMARY KEY, campaign_id INTEGER, type TEXT, name TEXT,
		label TEXT, required BOOLEAN, options TEXT, position INTEGER)`,
	`CREATE TABLE submission (
		id INTEGER PRIMARY KEY, campaign_id INTEGER, created_at TIMESTAMP,
		favorite BOOLEAN DEFAULT FALSE, deleted_at TIMESTAMP)`,
	`CREATE TABLE answer (
		id INTEGER PRIMARY KEY, submission_id INTEGER, field_id INTEGER, value TEXT)`,

	`INSERT INTO campaign (id, owner, title) VALUES (1, 'admin', 'Portes ouvertes')`,
	`INSERT INTO form_field (id, campaign_id, type, name, label, position) VALUES
		(10, 1, 'text', 'nom', 'Nom', 0)`,
	`INSERT INTO submission (id, campaign_id, created_at) VALUES
		(1, 1, '2024-01-10'), (2, 1, '2024-02-10')`,
	`INSERT INTO answer (submission_id, field_id, value) VALUES
		(1, 10, 'Dupont'), (2, 10, 'Martin')`,
}

var exportHistorySchema = `CREATE TABLE export_history (
	id INTEGER PRIMARY KEY, campaign_id INTEGER, file TEXT,
	last_submission_id INTEGER, created_at TIMESTAMP)`

func exportApp(t *testing.T, stmts []string) app.App {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatal(err)
		}
	}

	files, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return app.App{DB: db, Files: files}
}

func doExport(t *testing.T, a app.App, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/api/admin/campaigns/1/export", strings.NewReader(body))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "1")
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	ctx = context.WithValue(ctx, oauth.CredentialContext, "admin")

	w := httptest.NewRecorder()
	ExportSubmissions(a)(w, r.WithContext(ctx))
	return w
}

func storedFiles(t *testing.T, a app.App) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(a.Files.Root)
	if err != nil {
		t.Fatal(err)
	}
	return entries
}

func TestExportSubmissions_RecordsHistoryWithFile(t *testing.T) {
	a := exportApp(t, append(exportSchema, exportHistorySchema))

	w := doExport(t, a, `{"format":"csv"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", w.Code, w.Body)
	}

	entries := storedFiles(t, a)
	if len(entries) != 1 {
		t.Fatalf("stored files = %d, want 1", len(entries))
	}

	var file string
	var last int64
	err := a.QueryRow("SELECT file, last_submission_id FROM export_history").Scan(&file, &last)
	if err != nil {
		t.Fatal(err)
	}
	if file != entries[0].Name() {
		t.Errorf("history file = %q, stored %q", file, entries[0].Name())
	}
	// rows come back newest first
	if last != 2 {
		t.Errorf("last_submission_id = %d, want 2", last)
	}
}

func TestExportSubmissions_UnknownFormatRejected(t *testing.T) {
	a := exportApp(t, append(exportSchema, exportHistorySchema))

	w := doExport(t, a, `{"format":"pdf"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if entries := storedFiles(t, a); len(entries) != 0 {
		t.Errorf("stored files = %d, want none", len(entries))
	}
}

func TestExportSubmissions_NoMatchRejected(t *testing.T) {
	a := exportApp(t, append(exportSchema, exportHistorySchema))

	w := doExport(t, a, `{"format":"csv","ids":[999]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if entries := storedFiles(t, a); len(entries) != 0 {
		t.Errorf("stored files = %d, want none", len(entries))
	}
}

func TestExportSubmissions_FailedHistoryDiscardsFile(t *testing.T) {
	// no export_history table, so the watermark insert fails after the
	// file was already written
	a := exportApp(t, exportSchema)

	w := doExport(t, a, `{"format":"csv"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if entries := storedFiles(t, a); len(entries) != 0 {
		t.Errorf("stored files = %d, want none left behind", len(entries))
	}
}
