package routes

import (
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/render"

	"github.com/tmercier/collecte/analyze"
	"github.com/tmercier/collecte/app"
	"github.com/tmercier/collecte/httpx"
	"github.com/tmercier/collecte/log"
	"github.com/tmercier/collecte/model"
)

const maxSheetSize = 20 << 20 // 20 MiB

// AnalyzeSheet parses an uploaded spreadsheet and returns the inferred
// form schema, one field analysis per column. Nothing is persisted.
func AnalyzeSheet(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file, header, err := sheetUpload(w, r)
		if err != nil {
			return // response already written
		}
		defer file.Close()

		grid, err := analyze.ReadGrid(header.Filename, file)
		if err == analyze.ErrUnsupportedFile {
			httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "analyze.format", "unsupported file format %q", header.Filename)
			return
		}
		if err != nil {
			httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "analyze.parse", "could not read sheet: %s", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"fields": analyze.Analyze(grid),
		})
	}
}

func sheetUpload(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	err := r.ParseMultipartForm(maxSheetSize)
	if err != nil {
		httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_multipart")
		return nil, nil, err
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.form_file")
		return nil, nil, err
	}
	return file, header, nil
}

// ImportCampaign creates a campaign out of an uploaded spreadsheet:
// fields come from the analyzer, data rows become submissions.
func ImportCampaign(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file, header, err := sheetUpload(w, r)
		if err != nil {
			return
		}
		defer file.Close()

		grid, err := analyze.ReadGrid(header.Filename, file)
		if err == analyze.ErrUnsupportedFile {
			httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "import.format", "unsupported file format %q", header.Filename)
			return
		}
		if err != nil {
			httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "import.parse", "could not read sheet: %s", err)
			return
		}

		analyses := analyze.Analyze(grid)
		if len(analyses) == 0 {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "import.no_columns")
			return
		}

		title := r.FormValue("title")
		if title == "" {
			title = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
		}

		tx, err := app.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.LogInternalError(w, "db.begin_tx", err)
			return
		}
		defer tx.Rollback()

		var campaignId int64
		err = tx.QueryRowContext(r.Context(), `
			INSERT INTO campaign (owner, title, description, created_at) VALUES (?, ?, ?, ?)
			RETURNING id`,
			requestOwner(r), title, "", time.Now(),
		).Scan(&campaignId)
		if err != nil {
			httpx.LogInternalError(w, "db.import.insert_campaign", err)
			return
		}

		fields := make([]model.FormField, len(analyses))
		for i, fa := range analyses {
			fields[i] = model.FormField{
				Type:     fa.Type,
				Label:    fa.Label,
				Required: fa.Required,
				Options:  fa.Options,
			}
		}
		err = insertFields(r.Context(), tx, campaignId, fields)
		if err != nil {
			httpx.LogInternalError(w, "db.import.fields", err)
			return
		}

		// re-read the stored fields to map columns to field ids
		stored, err := tx.QueryContext(r.Context(), `
			SELECT id FROM form_field WHERE campaign_id = ? ORDER BY position`,
			campaignId,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.import.field_ids", err)
			return
		}
		var fieldIds []int64
		for stored.Next() {
			var id int64
			if err = stored.Scan(&id); err != nil {
				stored.Close()
				httpx.LogInternalError(w, "db.import.field_ids.scan", err)
				return
			}
			fieldIds = append(fieldIds, id)
		}
		stored.Close()
		if err = stored.Err(); err != nil {
			httpx.LogInternalError(w, "db.import.field_ids.rows", err)
			return
		}

		// map analyzed columns back to their grid index: analyses skip
		// empty headers, so walk the headers in parallel
		columns := make([]int, 0, len(analyses))
		for i, h := range grid.Headers {
			if strings.TrimSpace(h) != "" {
				columns = append(columns, i)
			}
		}

		subStmt, err := tx.PrepareContext(r.Context(), `
			INSERT INTO submission (campaign_id, created_at) VALUES (?, ?)
			RETURNING id`)
		if err != nil {
			httpx.LogInternalError(w, "db.import.submissions.prepare", err)
			return
		}
		defer subStmt.Close()

		ansStmt, err := tx.PrepareContext(r.Context(), `
			INSERT INTO answer (submission_id, field_id, value) VALUES (?, ?, ?)`)
		if err != nil {
			httpx.LogInternalError(w, "db.import.answers.prepare", err)
			return
		}
		defer ansStmt.Close()

		imported := 0
		for _, row := range grid.Rows {
			if emptyRow(row) {
				continue
			}

			var submissionId int64
			err = subStmt.QueryRowContext(r.Context(), campaignId, time.Now()).Scan(&submissionId)
			if err != nil {
				httpx.LogInternalError(w, "db.import.submissions.insert", err)
				return
			}

			for fi, col := range columns {
				value := ""
				if col < len(row) {
					value = strings.TrimSpace(row[col])
				}
				if value == "" {
					continue
				}
				_, err = ansStmt.ExecContext(r.Context(), submissionId, fieldIds[fi], value)
				if err != nil {
					httpx.LogInternalError(w, "db.import.answers.insert", err)
					return
				}
			}
			imported++
		}

		err = tx.Commit()
		if err != nil {
			httpx.LogInternalError(w, "db.import.commit", err)
			return
		}

		w.WriteHeader(http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"id":       campaignId,
			"fields":   analyses,
			"imported": imported,
		})
	}
}

func emptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
