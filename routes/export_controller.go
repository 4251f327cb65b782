package routes

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/tmercier/collecte/app"
	"github.com/tmercier/collecte/export"
	"github.com/tmercier/collecte/filter"
	"github.com/tmercier/collecte/httpx"
	"github.com/tmercier/collecte/log"
	"github.com/tmercier/collecte/model"
)

type exportRequest struct {
	filter.Criteria
	Format    string  `json:"format"`
	Delimiter string  `json:"delimiter,omitempty"`
	Fields    []int64 `json:"fields,omitempty"`
}

// ExportSubmissions renders the filtered submissions of a campaign to
// a file and records the new export watermark. The fetch and the
// watermark append run in one transaction so concurrent exports on
// the same campaign cannot interleave between read and write.
func ExportSubmissions(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaignId, err := urlID(r)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		req := exportRequest{}
		err = render.DecodeJSON(r.Body, &req)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		tx, err := app.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.LogInternalError(w, "db.begin_tx", err)
			return
		}
		defer tx.Rollback()

		owned, err := campaignOwned(r.Context(), tx, campaignId, requestOwner(r))
		if err != nil {
			httpx.LogInternalError(w, "db.export.owner", err)
			return
		}
		if !owned {
			httpx.LogNotFound(w, "export_submissions", campaignId)
			return
		}

		rows, err := exportRows(r.Context(), tx, campaignId, req)
		if err != nil {
			httpx.LogInternalError(w, "db.export.fetch", err)
			return
		}
		data, err := export.Render(rows, req.Format, req.Delimiter, req.Fields)
		switch {
		case errors.Is(err, export.ErrNoRows):
			httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "export.empty", "no rows match the given filters")
			return
		case errors.Is(err, export.ErrUnknownFormat):
			httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "export.format", "unknown export format %q", req.Format)
			return
		case err != nil:
			httpx.LogInternalError(w, "export.render", err)
			return
		}

		filename := export.Filename(campaignId, req.Format, time.Now())
		file, err := app.Files.Save(filename, data)
		if err != nil {
			httpx.LogInternalError(w, "export.store", err)
			return
		}

		// rows come back newest first, the head is the new watermark
		_, err = tx.ExecContext(r.Context(), `
			INSERT INTO export_history (campaign_id, file, last_submission_id, created_at)
			VALUES (?, ?, ?, ?)`,
			campaignId, file, rows[0].SubmissionID, time.Now(),
		)
		if err != nil {
			discardExportFile(app, file)
			httpx.LogInternalError(w, "db.export.history", err)
			return
		}

		err = tx.Commit()
		if err != nil {
			discardExportFile(app, file)
			httpx.LogInternalError(w, "db.export.commit", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"file":   file,
			"count":  len(rows),
			"format": req.Format,
		})
	}
}

// discardExportFile removes an export file whose history row never
// made it into the database, so nothing under the files route exists
// without a matching export_history entry.
func discardExportFile(app app.App, file string) {
	if err := app.Files.Remove(file); err != nil {
		log.Warn("export.discard: ", err)
	}
}

func exportRows(ctx context.Context, tx *sql.Tx, campaignId int64, req exportRequest) ([]export.Row, error) {
	types := map[int64]string{}
	watermark := int64(0)

	typeRows, err := tx.QueryContext(ctx,
		"SELECT id, type FROM form_field WHERE campaign_id = ?", campaignId)
	if err != nil {
		return nil, err
	}
	for typeRows.Next() {
		var id int64
		var t string
		if err := typeRows.Scan(&id, &t); err != nil {
			typeRows.Close()
			return nil, err
		}
		types[id] = t
	}
	typeRows.Close()
	if err := typeRows.Err(); err != nil {
		return nil, err
	}

	if req.SinceLastExport {
		watermark, err = exportWatermark(ctx, tx, campaignId)
		if err != nil {
			return nil, err
		}
	}

	where, args := filter.Build(campaignId, req.Criteria, types, watermark).Where()

	subs, err := tx.QueryContext(ctx,
		"SELECT s.id, s.created_at FROM submission s"+where+" ORDER BY s.created_at DESC",
		args...)
	if err != nil {
		return nil, err
	}
	defer subs.Close()

	var rows []export.Row
	index := map[int64]int{}
	var ids []any
	for subs.Next() {
		row := export.Row{}
		if err := subs.Scan(&row.SubmissionID, &row.Date); err != nil {
			return nil, err
		}
		index[row.SubmissionID] = len(rows)
		rows = append(rows, row)
		ids = append(ids, row.SubmissionID)
	}
	if err := subs.Err(); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	query := `
		SELECT a.submission_id, a.field_id, f.name, f.label, a.value
		FROM answer a
		INNER JOIN form_field f ON (f.id = a.field_id)
		WHERE a.submission_id IN (` + placeholders(len(ids)) + `)`
	answerArgs := ids
	if len(req.Fields) > 0 {
		query += " AND a.field_id IN (" + placeholders(len(req.Fields)) + ")"
		for _, id := range req.Fields {
			answerArgs = append(answerArgs, id)
		}
	}
	query += " ORDER BY a.submission_id, a.field_id"

	answers, err := tx.QueryContext(ctx, query, answerArgs...)
	if err != nil {
		return nil, err
	}
	defer answers.Close()

	for answers.Next() {
		var submissionId int64
		var name, label string
		cell := export.Cell{}
		err = answers.Scan(&submissionId, &cell.FieldID, &name, &label, &cell.Value)
		if err != nil {
			return nil, err
		}
		cell.Label = label
		if cell.Label == "" {
			cell.Label = name
		}

		i := index[submissionId]
		rows[i].Answers = append(rows[i].Answers, cell)
	}
	return rows, answers.Err()
}

func ListExportHistory(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaignId, err := urlID(r)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		owned, err := campaignOwned(r.Context(), app.DB, campaignId, requestOwner(r))
		if err != nil {
			httpx.LogInternalError(w, "db.get_exports.owner", err)
			return
		}
		if !owned {
			httpx.LogNotFound(w, "get_exports", campaignId)
			return
		}

		rows, err := app.QueryContext(r.Context(), `
			SELECT id, campaign_id, file, last_submission_id, created_at
			FROM export_history
			WHERE campaign_id = ?
			ORDER BY id DESC`,
			campaignId,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.get_exports", err)
			return
		}
		defer rows.Close()

		exports := []model.ExportHistory{}
		for rows.Next() {
			e := model.ExportHistory{}
			err = rows.Scan(&e.ID, &e.CampaignID, &e.File, &e.LastSubmissionID, &e.CreatedAt)
			if err != nil {
				httpx.LogInternalError(w, "db.get_exports.scan", err)
				return
			}
			exports = append(exports, e)
		}

		render.JSON(w, r, map[string]any{
			"exports": exports,
		})
	}
}
