package routes

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/render"

	"github.com/tmercier/collecte/app"
	"github.com/tmercier/collecte/filter"
	"github.com/tmercier/collecte/httpx"
	"github.com/tmercier/collecte/log"
	"github.com/tmercier/collecte/model"
)

func PublicGetCampaign(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaignId, err := urlID(r)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		rows, err := app.QueryContext(r.Context(), `
			SELECT
				c.title, c.description,
				f.id, f.type, f.name, f.label, f.required, f.options
			FROM campaign c
			LEFT OUTER JOIN form_field f ON (c.id = f.campaign_id)
			WHERE c.id = ?
			ORDER BY f.position`,
			campaignId,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.get_campaign", err)
			return
		}
		defer rows.Close()

		campaign := model.Campaign{}
		found := false
		for rows.Next() {
			found = true

			f := model.FormField{}
			var fieldId sql.NullInt64
			var fieldType, name, label, opts sql.NullString
			var required sql.NullBool
			err = rows.Scan(
				&campaign.Title, &campaign.Description,
				&fieldId, &fieldType, &name, &label, &required, &opts,
			)
			if err != nil {
				httpx.LogInternalError(w, "db.get_campaign.scan", err)
				return
			}

			if !fieldId.Valid {
				continue
			}
			f.ID = fieldId.Int64
			f.Type = fieldType.String
			f.Name = name.String
			f.Label = label.String
			f.Required = required.Bool
			f.Position = len(campaign.Fields)
			if opts.String != "" {
				err = json.Unmarshal([]byte(opts.String), &f.Options)
				if err != nil {
					httpx.LogInternalError(w, "db.get_campaign.parse_options", err)
					return
				}
			}

			campaign.Fields = append(campaign.Fields, f)
		}
		if !found {
			httpx.LogNotFound(w, "get_campaign", campaignId)
			return
		}

		render.JSON(w, r, campaign)
	}
}

type intakeAnswer struct {
	FieldID int64 `json:"fieldId"`
	Value   any   `json:"value"`
}

type intakeRequest struct {
	Answers []intakeAnswer `json:"answers"`
}

// answerText serializes any submitted value to its stored text form.
// Multi-selections collapse into one composite blob.
func answerText(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			s, err := answerText(item)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return strings.Join(parts, ", "), nil
	default:
		data, err := json.Marshal(v)
		return string(data), err
	}
}

func SubmitCampaign(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaignId, err := urlID(r)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		intake := intakeRequest{}
		err = render.DecodeJSON(r.Body, &intake)
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

		fields, err := campaignFields(r.Context(), tx, campaignId)
		if err != nil {
			httpx.LogInternalError(w, "db.get_campaign.fields", err)
			return
		}
		if fields == nil {
			httpx.LogNotFound(w, "get_campaign", campaignId)
			return
		}

		answered := map[int64]string{}
		for _, a := range intake.Answers {
			if _, known := fields[a.FieldID]; !known {
				httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "request.answer.field", "unknown field %d", a.FieldID)
				return
			}
			text, err := answerText(a.Value)
			if err != nil {
				httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.answer.value")
				return
			}
			answered[a.FieldID] = text
		}
		for id, f := range fields {
			if f.Required && strings.TrimSpace(answered[id]) == "" {
				httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "request.answer.required", "missing required field %q", f.Label)
				return
			}
		}

		var submissionId int64
		err = tx.QueryRowContext(r.Context(), `
			INSERT INTO submission (campaign_id, created_at) VALUES (?, ?)
			RETURNING id`,
			campaignId,
			time.Now(),
		).Scan(&submissionId)
		if err != nil {
			httpx.LogInternalError(w, "db.insert_submission", err)
			return
		}

		stmt, err := tx.PrepareContext(r.Context(), `
			INSERT INTO answer (submission_id, field_id, value)
			VALUES (?, ?, ?)`)
		if err != nil {
			httpx.LogInternalError(w, "db.insert_submission.answers.prepare", err)
			return
		}
		defer stmt.Close()

		for _, a := range intake.Answers {
			_, err := stmt.ExecContext(r.Context(), submissionId, a.FieldID, answered[a.FieldID])
			if err != nil {
				httpx.LogInternalError(w, "db.insert_submission.answers.insert", err)
				return
			}
		}

		err = tx.Commit()
		if err != nil {
			httpx.LogInternalError(w, "db.insert_submission.commit", err)
			return
		}

		w.WriteHeader(http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"id": submissionId,
		})
	}
}

// campaignFields returns the campaign's fields keyed by id, nil when
// the campaign does not exist.
func campaignFields(ctx context.Context, tx *sql.Tx, campaignId int64) (map[int64]model.FormField, error) {
	var one int
	err := tx.QueryRowContext(ctx, "SELECT 1 FROM campaign WHERE id = ?", campaignId).Scan(&one)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, type, name, label, required
		FROM form_field
		WHERE campaign_id = ?`,
		campaignId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := map[int64]model.FormField{}
	for rows.Next() {
		f := model.FormField{}
		err = rows.Scan(&f.ID, &f.Type, &f.Name, &f.Label, &f.Required)
		if err != nil {
			return nil, err
		}
		fields[f.ID] = f
	}
	return fields, rows.Err()
}

// UploadAttachment stores the payload of a file or image field ahead
// of the submission itself; the answer then references the returned
// name.
func UploadAttachment(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaignId, err := urlID(r)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		var exists int
		err = app.QueryRowContext(r.Context(), "SELECT 1 FROM campaign WHERE id = ?", campaignId).Scan(&exists)
		if err == sql.ErrNoRows {
			httpx.LogNotFound(w, "upload_attachment", campaignId)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.upload_attachment", err)
			return
		}

		err = r.ParseMultipartForm(maxSheetSize)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_multipart")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.form_file")
			return
		}
		defer file.Close()

		name, err := app.Files.SaveUpload(header.Filename, file)
		if err != nil {
			httpx.LogInternalError(w, "storage.upload", err)
			return
		}

		w.WriteHeader(http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"file": name,
		})
	}
}

type searchRequest struct {
	filter.Criteria
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
	Order    string `json:"order"`
}

func SearchSubmissions(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaignId, err := urlID(r)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		req := searchRequest{}
		err = render.DecodeJSON(r.Body, &req)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		if req.Page < 1 {
			req.Page = 1
		}
		if req.PageSize < 1 || req.PageSize > 100 {
			req.PageSize = 20
		}

		owned, err := campaignOwned(r.Context(), app.DB, campaignId, requestOwner(r))
		if err != nil {
			httpx.LogInternalError(w, "db.search.owner", err)
			return
		}
		if !owned {
			httpx.LogNotFound(w, "search_submissions", campaignId)
			return
		}

		types, err := fieldTypes(r.Context(), app.DB, campaignId)
		if err != nil {
			httpx.LogInternalError(w, "db.search.field_types", err)
			return
		}
		watermark, err := exportWatermark(r.Context(), app.DB, campaignId)
		if err != nil {
			httpx.LogInternalError(w, "db.search.watermark", err)
			return
		}

		where, args := filter.Build(campaignId, req.Criteria, types, watermark).Where()

		var total int
		err = app.QueryRowContext(r.Context(), "SELECT count(*) FROM submission s"+where, args...).Scan(&total)
		if err != nil {
			httpx.LogInternalError(w, "db.search.count", err)
			return
		}

		order := "DESC"
		if strings.EqualFold(req.Order, "asc") {
			order = "ASC"
		}
		query := fmt.Sprintf(
			"SELECT s.id, s.created_at, s.favorite FROM submission s%s ORDER BY s.created_at %s LIMIT ? OFFSET ?",
			where, order,
		)
		pageArgs := append(args, req.PageSize, (req.Page-1)*req.PageSize)

		rows, err := app.QueryContext(r.Context(), query, pageArgs...)
		if err != nil {
			httpx.LogInternalError(w, "db.search", err)
			return
		}
		defer rows.Close()

		submissions := []model.Submission{}
		var ids []int64
		for rows.Next() {
			s := model.Submission{CampaignID: campaignId}
			err = rows.Scan(&s.ID, &s.Time, &s.Favorite)
			if err != nil {
				httpx.LogInternalError(w, "db.search.scan", err)
				return
			}
			submissions = append(submissions, s)
			ids = append(ids, s.ID)
		}
		if err = rows.Err(); err != nil {
			httpx.LogInternalError(w, "db.search.rows", err)
			return
		}

		err = attachAnswers(r.Context(), app.DB, submissions, ids, nil)
		if err != nil {
			httpx.LogInternalError(w, "db.search.answers", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"submissions": submissions,
			"total":       total,
			"page":        req.Page,
			"pageSize":    req.PageSize,
		})
	}
}

// attachAnswers loads the answers of the given submissions in one
// query, optionally restricted to a field subset.
func attachAnswers(ctx context.Context, db *sql.DB, submissions []model.Submission, ids []int64, fieldSubset []int64) error {
	if len(ids) == 0 {
		return nil
	}

	query := `
		SELECT a.submission_id, a.field_id, f.name, f.label, f.type, a.value
		FROM answer a
		INNER JOIN form_field f ON (f.id = a.field_id)
		WHERE a.submission_id IN (` + placeholders(len(ids)) + `)`
	args := make([]any, 0, len(ids)+len(fieldSubset))
	for _, id := range ids {
		args = append(args, id)
	}
	if len(fieldSubset) > 0 {
		query += " AND a.field_id IN (" + placeholders(len(fieldSubset)) + ")"
		for _, id := range fieldSubset {
			args = append(args, id)
		}
	}
	query += " ORDER BY a.submission_id, a.field_id"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	byId := map[int64]*model.Submission{}
	for i := range submissions {
		byId[submissions[i].ID] = &submissions[i]
	}

	for rows.Next() {
		var submissionId int64
		a := model.Answer{}
		err = rows.Scan(&submissionId, &a.FieldID, &a.Name, &a.Label, &a.Type, &a.Value)
		if err != nil {
			return err
		}
		if s := byId[submissionId]; s != nil {
			s.Answers = append(s.Answers, a)
		}
	}
	return rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func GetSubmissionById(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		submissionId, err := urlID(r)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		campaignId, owned, err := submissionOwned(r.Context(), app.DB, submissionId, requestOwner(r))
		if err != nil {
			httpx.LogInternalError(w, "db.get_submission.owner", err)
			return
		}
		if !owned {
			httpx.LogNotFound(w, "get_submission", submissionId)
			return
		}

		s := model.Submission{ID: submissionId, CampaignID: campaignId}
		err = app.QueryRowContext(r.Context(), `
			SELECT created_at, favorite FROM submission WHERE id = ?`,
			submissionId,
		).Scan(&s.Time, &s.Favorite)
		if err != nil {
			httpx.LogInternalError(w, "db.get_submission", err)
			return
		}

		submissions := []model.Submission{s}
		err = attachAnswers(r.Context(), app.DB, submissions, []int64{submissionId}, nil)
		if err != nil {
			httpx.LogInternalError(w, "db.get_submission.answers", err)
			return
		}

		render.JSON(w, r, submissions[0])
	}
}

func SetSubmissionFavorite(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		submissionId, err := urlID(r)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		body := struct {
			Favorite bool `json:"favorite"`
		}{}
		err = render.DecodeJSON(r.Body, &body)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		_, owned, err := submissionOwned(r.Context(), app.DB, submissionId, requestOwner(r))
		if err != nil {
			httpx.LogInternalError(w, "db.favorite.owner", err)
			return
		}
		if !owned {
			httpx.LogNotFound(w, "favorite_submission", submissionId)
			return
		}

		_, err = app.ExecContext(r.Context(), `
			UPDATE submission SET favorite = ? WHERE id = ?`,
			body.Favorite, submissionId,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.favorite", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func DeleteSubmission(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		submissionId, err := urlID(r)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		_, owned, err := submissionOwned(r.Context(), app.DB, submissionId, requestOwner(r))
		if err != nil {
			httpx.LogInternalError(w, "db.delete_submission.owner", err)
			return
		}
		if !owned {
			httpx.LogNotFound(w, "delete_submission", submissionId)
			return
		}

		// soft delete: hidden from every default query, recoverable by hand
		_, err = app.ExecContext(r.Context(), `
			UPDATE submission SET deleted_at = ? WHERE id = ?`,
			time.Now(), submissionId,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.delete_submission", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
