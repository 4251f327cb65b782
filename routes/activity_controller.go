package routes

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/tmercier/collecte/app"
	"github.com/tmercier/collecte/httpx"
	"github.com/tmercier/collecte/log"
	"github.com/tmercier/collecte/mail"
	"github.com/tmercier/collecte/model"
)

func ListActivities(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		submissionId, err := urlID(r)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		_, owned, err := submissionOwned(r.Context(), app.DB, submissionId, requestOwner(r))
		if err != nil {
			httpx.LogInternalError(w, "db.get_activities.owner", err)
			return
		}
		if !owned {
			httpx.LogNotFound(w, "get_activities", submissionId)
			return
		}

		rows, err := app.QueryContext(r.Context(), `
			SELECT id, kind, title, body, due_at, done, created_at
			FROM activity
			WHERE submission_id = ?
			ORDER BY created_at DESC`,
			submissionId,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.get_activities", err)
			return
		}
		defer rows.Close()

		activities := []model.Activity{}
		for rows.Next() {
			a := model.Activity{SubmissionID: submissionId}
			err = rows.Scan(&a.ID, &a.Kind, &a.Title, &a.Body, &a.DueAt, &a.Done, &a.CreatedAt)
			if err != nil {
				httpx.LogInternalError(w, "db.get_activities.scan", err)
				return
			}
			activities = append(activities, a)
		}

		render.JSON(w, r, map[string]any{
			"activities": activities,
		})
	}
}

type createActivityRequest struct {
	model.Activity
	// email activities carry their recipients, they are sent on
	// creation and not persisted beyond the activity body
	To []string `json:"to,omitempty"`
}

func CreateActivity(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		submissionId, err := urlID(r)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		req := createActivityRequest{}
		err = render.DecodeJSON(r.Body, &req)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		if !model.ValidActivityKind(req.Kind) {
			httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "request.activity_kind", "unknown activity kind %q", req.Kind)
			return
		}

		_, owned, err := submissionOwned(r.Context(), app.DB, submissionId, requestOwner(r))
		if err != nil {
			httpx.LogInternalError(w, "db.insert_activity.owner", err)
			return
		}
		if !owned {
			httpx.LogNotFound(w, "insert_activity", submissionId)
			return
		}

		if req.Kind == model.ActivityEmail {
			if len(req.To) == 0 {
				httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.activity_email.to")
				return
			}
			_, err = app.Mail.Send(r.Context(), req.To, req.Title, req.Body)
			if err == mail.ErrDisabled {
				httpx.LogStatusMsg(w, http.StatusConflict, log.WarnLevel, "mail.disabled", "email sending is not configured")
				return
			}
			if err != nil {
				httpx.LogInternalError(w, "mail.send", err)
				return
			}
		}

		var activityId int64
		err = app.QueryRowContext(r.Context(), `
			INSERT INTO activity (submission_id, kind, title, body, due_at, done, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			RETURNING id`,
			submissionId, req.Kind, req.Title, req.Body, req.DueAt, req.Done, time.Now(),
		).Scan(&activityId)
		if err != nil {
			httpx.LogInternalError(w, "db.insert_activity", err)
			return
		}

		w.WriteHeader(http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"id": activityId,
		})
	}
}

// activityOwned scopes an activity to the actor through its
// submission's campaign.
func activityOwned(r *http.Request, app app.App, activityId int64) (bool, error) {
	var one int
	err := app.QueryRowContext(r.Context(), `
		SELECT 1
		FROM activity a
		INNER JOIN submission s ON (s.id = a.submission_id)
		INNER JOIN campaign c ON (c.id = s.campaign_id)
		WHERE a.id = ?
			AND c.owner = ?`,
		activityId, requestOwner(r),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func UpdateActivity(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		activityId, err := urlID(r)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		a := model.Activity{}
		err = render.DecodeJSON(r.Body, &a)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		owned, err := activityOwned(r, app, activityId)
		if err != nil {
			httpx.LogInternalError(w, "db.update_activity.owner", err)
			return
		}
		if !owned {
			httpx.LogNotFound(w, "update_activity", activityId)
			return
		}

		_, err = app.ExecContext(r.Context(), `
			UPDATE activity
			SET title = ?, body = ?, due_at = ?, done = ?
			WHERE id = ?`,
			a.Title, a.Body, a.DueAt, a.Done, activityId,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.update_activity", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func DeleteActivity(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		activityId, err := urlID(r)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		owned, err := activityOwned(r, app, activityId)
		if err != nil {
			httpx.LogInternalError(w, "db.delete_activity.owner", err)
			return
		}
		if !owned {
			httpx.LogNotFound(w, "delete_activity", activityId)
			return
		}

		_, err = app.ExecContext(r.Context(), `
			DELETE FROM activity WHERE id = ?`,
			activityId,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.delete_activity", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
