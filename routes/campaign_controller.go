package routes

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/tmercier/collecte/app"
	"github.com/tmercier/collecte/httpx"
	"github.com/tmercier/collecte/log"
	"github.com/tmercier/collecte/model"
)

func CreateCampaign(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaign := model.Campaign{}
		err := render.DecodeJSON(r.Body, &campaign)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		for _, f := range campaign.Fields {
			if !model.ValidFieldType(f.Type) {
				httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "request.field_type", "unknown field type %q", f.Type)
				return
			}
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
			requestOwner(r),
			campaign.Title,
			campaign.Description,
			time.Now(),
		).Scan(&campaignId)
		if err != nil {
			httpx.LogInternalError(w, "db.insert_campaign", err)
			return
		}

		err = insertFields(r.Context(), tx, campaignId, campaign.Fields)
		if err != nil {
			httpx.LogInternalError(w, "db.insert_campaign.fields", err)
			return
		}

		err = tx.Commit()
		if err != nil {
			httpx.LogInternalError(w, "db.insert_campaign.commit", err)
			return
		}

		w.WriteHeader(http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"id": campaignId,
		})
	}
}

func insertFields(ctx context.Context, tx *sql.Tx, campaignId int64, fields []model.FormField) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO form_field (campaign_id, type, name, label, required, options, position)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	labels := make([]string, len(fields))
	for i, f := range fields {
		labels[i] = f.Label
	}
	names := fieldNames(labels)

	for i, f := range fields {
		var optionsJson []byte
		if len(f.Options) > 0 {
			optionsJson, err = json.Marshal(f.Options)
			if err != nil {
				return err
			}
		}
		_, err = stmt.ExecContext(ctx, campaignId, f.Type, names[i], f.Label, f.Required, string(optionsJson), i)
		if err != nil {
			return err
		}
	}
	return nil
}

func ListCampaigns(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := app.QueryContext(r.Context(), `
			SELECT
				c.id, c.version, c.title, c.description, c.created_at,
				(SELECT count(*) FROM submission s WHERE s.campaign_id = c.id AND s.deleted_at IS NULL)
			FROM campaign c
			WHERE c.owner = ?
			ORDER BY c.created_at DESC`,
			requestOwner(r),
		)
		if err != nil {
			httpx.LogInternalError(w, "db.get_campaigns", err)
			return
		}
		defer rows.Close()

		type listedCampaign struct {
			model.Campaign
			Submissions int `json:"submissions"`
		}

		campaigns := []listedCampaign{}
		for rows.Next() {
			c := listedCampaign{}
			err = rows.Scan(&c.ID, &c.Version, &c.Title, &c.Description, &c.CreatedAt, &c.Submissions)
			if err != nil {
				httpx.LogInternalError(w, "db.get_campaigns.scan", err)
				return
			}

			campaigns = append(campaigns, c)
		}

		render.JSON(w, r, map[string]any{
			"campaigns": campaigns,
		})
	}
}

func GetCampaignById(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaignId, err := urlID(r)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		campaign, found, err := loadCampaign(r.Context(), app.DB, campaignId, requestOwner(r))
		if err != nil {
			httpx.LogInternalError(w, "db.get_campaign", err)
			return
		}
		if !found {
			httpx.LogNotFound(w, "get_campaign", campaignId)
			return
		}

		render.JSON(w, r, campaign)
	}
}

func loadCampaign(ctx context.Context, db *sql.DB, campaignId int64, owner string) (model.Campaign, bool, error) {
	campaign := model.Campaign{}

	rows, err := db.QueryContext(ctx, `
		SELECT
			c.id, c.version, c.title, c.description, c.created_at,
			f.id, f.type, f.name, f.label, f.required, f.options
		FROM campaign c
		LEFT OUTER JOIN form_field f ON (c.id = f.campaign_id)
		WHERE c.id = ?
			AND c.owner = ?
		ORDER BY f.position`,
		campaignId, owner,
	)
	if err != nil {
		return campaign, false, err
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		found = true

		f := model.FormField{}
		var fieldId sql.NullInt64
		var fieldType, name, label, opts sql.NullString
		var required sql.NullBool
		err = rows.Scan(
			&campaign.ID, &campaign.Version, &campaign.Title, &campaign.Description, &campaign.CreatedAt,
			&fieldId, &fieldType, &name, &label, &required, &opts,
		)
		if err != nil {
			return campaign, false, err
		}

		if !fieldId.Valid { // campaign without fields
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
				return campaign, false, err
			}
		}

		campaign.Fields = append(campaign.Fields, f)
	}
	return campaign, found, rows.Err()
}

func UpdateCampaign(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaignId, err := urlID(r)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		campaign := model.Campaign{}
		err = render.DecodeJSON(r.Body, &campaign)
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
			httpx.LogInternalError(w, "db.update_campaign.owner", err)
			return
		}
		if !owned {
			httpx.LogNotFound(w, "update_campaign", campaignId)
			return
		}

		// replace all fields
		_, err = tx.ExecContext(r.Context(), `
			DELETE FROM form_field
			WHERE campaign_id = ?`,
			campaignId,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.update_campaign.delete_fields", err)
			return
		}

		err = insertFields(r.Context(), tx, campaignId, campaign.Fields)
		if err != nil {
			httpx.LogInternalError(w, "db.update_campaign.fields", err)
			return
		}

		res, err := tx.ExecContext(r.Context(), `
			UPDATE campaign
			SET
				title = ?,
				description = ?,
				version = version+1
			WHERE	id = ?
				AND version = ?`,
			campaign.Title,
			campaign.Description,
			campaignId,
			campaign.Version,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.update_campaign", err)
			return
		}
		// optimistic lock
		n, err := res.RowsAffected()
		if err != nil {
			httpx.LogInternalError(w, "db.update_campaign.verify", err)
			return
		}
		if n < 1 {
			httpx.LogStatus(w, http.StatusConflict, log.DebugLevel, "db.update_campaign.verify.conflict")
			return
		}

		err = tx.Commit()
		if err != nil {
			httpx.LogInternalError(w, "db.update_campaign.commit", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func DeleteCampaign(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaignId, err := urlID(r)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
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
			httpx.LogInternalError(w, "db.delete_campaign.owner", err)
			return
		}
		if !owned {
			httpx.LogNotFound(w, "delete_campaign", campaignId)
			return
		}

		// everything hanging off the campaign goes with it
		for _, q := range []string{
			`DELETE FROM activity WHERE submission_id IN
				(SELECT id FROM submission WHERE campaign_id = ?)`,
			`DELETE FROM answer WHERE submission_id IN
				(SELECT id FROM submission WHERE campaign_id = ?)`,
			`DELETE FROM submission WHERE campaign_id = ?`,
			`DELETE FROM export_history WHERE campaign_id = ?`,
			`DELETE FROM form_field WHERE campaign_id = ?`,
			`DELETE FROM campaign WHERE id = ?`,
		} {
			_, err = tx.ExecContext(r.Context(), q, campaignId)
			if err != nil {
				httpx.LogInternalError(w, "db.delete_campaign", err)
				return
			}
		}

		err = tx.Commit()
		if err != nil {
			httpx.LogInternalError(w, "db.delete_campaign.commit", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
