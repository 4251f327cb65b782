package routes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/oauth"
)

var reNoIdent = regexp.MustCompile(`\W+`)

// fieldNames derives stable internal names from labels, deduplicating
// repeated labels with a numeric suffix.
func fieldNames(labels []string) []string {
	names := make([]string, len(labels))
	for i, label := range labels {
		name := strings.ToLower(label)
		name = reNoIdent.ReplaceAllLiteralString(name, " ")
		name = strings.Join(strings.Fields(name), "_")

		n := 0
		for _, prev := range names[:i] {
			if prev == name || strings.HasPrefix(prev, name+"__") {
				n++
			}
		}
		if n > 0 {
			name = fmt.Sprintf("%s__%d", name, n)
		}
		names[i] = name
	}
	return names
}

// requestOwner returns the verified actor behind the request, set by
// the oauth middleware from the token credential.
func requestOwner(r *http.Request) string {
	cred, _ := r.Context().Value(oauth.CredentialContext).(string)
	return cred
}

func urlID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// campaignOwned reports whether the campaign exists and belongs to
// the actor. Absent and not-owned are indistinguishable on purpose.
func campaignOwned(ctx context.Context, q querier, campaignID int64, owner string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		"SELECT 1 FROM campaign WHERE id = ? AND owner = ?",
		campaignID, owner,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// submissionOwned resolves a live (not soft-deleted) submission to its
// campaign, scoped to the actor.
func submissionOwned(ctx context.Context, q querier, submissionID int64, owner string) (campaignID int64, ok bool, err error) {
	err = q.QueryRowContext(ctx, `
		SELECT s.campaign_id
		FROM submission s
		INNER JOIN campaign c ON (c.id = s.campaign_id)
		WHERE s.id = ?
			AND c.owner = ?
			AND s.deleted_at IS NULL`,
		submissionID, owner,
	).Scan(&campaignID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return campaignID, true, nil
}

// fieldTypes maps a campaign's form field ids to their types, for the
// checkbox/exact decision in the filter builder.
func fieldTypes(ctx context.Context, db *sql.DB, campaignID int64) (map[int64]string, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, type FROM form_field WHERE campaign_id = ?",
		campaignID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types := map[int64]string{}
	for rows.Next() {
		var id int64
		var t string
		if err := rows.Scan(&id, &t); err != nil {
			return nil, err
		}
		types[id] = t
	}
	return types, rows.Err()
}

// exportWatermark returns the latest recorded watermark for a
// campaign, zero when nothing was exported yet.
func exportWatermark(ctx context.Context, q querier, campaignID int64) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		SELECT last_submission_id
		FROM export_history
		WHERE campaign_id = ?
		ORDER BY id DESC
		LIMIT 1`,
		campaignID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return id, err
}
