package filter

import (
	"database/sql"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func TestWhere_Empty(t *testing.T) {
	b := &Builder{}
	clause, args := b.Where()
	if clause != "" || args != nil {
		t.Errorf("Where() = %q, %v, want empty", clause, args)
	}
}

func TestBuild_AlwaysScoped(t *testing.T) {
	b := Build(7, Criteria{}, nil, 0)
	conds := b.Conditions()
	if len(conds) != 2 {
		t.Fatalf("len(conds) = %d, want campaign scope + soft-delete guard", len(conds))
	}
	if conds[0].SQL != "s.campaign_id = ?" || conds[0].Args[0] != int64(7) {
		t.Errorf("campaign scope condition = %+v", conds[0])
	}
	if conds[1].SQL != "s.deleted_at IS NULL" {
		t.Errorf("soft-delete condition = %+v", conds[1])
	}
}

func TestBuild_SearchTermsNarrow(t *testing.T) {
	b := Build(1, Criteria{Search: []string{"alpha", "beta"}}, nil, 0)
	// 2 base + one EXISTS per term, AND-joined
	if got := len(b.Conditions()); got != 4 {
		t.Fatalf("len(conds) = %d, want 4", got)
	}
	clause, args := b.Where()
	if args[len(args)-2] != "%alpha%" || args[len(args)-1] != "%beta%" {
		t.Errorf("args = %v, want lowercased wrapped terms", args)
	}
	if !strings.Contains(clause, " AND ") {
		t.Errorf("clause %q not AND-joined", clause)
	}
}

func TestBuild_CheckboxVsExact(t *testing.T) {
	types := map[int64]string{10: "checkbox", 11: "select"}

	b := Build(1, Criteria{Fields: []FieldFilter{
		{FieldID: 10, Values: []string{"a", "b"}},
		{FieldID: 11, Values: []string{"x", "y"}},
	}}, types, 0)

	conds := b.Conditions()[2:]
	// checkbox expands per value, select collapses into one IN
	if len(conds) != 3 {
		t.Fatalf("len = %d, want 2 checkbox + 1 IN", len(conds))
	}
	if conds[0].Args[1] != "%a%" || conds[1].Args[1] != "%b%" {
		t.Errorf("checkbox args = %v, %v", conds[0].Args, conds[1].Args)
	}
	if len(conds[2].Args) != 3 { // field id + 2 values
		t.Errorf("IN args = %v", conds[2].Args)
	}
}

func TestBuild_Cursor(t *testing.T) {
	b := Build(1, Criteria{SinceLastExport: true}, nil, 42)
	conds := b.Conditions()
	last := conds[len(conds)-1]
	if last.SQL != "s.id > ?" || last.Args[0] != int64(42) {
		t.Errorf("cursor condition = %+v", last)
	}
}

func seedDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	stmts := []string{
		`CREATE TABLE submission (
			id INTEGER PRIMARY KEY, campaign_id INTEGER, created_at TIMESTAMP,
			favorite BOOLEAN DEFAULT FALSE, deleted_at TIMESTAMP)`,
		`CREATE TABLE answer (
			id INTEGER PRIMARY KEY, submission_id INTEGER, field_id INTEGER, value TEXT)`,

		`INSERT INTO submission (id, campaign_id, created_at) VALUES
			(1, 1, '2024-01-10'), (2, 1, '2024-02-10'), (3, 1, '2024-03-10')`,
		`INSERT INTO submission (id, campaign_id, created_at, deleted_at) VALUES
			(4, 1, '2024-04-10', '2024-05-01')`,
		`UPDATE submission SET favorite = TRUE WHERE id = 2`,

		// 1: alpha only; 2: alpha + beta across two fields; 3: beta only
		`INSERT INTO answer (submission_id, field_id, value) VALUES
			(1, 100, 'Alpha team'),
			(2, 100, 'alpha'), (2, 101, 'BETA'),
			(3, 101, 'beta max'),
			(4, 100, 'alpha'), (4, 101, 'beta')`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatal(err)
		}
	}
	return db
}

func matchIDs(t *testing.T, db *sql.DB, b *Builder) []int64 {
	t.Helper()
	clause, args := b.Where()
	rows, err := db.Query("SELECT s.id FROM submission s"+clause+" ORDER BY s.id", args...)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestBuild_TwoTermsRequireBothMatches(t *testing.T) {
	db := seedDB(t)

	ids := matchIDs(t, db, Build(1, Criteria{Search: []string{"alpha", "beta"}}, nil, 0))
	// submission 2 has both terms (in different answers), 4 is
	// soft-deleted and must stay hidden
	if len(ids) != 1 || ids[0] != 2 {
		t.Errorf("ids = %v, want [2]", ids)
	}
}

func TestBuild_ScopedSearch(t *testing.T) {
	db := seedDB(t)

	ids := matchIDs(t, db, Build(1, Criteria{Search: []string{"beta"}, SearchFieldID: 101}, nil, 0))
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 3 {
		t.Errorf("ids = %v, want [2 3]", ids)
	}
}

func TestBuild_CheckboxSubstringMatch(t *testing.T) {
	db := seedDB(t)

	types := map[int64]string{100: "checkbox"}
	ids := matchIDs(t, db, Build(1, Criteria{
		Fields: []FieldFilter{{FieldID: 100, Values: []string{"alpha"}}},
	}, types, 0))
	// substring match catches both 'Alpha team' and 'alpha'
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("ids = %v, want [1 2]", ids)
	}
}

func TestBuild_ExactMatchOnNonCheckbox(t *testing.T) {
	db := seedDB(t)

	types := map[int64]string{100: "text"}
	ids := matchIDs(t, db, Build(1, Criteria{
		Fields: []FieldFilter{{FieldID: 100, Values: []string{"alpha"}}},
	}, types, 0))
	// exact IN-match excludes 'Alpha team'
	if len(ids) != 1 || ids[0] != 2 {
		t.Errorf("ids = %v, want [2]", ids)
	}
}

func TestBuild_FavoriteAndDateRange(t *testing.T) {
	db := seedDB(t)

	fav := true
	ids := matchIDs(t, db, Build(1, Criteria{Favorite: &fav}, nil, 0))
	if len(ids) != 1 || ids[0] != 2 {
		t.Errorf("favorite ids = %v, want [2]", ids)
	}

	from := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)
	ids = matchIDs(t, db, Build(1, Criteria{From: &from, To: &to}, nil, 0))
	if len(ids) != 1 || ids[0] != 2 {
		t.Errorf("date range ids = %v, want [2]", ids)
	}
}

func TestBuild_Watermark(t *testing.T) {
	db := seedDB(t)

	ids := matchIDs(t, db, Build(1, Criteria{SinceLastExport: true}, nil, 2))
	// strictly greater than the watermark, soft-deleted still hidden
	if len(ids) != 1 || ids[0] != 3 {
		t.Errorf("ids = %v, want [3]", ids)
	}
}

func TestBuild_IDAllowList(t *testing.T) {
	db := seedDB(t)

	ids := matchIDs(t, db, Build(1, Criteria{IDs: []int64{1, 3, 4}}, nil, 0))
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Errorf("ids = %v, want [1 3]", ids)
	}
}
