package filter

import (
	"strings"
	"time"

	"github.com/tmercier/collecte/model"
)

// Criteria is the flat, request-scoped description of a submission
// search. Every member is optional; all resulting conditions are
// conjunctive, so multiple search terms narrow the result.
type Criteria struct {
	Search          []string      `json:"search,omitempty"`
	SearchFieldID   int64         `json:"searchFieldId,omitempty"`
	Fields          []FieldFilter `json:"fields,omitempty"`
	From            *time.Time    `json:"from,omitempty"`
	To              *time.Time    `json:"to,omitempty"`
	Favorite        *bool         `json:"favorite,omitempty"`
	IDs             []int64       `json:"ids,omitempty"`
	SinceLastExport bool          `json:"sinceLastExport,omitempty"`
}

// FieldFilter constrains one form field to a value set. For checkbox
// fields every value must match by substring (answers are composite
// blobs); for any other type the answer must equal one of the values.
type FieldFilter struct {
	FieldID int64    `json:"fieldId"`
	Values  []string `json:"values"`
}

// Condition is one parametrized predicate fragment over the
// submission alias `s`. The builder only describes the predicate, it
// never runs it.
type Condition struct {
	SQL  string
	Args []any
}

// Builder accumulates conditions to be AND-joined at evaluation time.
type Builder struct {
	conds []Condition
}

func (b *Builder) Add(sql string, args ...any) {
	b.conds = append(b.conds, Condition{SQL: sql, Args: args})
}

func (b *Builder) Conditions() []Condition {
	return b.conds
}

// Where renders the accumulated predicate as a WHERE clause plus its
// flattened argument list. With no conditions it returns an empty
// clause.
func (b *Builder) Where() (string, []any) {
	if len(b.conds) == 0 {
		return "", nil
	}

	parts := make([]string, len(b.conds))
	var args []any
	for i, c := range b.conds {
		parts[i] = c.SQL
		args = append(args, c.Args...)
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Build translates criteria into the predicate for one campaign's
// submissions. fieldTypes maps form field ids to their type, resolved
// by the caller; watermark is the campaign's last export watermark,
// only consulted when SinceLastExport is set.
func Build(campaignID int64, c Criteria, fieldTypes map[int64]string, watermark int64) *Builder {
	b := &Builder{}
	b.Add("s.campaign_id = ?", campaignID)
	b.Add("s.deleted_at IS NULL")

	for _, term := range c.Search {
		pattern := "%" + strings.ToLower(term) + "%"
		if c.SearchFieldID != 0 {
			b.Add(`EXISTS (
				SELECT 1 FROM answer a
				WHERE a.submission_id = s.id
					AND a.field_id = ?
					AND lower(a.value) LIKE ?)`,
				c.SearchFieldID, pattern)
		} else {
			b.Add(`EXISTS (
				SELECT 1 FROM answer a
				WHERE a.submission_id = s.id
					AND lower(a.value) LIKE ?)`,
				pattern)
		}
	}

	for _, f := range c.Fields {
		if len(f.Values) == 0 {
			continue
		}
		if fieldTypes[f.FieldID] == model.FieldCheckbox {
			// composite blob, every selection matches independently
			for _, v := range f.Values {
				b.Add(`EXISTS (
					SELECT 1 FROM answer a
					WHERE a.submission_id = s.id
						AND a.field_id = ?
						AND lower(a.value) LIKE ?)`,
					f.FieldID, "%"+strings.ToLower(v)+"%")
			}
		} else {
			args := []any{f.FieldID}
			for _, v := range f.Values {
				args = append(args, v)
			}
			b.Add(`EXISTS (
				SELECT 1 FROM answer a
				WHERE a.submission_id = s.id
					AND a.field_id = ?
					AND a.value IN (`+placeholders(len(f.Values))+`))`,
				args...)
		}
	}

	if c.From != nil {
		b.Add("s.created_at >= ?", *c.From)
	}
	if c.To != nil {
		b.Add("s.created_at <= ?", *c.To)
	}

	if c.Favorite != nil {
		b.Add("s.favorite = ?", *c.Favorite)
	}

	if len(c.IDs) > 0 {
		args := make([]any, len(c.IDs))
		for i, id := range c.IDs {
			args[i] = id
		}
		b.Add("s.id IN ("+placeholders(len(c.IDs))+")", args...)
	}

	if c.SinceLastExport {
		b.Add("s.id > ?", watermark)
	}

	return b
}
