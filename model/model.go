package model

import "time"

// Field types a form field can take. The closed set is shared by the
// campaign editor, the submission intake and the sheet analyzer.
const (
	FieldText     = "text"
	FieldTextarea = "textarea"
	FieldEmail    = "email"
	FieldURL      = "url"
	FieldTel      = "tel"
	FieldNumber   = "number"
	FieldRadio    = "radio"
	FieldCheckbox = "checkbox"
	FieldSelect   = "select"
	FieldDate     = "date"
	FieldTime     = "time"
	FieldDatetime = "datetime"
	FieldFile     = "file"
	FieldImage    = "image"
	FieldMap      = "map"
	FieldRange    = "range"
)

var fieldTypes = map[string]bool{
	FieldText: true, FieldTextarea: true, FieldEmail: true, FieldURL: true,
	FieldTel: true, FieldNumber: true, FieldRadio: true, FieldCheckbox: true,
	FieldSelect: true, FieldDate: true, FieldTime: true, FieldDatetime: true,
	FieldFile: true, FieldImage: true, FieldMap: true, FieldRange: true,
}

func ValidFieldType(t string) bool {
	return fieldTypes[t]
}

type Campaign struct {
	ID          int64       `json:"id,omitempty"`
	Version     int         `json:"version,omitempty"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	CreatedAt   time.Time   `json:"createdAt,omitempty"`
	Fields      []FormField `json:"fields"`
}

type FormField struct {
	ID       int64    `json:"id,omitempty"`
	Type     string   `json:"type"`
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
	Position int      `json:"position"`
}

type Submission struct {
	ID         int64     `json:"id"`
	CampaignID int64     `json:"campaignId,omitempty"`
	Time       time.Time `json:"time"`
	Favorite   bool      `json:"favorite"`
	Answers    []Answer  `json:"answers,omitempty"`
}

// Answer values are stored as text whatever the field type: numbers,
// dates and multi-selections all serialize to one string. A checkbox
// answer is a composite blob, individual selections are recovered by
// substring containment only.
type Answer struct {
	FieldID int64  `json:"fieldId"`
	Name    string `json:"name,omitempty"`
	Label   string `json:"label,omitempty"`
	Type    string `json:"type,omitempty"`
	Value   string `json:"value"`
}

// Activity kinds.
const (
	ActivityNote        = "note"
	ActivityEmail       = "email"
	ActivityAppointment = "appointment"
	ActivityTask        = "task"
)

func ValidActivityKind(k string) bool {
	switch k {
	case ActivityNote, ActivityEmail, ActivityAppointment, ActivityTask:
		return true
	}
	return false
}

type Activity struct {
	ID           int64      `json:"id,omitempty"`
	SubmissionID int64      `json:"submissionId,omitempty"`
	Kind         string     `json:"kind"`
	Title        string     `json:"title"`
	Body         string     `json:"body"`
	DueAt        *time.Time `json:"dueAt,omitempty"`
	Done         bool       `json:"done"`
	CreatedAt    time.Time  `json:"createdAt,omitempty"`
}

// ExportHistory is append only. The latest row for a campaign carries
// the watermark for "since last export" filtering: comparison is on
// the submission id as assigned by the database, which is monotone in
// insertion order.
type ExportHistory struct {
	ID               int64     `json:"id"`
	CampaignID       int64     `json:"campaignId"`
	File             string    `json:"file"`
	LastSubmissionID int64     `json:"lastSubmissionId"`
	CreatedAt        time.Time `json:"createdAt"`
}
