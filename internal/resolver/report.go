package resolver

import (
	"fmt"
	"strings"

	"github.com/liftshift/liftshift/internal/schema"
)

// RefStatus classifies one declared reference on one record.
type RefStatus string

const (
	RefResolved        RefStatus = "resolved"
	RefNullAndAllowed  RefStatus = "null_and_allowed"
	RefNullAndRequired RefStatus = "null_and_required"
	RefDangling        RefStatus = "dangling"
)

// Violation is a reference that does not resolve: either dangling or null
// where the schema requires a value.
type Violation struct {
	Table    string    `json:"table"`
	RecordID schema.ID `json:"record_id"`
	Field    string    `json:"field"`
	Target   string    `json:"target"`
	Status   RefStatus `json:"status"`
	TargetID schema.ID `json:"target_id,omitempty"`
	Nullable bool      `json:"nullable"`
}

func (v Violation) String() string {
	if v.Status == RefDangling {
		return fmt.Sprintf("%s[%s].%s -> %s[%s] dangling", v.Table, v.RecordID, v.Field, v.Target, v.TargetID)
	}
	return fmt.Sprintf("%s[%s].%s null but required (-> %s)", v.Table, v.RecordID, v.Field, v.Target)
}

// DuplicateWarning flags records sharing a composite unique key. Duplicates
// are surfaced, never silently dropped.
type DuplicateWarning struct {
	Table   string      `json:"table"`
	Key     []string    `json:"key"`
	Value   string      `json:"value"`
	Records []schema.ID `json:"records"`
}

func (d DuplicateWarning) String() string {
	return fmt.Sprintf("%s: %d records share unique key (%s)=%s",
		d.Table, len(d.Records), strings.Join(d.Key, ", "), d.Value)
}

// RelationshipReport is the output of Analyze: every reference classified,
// violations and composite-key duplicates collected.
type RelationshipReport struct {
	RecordsChecked int                `json:"records_checked"`
	RefsChecked    int                `json:"refs_checked"`
	Resolved       int                `json:"resolved"`
	NullAllowed    int                `json:"null_allowed"`
	Violations     []Violation        `json:"violations,omitempty"`
	Duplicates     []DuplicateWarning `json:"duplicates,omitempty"`
	ByTable        map[string]int     `json:"violations_by_table,omitempty"`
}

// HasViolations reports whether any reference failed to resolve.
func (r *RelationshipReport) HasViolations() bool {
	return len(r.Violations) > 0
}

// ValidationReport is the output of the post-resolution Validate pass.
type ValidationReport struct {
	RefsChecked int         `json:"refs_checked"`
	Violations  []Violation `json:"violations,omitempty"`
}

// Clean reports whether validation found zero violations.
func (r *ValidationReport) Clean() bool {
	return len(r.Violations) == 0
}

// Outcome summarizes what Resolve did to the dataset.
type Outcome struct {
	Policy              Policy         `json:"policy"`
	RecordsDropped      int            `json:"records_dropped"`
	DroppedByTable      map[string]int `json:"dropped_by_table,omitempty"`
	PlaceholdersCreated map[string]int `json:"placeholders_created,omitempty"`
	RefsNulled          int            `json:"refs_nulled"`
	KeptWithViolation   int            `json:"kept_with_violation"`
	Warnings            []string       `json:"warnings,omitempty"`

	kept map[violationKey]bool
}

type violationKey struct {
	table string
	id    schema.ID
	field string
}

// keep marks one reference of one record as deliberately left broken.
func (o *Outcome) keep(table string, id schema.ID, field string) {
	if o.kept == nil {
		o.kept = make(map[violationKey]bool)
	}
	o.kept[violationKey{table, id, field}] = true
	o.KeptWithViolation++
}

// Accepted reports whether a post-resolution violation was deliberately kept
// by the policy, as opposed to left behind by a resolver bug.
func (o *Outcome) Accepted(v Violation) bool {
	return o.kept[violationKey{v.Table, v.RecordID, v.Field}]
}
