package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/liftshift/liftshift/internal/graph"
	"github.com/liftshift/liftshift/internal/logger"
	"github.com/liftshift/liftshift/internal/plane"
	"github.com/liftshift/liftshift/internal/schema"
)

// Policy selects how Resolve treats orphaned records.
type Policy string

const (
	// PolicyWarn keeps offending records and reports the violations.
	PolicyWarn Policy = "warn"
	// PolicyRemove drops orphans and, transitively, every child that the
	// drop breaks.
	PolicyRemove Policy = "remove"
	// PolicyCreate synthesizes placeholder parents for missing targets.
	PolicyCreate Policy = "create"
)

// ValidPolicy reports whether p is a known orphan policy.
func ValidPolicy(p Policy) bool {
	switch p {
	case PolicyWarn, PolicyRemove, PolicyCreate:
		return true
	}
	return false
}

// ErrResolutionInvariantViolated means validation found broken references
// that a remove or create resolution should have repaired and did not keep
// on purpose. That is a resolver bug, never a data condition, and it is
// fatal.
var ErrResolutionInvariantViolated = errors.New("resolution invariant violated")

// Resolver produces a dataset in which every non-nullable foreign key
// resolves to an existing record.
type Resolver struct {
	source   plane.Plane
	g        *graph.Graph
	pageSize int
	log      *logger.Logger
}

// New creates a resolver reading from the given source plane.
func New(source plane.Plane, pageSize int, log *logger.Logger) (*Resolver, error) {
	if source == nil {
		return nil, fmt.Errorf("source plane is nil")
	}
	if log == nil {
		log = logger.NewDefault()
	}
	if pageSize <= 0 {
		pageSize = 500
	}
	return &Resolver{
		source:   source,
		g:        graph.FromSchema(),
		pageSize: pageSize,
		log:      log,
	}, nil
}

// LoadAll drains every core table from the source plane into a fresh
// dataset. Missing tables yield empty mappings; any other plane error is
// fatal and no partial dataset is returned.
func (r *Resolver) LoadAll(ctx context.Context) (*Dataset, error) {
	order, err := r.g.LoadOrder()
	if err != nil {
		return nil, err
	}
	ds := NewDataset(order)

	for _, table := range order {
		log := r.log.WithTable(table)

		exists, err := r.source.Exists(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("checking table %s: %w", table, err)
		}
		if !exists {
			log.Debugw("Table missing on source, treating as empty")
			continue
		}

		var cursor plane.Cursor
		rows := 0
		for {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			page, err := r.source.BulkRead(ctx, table, cursor, r.pageSize)
			if err != nil {
				if plane.IsKind(err, plane.KindTableNotFound) {
					break
				}
				return nil, fmt.Errorf("loading table %s: %w", table, err)
			}
			for _, rec := range page.Rows {
				if err := ds.Put(table, rec); err != nil {
					return nil, fmt.Errorf("indexing row in %s: %w", table, err)
				}
				rows++
			}
			if page.Done() {
				break
			}
			cursor = page.Next
		}
		log.Debugw("Table loaded", "rows", rows)
	}

	r.log.Infow("Source dataset loaded", "tables", len(order), "rows", ds.TotalRows())
	return ds, nil
}

// Analyze classifies every declared reference of every record. Tables are
// visited in dependency order so child analysis sees any parent placeholders
// already present in the dataset.
func (r *Resolver) Analyze(ds *Dataset) *RelationshipReport {
	report := &RelationshipReport{ByTable: make(map[string]int)}

	for _, table := range ds.Tables() {
		decl, ok := schema.Lookup(table)
		if !ok {
			continue
		}
		for _, rec := range ds.Records(table) {
			report.RecordsChecked++
			id, err := rec.PrimaryKey()
			if err != nil {
				continue
			}
			for _, ref := range decl.References {
				report.RefsChecked++
				status, targetID := classifyRef(ds, rec, ref)
				switch status {
				case RefResolved:
					report.Resolved++
				case RefNullAndAllowed:
					report.NullAllowed++
				default:
					report.Violations = append(report.Violations, Violation{
						Table:    table,
						RecordID: id,
						Field:    ref.Field,
						Target:   ref.Target,
						Status:   status,
						TargetID: targetID,
						Nullable: ref.Nullable,
					})
					report.ByTable[table]++
				}
			}
		}
		report.Duplicates = append(report.Duplicates, findDuplicates(ds, decl)...)
	}
	return report
}

// classifyRef resolves one reference of one record against the dataset.
func classifyRef(ds *Dataset, rec schema.Record, ref schema.Reference) (RefStatus, schema.ID) {
	targetID, present, err := rec.Ref(ref.Field)
	if err != nil || !present {
		if ref.Nullable {
			return RefNullAndAllowed, schema.ZeroID
		}
		return RefNullAndRequired, schema.ZeroID
	}
	if ds.Has(ref.Target, targetID) {
		return RefResolved, targetID
	}
	return RefDangling, targetID
}

// findDuplicates scans a table's composite unique keys. A row participates
// only when every nullable reference field named in the key is non-null.
func findDuplicates(ds *Dataset, decl schema.Table) []DuplicateWarning {
	var warnings []DuplicateWarning
	for _, key := range decl.Unique {
		seen := make(map[string][]schema.ID)
		for _, rec := range ds.Records(decl.Name) {
			value, ok := compositeKey(rec, key)
			if !ok {
				continue
			}
			id, err := rec.PrimaryKey()
			if err != nil {
				continue
			}
			seen[value] = append(seen[value], id)
		}
		for value, ids := range seen {
			if len(ids) > 1 {
				warnings = append(warnings, DuplicateWarning{
					Table:   decl.Name,
					Key:     key,
					Value:   value,
					Records: ids,
				})
			}
		}
	}
	return warnings
}

// compositeKey renders the key fields of a record. Returns false when any
// field is null, which excludes the row from the constraint.
func compositeKey(rec schema.Record, key []string) (string, bool) {
	parts := make([]string, len(key))
	for i, field := range key {
		v, ok := rec[field]
		if !ok || v == nil {
			return "", false
		}
		if id, err := schema.CoerceID(v); err == nil {
			parts[i] = id.String()
			continue
		}
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, "|"), true
}

// Resolve applies the orphan policy to every offending record and returns
// the resolved dataset together with an outcome summary. The input dataset
// is not mutated.
func (r *Resolver) Resolve(ds *Dataset, policy Policy) (*Dataset, *Outcome, error) {
	if !ValidPolicy(policy) {
		return nil, nil, fmt.Errorf("unknown orphan policy %q", policy)
	}

	out := ds.Clone()
	outcome := &Outcome{
		Policy:              policy,
		DroppedByTable:      make(map[string]int),
		PlaceholdersCreated: make(map[string]int),
	}

	// Nullable broken references are set to null under every policy.
	r.nullBrokenNullableRefs(out, outcome)

	switch policy {
	case PolicyWarn:
		r.resolveWarn(out, outcome)
	case PolicyRemove:
		r.resolveRemove(out, outcome)
	case PolicyCreate:
		r.resolveCreate(out, outcome)
	}

	r.log.Infow("Orphan resolution complete",
		"policy", string(policy),
		"dropped", outcome.RecordsDropped,
		"placeholders", len(outcome.PlaceholdersCreated),
		"refs_nulled", outcome.RefsNulled,
		"kept_with_violation", outcome.KeptWithViolation,
	)
	return out, outcome, nil
}

// nullBrokenNullableRefs clears every nullable reference whose target is
// missing from the dataset.
func (r *Resolver) nullBrokenNullableRefs(ds *Dataset, outcome *Outcome) {
	for _, table := range ds.Tables() {
		decl, ok := schema.Lookup(table)
		if !ok {
			continue
		}
		for _, rec := range ds.Records(table) {
			for _, ref := range decl.References {
				if !ref.Nullable {
					continue
				}
				targetID, present, err := rec.Ref(ref.Field)
				if err != nil {
					rec.ClearRef(ref.Field)
					outcome.RefsNulled++
					continue
				}
				if present && !ds.Has(ref.Target, targetID) {
					rec.ClearRef(ref.Field)
					outcome.RefsNulled++
				}
			}
		}
	}
}

// resolveWarn keeps offending records; violations stay in the report.
func (r *Resolver) resolveWarn(ds *Dataset, outcome *Outcome) {
	for _, table := range ds.Tables() {
		decl, ok := schema.Lookup(table)
		if !ok {
			continue
		}
		for _, rec := range ds.Records(table) {
			if ref := brokenRequiredRef(ds, rec, decl); ref != nil {
				outcome.keep(table, mustID(rec), ref.Field)
			}
		}
	}
}

// resolveRemove drops orphans to a fixpoint. Each pass can only orphan
// children of records dropped in the previous pass, so the loop is bounded
// by the number of tables.
func (r *Resolver) resolveRemove(ds *Dataset, outcome *Outcome) {
	for pass := 0; pass < len(ds.Tables()); pass++ {
		dropped := 0
		for _, table := range ds.Tables() {
			decl, ok := schema.Lookup(table)
			if !ok {
				continue
			}
			for _, rec := range ds.Records(table) {
				if brokenRequiredRef(ds, rec, decl) == nil {
					continue
				}
				id, err := rec.PrimaryKey()
				if err != nil {
					continue
				}
				ds.Remove(table, id)
				outcome.RecordsDropped++
				outcome.DroppedByTable[table]++
				dropped++
			}
		}
		if dropped == 0 {
			break
		}
	}
	// Dropping a parent can leave nullable references dangling; null them so
	// the resolved dataset validates clean.
	r.nullBrokenNullableRefs(ds, outcome)
}

// resolveCreate synthesizes placeholder parents for missing targets. Tables
// outside the placeholder set fall back to warn behavior for that record.
// A placeholder never overwrites a real record with the same id.
func (r *Resolver) resolveCreate(ds *Dataset, outcome *Outcome) {
	for _, table := range ds.Tables() {
		decl, ok := schema.Lookup(table)
		if !ok {
			continue
		}
		for _, rec := range ds.Records(table) {
			for _, ref := range decl.References {
				if ref.Nullable {
					continue
				}
				targetID, present, err := rec.Ref(ref.Field)
				if err != nil || !present {
					// A null required reference has no id to synthesize a
					// parent for; keep the record as warn would.
					outcome.keep(table, mustID(rec), ref.Field)
					continue
				}
				if ds.Has(ref.Target, targetID) {
					continue
				}
				if err := r.synthesize(ds, ref.Target, targetID, outcome); err != nil {
					outcome.Warnings = append(outcome.Warnings,
						fmt.Sprintf("%s[%s].%s: %v; record kept with violation",
							table, mustID(rec), ref.Field, err))
					outcome.keep(table, mustID(rec), ref.Field)
				}
			}
		}
	}
}

// synthesize inserts a placeholder row, recursively backing required
// references of the placeholder itself with the sentinel slot.
func (r *Resolver) synthesize(ds *Dataset, table string, id schema.ID, outcome *Outcome) error {
	if ds.Has(table, id) {
		return nil
	}
	rec, err := schema.Placeholder(table, id)
	if err != nil {
		return err
	}
	if err := ds.Put(table, rec); err != nil {
		return err
	}
	outcome.PlaceholdersCreated[table]++
	r.log.Warnw("Synthesized placeholder record", "table", table, "id", id.String())

	// A placeholder program points at the sentinel user slot; make sure the
	// slot exists so the placeholder itself resolves.
	decl, _ := schema.Lookup(table)
	for _, ref := range decl.References {
		if ref.Nullable {
			continue
		}
		targetID, present, err := rec.Ref(ref.Field)
		if err != nil || !present {
			continue
		}
		if !ds.Has(ref.Target, targetID) {
			if err := r.synthesize(ds, ref.Target, targetID, outcome); err != nil {
				return err
			}
		}
	}
	return nil
}

// brokenRequiredRef returns the first required reference of rec that does
// not resolve, or nil when all resolve.
func brokenRequiredRef(ds *Dataset, rec schema.Record, decl schema.Table) *schema.Reference {
	for i, ref := range decl.References {
		if ref.Nullable {
			continue
		}
		targetID, present, err := rec.Ref(ref.Field)
		if err != nil || !present {
			return &decl.References[i]
		}
		if !ds.Has(ref.Target, targetID) {
			return &decl.References[i]
		}
	}
	return nil
}

// Validate re-checks every foreign key in the resolved dataset.
func (r *Resolver) Validate(ds *Dataset) *ValidationReport {
	analysis := r.Analyze(ds)
	return &ValidationReport{
		RefsChecked: analysis.RefsChecked,
		Violations:  analysis.Violations,
	}
}

// Result bundles the full end-to-end resolution output.
type Result struct {
	Dataset    *Dataset
	Analysis   *RelationshipReport
	Outcome    *Outcome
	Validation *ValidationReport
}

// Run executes load, analyze, resolve, and validate. Under remove the
// validation pass must be clean. Under create the only violations allowed
// through are the warn fallbacks the policy kept on purpose; anything else
// is ErrResolutionInvariantViolated.
func (r *Resolver) Run(ctx context.Context, policy Policy) (*Result, error) {
	ds, err := r.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	analysis := r.Analyze(ds)
	if analysis.HasViolations() {
		r.log.Warnw("Relationship analysis found violations",
			"violations", len(analysis.Violations),
			"duplicates", len(analysis.Duplicates),
		)
	}

	resolved, outcome, err := r.Resolve(ds, policy)
	if err != nil {
		return nil, err
	}

	validation := r.Validate(resolved)
	if residual := unaccounted(validation, outcome, policy); residual > 0 {
		return nil, fmt.Errorf("%w: %d violations remain after %s resolution",
			ErrResolutionInvariantViolated, residual, policy)
	}

	return &Result{
		Dataset:    resolved,
		Analysis:   analysis,
		Outcome:    outcome,
		Validation: validation,
	}, nil
}

// unaccounted counts post-resolution violations the policy did not
// deliberately keep. Warn keeps everything, so nothing counts against it.
func unaccounted(validation *ValidationReport, outcome *Outcome, policy Policy) int {
	if policy == PolicyWarn {
		return 0
	}
	residual := 0
	for _, v := range validation.Violations {
		if !outcome.Accepted(v) {
			residual++
		}
	}
	return residual
}

func mustID(rec schema.Record) schema.ID {
	id, _ := rec.PrimaryKey()
	return id
}
