package plane

import (
	"context"
	"fmt"

	"github.com/liftshift/liftshift/internal/schema"
	"github.com/liftshift/liftshift/internal/sqlutil"
)

// Recoverer is the destructive surface used only by emergency recovery:
// constraint toggling and unconditional truncation, sentinel slot included.
// Callers follow the sequence DisableConstraints, Truncate per table,
// EnableConstraints. Planes that cannot support it simply do not
// implement it.
type Recoverer interface {
	DisableConstraints(ctx context.Context) error
	EnableConstraints(ctx context.Context) error
	Truncate(ctx context.Context, table string) error
}

// DisableConstraints pins a dedicated connection and turns off foreign key
// enforcement on it. FOREIGN_KEY_CHECKS is session scoped, so every
// Recoverer call until EnableConstraints runs on that same connection
// rather than an arbitrary pooled one.
func (p *SQLPlane) DisableConstraints(ctx context.Context) error {
	if p.recovery == nil {
		conn, err := p.db.Conn(ctx)
		if err != nil {
			return classify("", err)
		}
		p.recovery = conn
	}
	return p.setForeignKeyChecks(ctx, 0)
}

// EnableConstraints restores foreign key enforcement and releases the
// pinned connection.
func (p *SQLPlane) EnableConstraints(ctx context.Context) error {
	err := p.setForeignKeyChecks(ctx, 1)
	if p.recovery != nil {
		_ = p.recovery.Close()
		p.recovery = nil
	}
	return err
}

func (p *SQLPlane) setForeignKeyChecks(ctx context.Context, on int) error {
	query := fmt.Sprintf("SET FOREIGN_KEY_CHECKS = %d", on)
	if err := p.recoveryExec(ctx, query); err != nil {
		return classify("", err)
	}
	return nil
}

// Truncate drops every row of the table, the sentinel slot included.
func (p *SQLPlane) Truncate(ctx context.Context, table string) error {
	tbl, err := sqlutil.QuoteIdentifierSafe(table)
	if err != nil {
		return NewError(KindTableNotFound, table, err)
	}
	if err := p.recoveryExec(ctx, "TRUNCATE TABLE "+tbl); err != nil {
		return classify(table, err)
	}
	return nil
}

// recoveryExec executes on the pinned recovery connection when one is held,
// the pool otherwise.
func (p *SQLPlane) recoveryExec(ctx context.Context, query string) error {
	opCtx, cancel := p.opCtx(ctx)
	defer cancel()

	var err error
	if p.recovery != nil {
		_, err = p.recovery.ExecContext(opCtx, query)
	} else {
		_, err = p.db.ExecContext(opCtx, query)
	}
	return err
}

// DisableConstraints is a no-op; the in-memory plane has no enforcement.
func (m *MemoryPlane) DisableConstraints(ctx context.Context) error { return ctx.Err() }

// EnableConstraints is a no-op counterpart to DisableConstraints.
func (m *MemoryPlane) EnableConstraints(ctx context.Context) error { return ctx.Err() }

// Truncate empties the table entirely, unlike DeleteAll it does not keep the
// sentinel slot.
func (m *MemoryPlane) Truncate(ctx context.Context, table string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.fail("delete", table); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tables[table]; !ok {
		return NewError(KindTableNotFound, table, nil)
	}
	m.tables[table] = make(map[schema.ID]schema.Record)
	return nil
}
