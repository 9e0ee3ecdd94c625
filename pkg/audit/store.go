package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/platinummonkey/parish-registry/pkg/storage"
)

const entryColumns = `id, tenant_id, actor_id, action, entity_type, entity_id, before_state, after_state, ts, hash, prev_hash`

// Store reads and appends audit_log rows
type Store struct {
	db *sql.DB
}

// NewStore creates a store over db
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) insert(ctx context.Context, q storage.Querier, e *Entry) error {
	query := `
		INSERT INTO audit_log (tenant_id, lineage, actor_id, action, entity_type, entity_id, before_state, after_state, ts, hash, prev_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`
	err := q.QueryRowContext(ctx, query,
		e.TenantID,
		e.Lineage(),
		e.ActorID,
		e.Action,
		e.EntityType,
		e.EntityID,
		nullableText(e.Before),
		nullableText(e.After),
		e.Timestamp.UTC(),
		e.Hash,
		e.PrevHash,
	).Scan(&e.ID)
	if storage.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %w", ErrChainForked, storage.Unavailable("append audit entry", err))
	}
	return storage.Unavailable("append audit entry", err)
}

// lastHash returns the hash of the most recent chained entry of lineage
func (s *Store) lastHash(ctx context.Context, q storage.Querier, lineage string) (*string, error) {
	var hash string
	err := q.QueryRowContext(ctx,
		`SELECT hash FROM audit_log WHERE lineage = $1 AND hash IS NOT NULL ORDER BY id DESC LIMIT 1`,
		lineage,
	).Scan(&hash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storage.Unavailable("read last audit hash", err)
	}
	return &hash, nil
}

// Get returns one entry, or nil when absent
func (s *Store) Get(ctx context.Context, id int64) (*Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM audit_log WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storage.Unavailable("get audit entry", err)
	}
	return e, nil
}

// Search returns entries matching f in ascending id order, after f.Cursor
func (s *Store) Search(ctx context.Context, f Filter) (*CursorPage, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		where = append(where, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}

	if f.TenantID != nil {
		add("tenant_id = ?", *f.TenantID)
	}
	if f.ActorID != nil {
		add("actor_id = ?", *f.ActorID)
	}
	if f.EntityType != "" {
		add("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		add("entity_id = ?", f.EntityID)
	}
	if f.From != nil {
		add("ts >= ?", f.From.UTC())
	}
	if f.To != nil {
		add("ts <= ?", f.To.UTC())
	}
	if f.Cursor > 0 {
		add("id > ?", f.Cursor)
	}

	limit := f.NormalizedLimit()
	query := `SELECT ` + entryColumns + ` FROM audit_log`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	// one extra row tells whether another page exists
	query += fmt.Sprintf(` ORDER BY id ASC LIMIT %d`, limit+1)

	items, err := s.query(ctx, "search audit log", query, args...)
	if err != nil {
		return nil, err
	}

	page := &CursorPage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.HasMore = true
		page.NextCursor = strconv.FormatInt(page.Items[limit-1].ID, 10)
	}
	if page.Items == nil {
		page.Items = []Entry{}
	}
	return page, nil
}

// lineageRef identifies one chain present in the log
type lineageRef struct {
	Lineage  string
	TenantID *int64
}

func (s *Store) lineages(ctx context.Context) ([]lineageRef, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT lineage, tenant_id FROM audit_log ORDER BY lineage`)
	if err != nil {
		return nil, storage.Unavailable("list audit lineages", err)
	}
	defer rows.Close()

	var out []lineageRef
	for rows.Next() {
		var (
			ref    lineageRef
			tenant sql.NullInt64
		)
		if err := rows.Scan(&ref.Lineage, &tenant); err != nil {
			return nil, storage.Unavailable("list audit lineages", err)
		}
		if tenant.Valid {
			id := tenant.Int64
			ref.TenantID = &id
		}
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable("list audit lineages", err)
	}
	return out, nil
}

// lineageBatch returns up to limit entries of lineage with id > afterID
func (s *Store) lineageBatch(ctx context.Context, lineage string, afterID int64, limit int) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM audit_log WHERE lineage = $1 AND id > $2 ORDER BY id ASC LIMIT ` + strconv.Itoa(limit)
	return s.query(ctx, "read audit lineage", query, lineage, afterID)
}

func (s *Store) query(ctx context.Context, op, query string, args ...interface{}) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Unavailable(op, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, storage.Unavailable(op, err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable(op, err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e                 Entry
		tenantID, actorID sql.NullInt64
		entityID          sql.NullString
		before, after     sql.NullString
		hash, prevHash    sql.NullString
	)
	err := row.Scan(&e.ID, &tenantID, &actorID, &e.Action, &e.EntityType, &entityID,
		&before, &after, &e.Timestamp, &hash, &prevHash)
	if err != nil {
		return nil, err
	}
	e.TenantID = int64Ptr(tenantID)
	e.ActorID = int64Ptr(actorID)
	e.EntityID = stringPtr(entityID)
	e.Hash = stringPtr(hash)
	e.PrevHash = stringPtr(prevHash)
	if before.Valid && before.String != "" {
		e.Before = []byte(before.String)
	}
	if after.Valid && after.String != "" {
		e.After = []byte(after.String)
	}
	return &e, nil
}

func nullableText(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
