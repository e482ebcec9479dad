// Package sqlite is a single-node ticket store for kitchens that run without
// MongoDB.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/pacer/pkg/enums/ticketstatus"
	"github.com/appetiteclub/pacer/services/kitchen/internal/kitchen"
	"github.com/appetiteclub/pacer/services/kitchen/internal/sqlite/migrations"
	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const ticketColumns = `id, restaurant_id, reservation_id, party_size, reservation_start_at,
       status, estimated_prep_minutes, prep_override, target_fire_time,
       fired_at, ready_at, served_at, items_snapshot, created_at, updated_at`

// Store persists tickets in SQLite.
type Store struct {
	path   string
	sqlDB  *sql.DB
	logger apt.Logger
}

var _ kitchen.TicketRepository = (*Store)(nil)

func NewStore(path string, logger apt.Logger) *Store {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Store{path: path, logger: logger}
}

// Open opens a store at path and applies the embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	s := NewStore(path, nil)
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Start(ctx context.Context) error {
	if strings.TrimSpace(s.path) == "" {
		return fmt.Errorf("sqlite path is required")
	}

	dsn := filepath.Clean(s.path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; SQLite serializes them anyway.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("run migrations: %w", err)
	}

	s.sqlDB = sqlDB
	s.logger.Info("Opened SQLite ticket store", "path", s.path)
	return nil
}

func (s *Store) Stop(ctx context.Context) error {
	return s.Close()
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	err := s.sqlDB.Close()
	s.sqlDB = nil
	return err
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return kitchen.ErrStoreUnavailable
	}
	return nil
}

func (s *Store) Create(ctx context.Context, t *kitchen.Ticket) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("ticket cannot be nil")
	}

	items, err := json.Marshal(itemsOrEmpty(t.ItemsSnapshot))
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO tickets (`+ticketColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(),
		t.RestaurantID,
		t.ReservationID.String(),
		t.PartySize,
		toMillis(t.ReservationStartAt),
		t.Status,
		t.EstimatedPrepMinutes,
		t.PrepOverride,
		toMillis(t.TargetFireTime),
		nullMillis(t.FiredAt),
		nullMillis(t.ReadyAt),
		nullMillis(t.ServedAt),
		string(items),
		toMillis(t.CreatedAt),
		toMillis(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create ticket: %w", classify(err))
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id kitchen.TicketID) (*kitchen.Ticket, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id.String())
	return s.scanOne(row)
}

func (s *Store) FindActiveByReservation(ctx context.Context, id kitchen.ReservationID) (*kitchen.Ticket, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets
		  WHERE reservation_id = ? AND status <> ?`,
		id.String(), served())
	t, err := s.scanOne(row)
	if errors.Is(err, kitchen.ErrTicketNotFound) {
		return nil, nil
	}
	return t, err
}

func (s *Store) scanOne(row *sql.Row) (*kitchen.Ticket, error) {
	t, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, kitchen.ErrTicketNotFound
		}
		return nil, fmt.Errorf("get ticket: %w", classify(err))
	}
	return t, nil
}

func (s *Store) ListActiveByRestaurant(ctx context.Context, restaurantID string, filter kitchen.TicketFilter) ([]kitchen.Ticket, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	query, args := listQuery(restaurantID, filter)
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", classify(err))
	}
	defer rows.Close()

	tickets := make([]kitchen.Ticket, 0)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("list tickets: %w", classify(err))
		}
		tickets = append(tickets, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tickets: %w", classify(err))
	}
	return tickets, nil
}

func listQuery(restaurantID string, filter kitchen.TicketFilter) (string, []any) {
	statuses := filter.Statuses
	if len(statuses) == 0 {
		statuses = activeStatuses()
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + ticketColumns + ` FROM tickets WHERE restaurant_id = ? AND status <> ?`)
	b.WriteString(` AND status IN (?` + strings.Repeat(`, ?`, len(statuses)-1) + `)`)
	args := []any{restaurantID, served()}
	for _, st := range statuses {
		args = append(args, st)
	}

	b.WriteString(` ORDER BY target_fire_time ASC, created_at ASC`)

	limit := -1
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	b.WriteString(` LIMIT ? OFFSET ?`)
	args = append(args, limit, max(filter.Offset, 0))

	return b.String(), args
}

func (s *Store) ListActiveRestaurants(ctx context.Context) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT DISTINCT restaurant_id FROM tickets WHERE status <> ? ORDER BY restaurant_id`, served())
	if err != nil {
		return nil, fmt.Errorf("list restaurants: %w", classify(err))
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list restaurants: %w", classify(err))
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list restaurants: %w", classify(err))
	}
	return ids, nil
}

// Update applies patch while the stored status still equals
// patch.ExpectedStatus. Timestamps already set are never cleared.
func (s *Store) Update(ctx context.Context, id kitchen.TicketID, patch kitchen.TicketPatch) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	updatedAt := patch.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	query := `UPDATE tickets
	             SET status = ?,
	                 fired_at = COALESCE(?, fired_at),
	                 ready_at = COALESCE(?, ready_at),
	                 served_at = COALESCE(?, served_at),
	                 updated_at = ?
	           WHERE id = ?`
	args := []any{
		patch.Status,
		nullMillis(patch.FiredAt),
		nullMillis(patch.ReadyAt),
		nullMillis(patch.ServedAt),
		toMillis(updatedAt),
		id.String(),
	}
	if patch.ExpectedStatus != "" {
		query += ` AND status = ?`
		args = append(args, patch.ExpectedStatus)
	}

	result, err := s.sqlDB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update ticket: %w", classify(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update ticket: %w", classify(err))
	}
	if n > 0 {
		return nil
	}

	var found int
	err = s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM tickets WHERE id = ?`, id.String()).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return kitchen.ErrTicketNotFound
	}
	if err != nil {
		return fmt.Errorf("check ticket: %w", classify(err))
	}
	return kitchen.ErrStaleTicket
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*kitchen.Ticket, error) {
	var (
		t                          kitchen.Ticket
		id, reservationID, items   string
		startAt, fireAt            int64
		createdAt, updatedAt       int64
		firedAt, readyAt, servedAt sql.NullInt64
	)

	if err := row.Scan(
		&id,
		&t.RestaurantID,
		&reservationID,
		&t.PartySize,
		&startAt,
		&t.Status,
		&t.EstimatedPrepMinutes,
		&t.PrepOverride,
		&fireAt,
		&firedAt,
		&readyAt,
		&servedAt,
		&items,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if t.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid ticket id %q: %w", id, err)
	}
	if t.ReservationID, err = uuid.Parse(reservationID); err != nil {
		return nil, fmt.Errorf("invalid reservation id %q: %w", reservationID, err)
	}
	if err := json.Unmarshal([]byte(items), &t.ItemsSnapshot); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}

	t.ReservationStartAt = fromMillis(startAt)
	t.TargetFireTime = fromMillis(fireAt)
	t.FiredAt = fromNullMillis(firedAt)
	t.ReadyAt = fromNullMillis(readyAt)
	t.ServedAt = fromNullMillis(servedAt)
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	return &t, nil
}

func served() string {
	return ticketstatus.Statuses.Served.Code()
}

func activeStatuses() []string {
	active := ticketstatus.Active()
	codes := make([]string, 0, len(active))
	for _, st := range active {
		codes = append(codes, st.Code())
	}
	return codes
}

func itemsOrEmpty(items []kitchen.ItemSnapshot) []kitchen.ItemSnapshot {
	if items == nil {
		return []kitchen.ItemSnapshot{}
	}
	return items
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func nullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

// classify maps SQLite result codes onto the store errors callers branch on.
func classify(err error) error {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}

	switch code := sqliteErr.Code(); {
	case code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
		return kitchen.ErrDuplicateTicket
	case code&0xff == sqlite3lib.SQLITE_BUSY, code&0xff == sqlite3lib.SQLITE_LOCKED:
		return fmt.Errorf("%w: %w", kitchen.ErrStoreUnavailable, err)
	default:
		return err
	}
}
