package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/yourorg/travelcore/internal/domain"
)

const bookingSchema = `
CREATE TABLE IF NOT EXISTS bookings (
	id                TEXT PRIMARY KEY,
	travel_request_id TEXT NOT NULL,
	user_id           TEXT NOT NULL,
	type              TEXT NOT NULL,
	inventory_id      TEXT NOT NULL,
	price             TEXT NOT NULL,
	currency          TEXT NOT NULL,
	status            TEXT NOT NULL,
	idempotency_key   TEXT NOT NULL UNIQUE,
	attempts          INTEGER NOT NULL,
	last_error        TEXT NOT NULL DEFAULT '',
	provider_ref      TEXT NOT NULL DEFAULT '',
	confirmed_at      INTEGER,
	cancelled_at      INTEGER,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS bookings_by_user ON bookings(user_id, created_at);
`

const bookingColumns = `id, travel_request_id, user_id, type, inventory_id, price, currency, status,
	idempotency_key, attempts, last_error, provider_ref, confirmed_at, cancelled_at, created_at, updated_at`

// SQLiteConfig configures the SQLite booking store.
type SQLiteConfig struct {
	// Path is the database file. The parent directory must exist.
	Path string
	// PoolSize is the number of pooled connections (default 4).
	PoolSize int
	Logger   *zap.Logger
}

// SQLiteBookings persists bookings in SQLite. The idempotency key carries a
// UNIQUE index, so concurrent inserts for one key resolve inside the database.
type SQLiteBookings struct {
	pool   *sqlitex.Pool
	logger *zap.Logger
	path   string
}

func OpenSQLiteBookings(cfg SQLiteConfig) (*SQLiteBookings, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite bookings: path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}
	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite bookings: opening %s: %w", cfg.Path, err)
	}
	logger.Info("sqlite booking store opened", zap.String("path", cfg.Path), zap.Int("poolSize", poolSize))
	return &SQLiteBookings{pool: pool, logger: logger, path: cfg.Path}, nil
}

func prepareConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return sqlitex.ExecuteScript(conn, bookingSchema, nil)
}

func (s *SQLiteBookings) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("sqlite bookings: closing %s: %w", s.path, err)
	}
	s.logger.Info("sqlite booking store closed", zap.String("path", s.path))
	return nil
}

func (s *SQLiteBookings) InsertBooking(ctx context.Context, b domain.Booking) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `INSERT INTO bookings (`+bookingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			b.ID, b.TravelRequestID, b.UserID, string(b.Type), b.InventoryID, b.Price.String(), b.Currency,
			string(b.Status), b.IdempotencyKey, b.Attempts, b.LastError, b.ProviderRef,
			nullableTime(b.ConfirmedAt), nullableTime(b.CancelledAt), b.CreatedAt.UnixNano(), b.UpdatedAt.UnixNano(),
		},
	})
	if err != nil {
		if code := sqlite.ErrCode(err); code == sqlite.ResultConstraintUnique || code == sqlite.ResultConstraintPrimaryKey {
			return fmt.Errorf("idempotency key %s: %w", b.IdempotencyKey, ErrDuplicateKey)
		}
		return fmt.Errorf("insert booking %s: %w", b.ID, err)
	}
	return nil
}

func (s *SQLiteBookings) GetBooking(ctx context.Context, id string) (domain.Booking, error) {
	return s.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id, "booking "+id)
}

func (s *SQLiteBookings) GetBookingByKey(ctx context.Context, key string) (domain.Booking, error) {
	return s.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE idempotency_key = ?`, key, "idempotency key "+key)
}

func (s *SQLiteBookings) getOne(ctx context.Context, query, arg, label string) (domain.Booking, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return domain.Booking{}, err
	}
	defer s.pool.Put(conn)

	var (
		found bool
		out   domain.Booking
	)
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: []any{arg},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			b, err := scanBooking(stmt)
			if err != nil {
				return err
			}
			out, found = b, true
			return nil
		},
	})
	if err != nil {
		return domain.Booking{}, fmt.Errorf("%s: %w", label, err)
	}
	if !found {
		return domain.Booking{}, fmt.Errorf("%s: %w", label, ErrNotFound)
	}
	return out, nil
}

func (s *SQLiteBookings) UpdateBooking(ctx context.Context, b domain.Booking, expected domain.BookingStatus) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("update booking %s: %w", b.ID, err)
	}
	defer endFn(&err)

	err = sqlitex.Execute(conn, `UPDATE bookings SET
			status = ?, attempts = ?, last_error = ?, provider_ref = ?,
			confirmed_at = ?, cancelled_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`, &sqlitex.ExecOptions{
		Args: []any{
			string(b.Status), b.Attempts, b.LastError, b.ProviderRef,
			nullableTime(b.ConfirmedAt), nullableTime(b.CancelledAt), b.UpdatedAt.UnixNano(),
			b.ID, string(expected),
		},
	})
	if err != nil {
		return fmt.Errorf("update booking %s: %w", b.ID, err)
	}
	if conn.Changes() > 0 {
		return nil
	}

	var status string
	var exists bool
	err = sqlitex.Execute(conn, `SELECT status FROM bookings WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{b.ID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			status, exists = stmt.ColumnText(0), true
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("update booking %s: %w", b.ID, err)
	}
	if !exists {
		return fmt.Errorf("booking %s: %w", b.ID, ErrNotFound)
	}
	return fmt.Errorf("booking %s is %s, expected %s: %w", b.ID, status, expected, ErrStaleWrite)
}

func (s *SQLiteBookings) ListBookingsByUser(ctx context.Context, userID string) ([]domain.Booking, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var out []domain.Booking
	err = sqlitex.Execute(conn, `SELECT `+bookingColumns+` FROM bookings WHERE user_id = ? ORDER BY created_at DESC`,
		&sqlitex.ExecOptions{
			Args: []any{userID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				b, err := scanBooking(stmt)
				if err != nil {
					return err
				}
				out = append(out, b)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("list bookings for %s: %w", userID, err)
	}
	return out, nil
}

func scanBooking(stmt *sqlite.Stmt) (domain.Booking, error) {
	price, err := decimal.NewFromString(stmt.ColumnText(5))
	if err != nil {
		return domain.Booking{}, fmt.Errorf("price column: %w", err)
	}
	return domain.Booking{
		ID:              stmt.ColumnText(0),
		TravelRequestID: stmt.ColumnText(1),
		UserID:          stmt.ColumnText(2),
		Type:            domain.BookingType(stmt.ColumnText(3)),
		InventoryID:     stmt.ColumnText(4),
		Price:           price,
		Currency:        stmt.ColumnText(6),
		Status:          domain.BookingStatus(stmt.ColumnText(7)),
		IdempotencyKey:  stmt.ColumnText(8),
		Attempts:        stmt.ColumnInt(9),
		LastError:       stmt.ColumnText(10),
		ProviderRef:     stmt.ColumnText(11),
		ConfirmedAt:     scanTime(stmt, 12),
		CancelledAt:     scanTime(stmt, 13),
		CreatedAt:       time.Unix(0, stmt.ColumnInt64(14)).UTC(),
		UpdatedAt:       time.Unix(0, stmt.ColumnInt64(15)).UTC(),
	}, nil
}

func scanTime(stmt *sqlite.Stmt, col int) *time.Time {
	if stmt.ColumnType(col) == sqlite.TypeNull {
		return nil
	}
	t := time.Unix(0, stmt.ColumnInt64(col)).UTC()
	return &t
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

// IsDuplicate reports whether err is a uniqueness rejection from any store.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateKey)
}
