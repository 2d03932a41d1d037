package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	apperrors "github.com/tendant/simple-device/pkg/errors"
	"github.com/tendant/simple-device/pkg/fingerprint"
)

// DefaultLockTimeout bounds how long a registration waits for another registration of the same user
const DefaultLockTimeout = 5 * time.Second

const deviceColumns = "id, user_id, fingerprint, hash, device_label, is_active, created_at, last_used_at"

// PostgresDeviceRepository implements DeviceRepository using PostgreSQL
type PostgresDeviceRepository struct {
	db          DBTX
	lockTimeout time.Duration
}

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// TxBeginner is implemented by *pgxpool.Pool and *pgx.Conn
type TxBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// NewPostgresDeviceRepository creates a new PostgreSQL device repository
func NewPostgresDeviceRepository(db DBTX) *PostgresDeviceRepository {
	return NewPostgresDeviceRepositoryWithLockTimeout(db, DefaultLockTimeout)
}

// NewPostgresDeviceRepositoryWithLockTimeout creates a repository with a custom per-user lock timeout
func NewPostgresDeviceRepositoryWithLockTimeout(db DBTX, lockTimeout time.Duration) *PostgresDeviceRepository {
	return &PostgresDeviceRepository{
		db:          db,
		lockTimeout: lockTimeout,
	}
}

// FindDeviceByHash returns the device with the given hash across all users
func (r *PostgresDeviceRepository) FindDeviceByHash(ctx context.Context, hash string) (Device, error) {
	row := r.db.QueryRow(ctx, `SELECT `+deviceColumns+` FROM device WHERE hash = $1`, hash)
	device, err := scanDevice(row)
	if err != nil {
		return Device{}, r.wrap("find device by hash", err)
	}
	return device, nil
}

// GetDevice returns a device owned by the user
func (r *PostgresDeviceRepository) GetDevice(ctx context.Context, userID, deviceID uuid.UUID) (Device, error) {
	row := r.db.QueryRow(ctx, `SELECT `+deviceColumns+` FROM device WHERE id = $1 AND user_id = $2`, deviceID, userID)
	device, err := scanDevice(row)
	if err != nil {
		return Device{}, r.wrap("get device", err)
	}
	return device, nil
}

// FindActiveDevicesByUser returns active devices, newest first, keeping the most recently
// used row per signature
func (r *PostgresDeviceRepository) FindActiveDevicesByUser(ctx context.Context, userID uuid.UUID) ([]Device, error) {
	query := `
		SELECT ` + deviceColumns + ` FROM (
			SELECT DISTINCT ON (signature) ` + deviceColumns + `
			FROM device
			WHERE user_id = $1 AND is_active
			ORDER BY signature, last_used_at DESC, created_at DESC
		) latest
		ORDER BY last_used_at DESC, created_at DESC
	`
	return r.queryDevices(ctx, "find active devices", query, userID)
}

// FindDevicesByUser returns all of a user's devices, newest first
func (r *PostgresDeviceRepository) FindDevicesByUser(ctx context.Context, userID uuid.UUID) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM device WHERE user_id = $1 ORDER BY last_used_at DESC, created_at DESC`
	return r.queryDevices(ctx, "find devices", query, userID)
}

// CountActiveDevices counts every active row for the user
func (r *PostgresDeviceRepository) CountActiveDevices(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM device WHERE user_id = $1 AND is_active`, userID).Scan(&count)
	if err != nil {
		return 0, r.wrap("count active devices", err)
	}
	return count, nil
}

// CreateDevice inserts a new device row
func (r *PostgresDeviceRepository) CreateDevice(ctx context.Context, device Device) (Device, error) {
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	if device.LastUsedAt.IsZero() {
		device.LastUsedAt = device.CreatedAt
	}

	fpJSON, err := json.Marshal(device.Fingerprint)
	if err != nil {
		return Device{}, fmt.Errorf("failed to marshal fingerprint: %w", err)
	}

	if err := r.ensureUser(ctx, device.UserID); err != nil {
		return Device{}, err
	}

	query := `
		INSERT INTO device (id, user_id, fingerprint, hash, device_label, signature, is_active, created_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + deviceColumns
	row := r.db.QueryRow(ctx, query,
		device.ID,
		device.UserID,
		fpJSON,
		device.Hash,
		device.DeviceLabel,
		device.Signature(),
		device.IsActive,
		device.CreatedAt,
		device.LastUsedAt,
	)
	created, err := scanDevice(row)
	if err != nil {
		slog.Error("Failed to create device", "userID", device.UserID, "err", err)
		return Device{}, r.wrap("create device", err)
	}
	return created, nil
}

// UpdateDeviceFingerprint replaces the stored fingerprint, hash and label of a device
func (r *PostgresDeviceRepository) UpdateDeviceFingerprint(ctx context.Context, deviceID uuid.UUID, fp fingerprint.Fingerprint, hash, label string, lastUsedAt time.Time) (Device, error) {
	fpJSON, err := json.Marshal(fp)
	if err != nil {
		return Device{}, fmt.Errorf("failed to marshal fingerprint: %w", err)
	}

	query := `
		UPDATE device
		SET fingerprint = $2, hash = $3, device_label = $4, signature = $5, last_used_at = $6
		WHERE id = $1
		RETURNING ` + deviceColumns
	row := r.db.QueryRow(ctx, query, deviceID, fpJSON, hash, label, fp.Signature(), lastUsedAt)
	device, err := scanDevice(row)
	if err != nil {
		return Device{}, r.wrap("update device fingerprint", err)
	}
	return device, nil
}

// TouchDevice updates last use time
func (r *PostgresDeviceRepository) TouchDevice(ctx context.Context, deviceID uuid.UUID, lastUsedAt time.Time) (Device, error) {
	row := r.db.QueryRow(ctx, `UPDATE device SET last_used_at = $2 WHERE id = $1 RETURNING `+deviceColumns, deviceID, lastUsedAt)
	device, err := scanDevice(row)
	if err != nil {
		return Device{}, r.wrap("touch device", err)
	}
	return device, nil
}

// UpdateDeviceLabel renames a device owned by the user
func (r *PostgresDeviceRepository) UpdateDeviceLabel(ctx context.Context, userID, deviceID uuid.UUID, label string) (Device, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE device SET device_label = $3 WHERE id = $1 AND user_id = $2 RETURNING `+deviceColumns,
		deviceID, userID, label)
	device, err := scanDevice(row)
	if err != nil {
		return Device{}, r.wrap("update device label", err)
	}
	return device, nil
}

// SetDeviceActive flips the active flag of a device owned by the user
func (r *PostgresDeviceRepository) SetDeviceActive(ctx context.Context, userID, deviceID uuid.UUID, active bool) (Device, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE device SET is_active = $3 WHERE id = $1 AND user_id = $2 RETURNING `+deviceColumns,
		deviceID, userID, active)
	device, err := scanDevice(row)
	if err != nil {
		return Device{}, r.wrap("set device active", err)
	}
	return device, nil
}

// IsUserBlocked reports the user's blocked flag; unknown users are not blocked
func (r *PostgresDeviceRepository) IsUserBlocked(ctx context.Context, userID uuid.UUID) (bool, error) {
	var blocked bool
	err := r.db.QueryRow(ctx, `SELECT is_blocked FROM users WHERE id = $1`, userID).Scan(&blocked)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, r.wrap("read user blocked flag", err)
	}
	return blocked, nil
}

// SetUserBlocked sets or clears the user's blocked flag
func (r *PostgresDeviceRepository) SetUserBlocked(ctx context.Context, userID uuid.UUID, blocked bool) error {
	query := `
		INSERT INTO users (id, is_blocked, blocked_at, updated_at)
		VALUES ($1, $2, CASE WHEN $2 THEN now() END, now())
		ON CONFLICT (id) DO UPDATE
		SET is_blocked = EXCLUDED.is_blocked, blocked_at = EXCLUDED.blocked_at, updated_at = now()
	`
	if _, err := r.db.Exec(ctx, query, userID, blocked); err != nil {
		return r.wrap("set user blocked flag", err)
	}
	return nil
}

// WithUserLock opens a READ COMMITTED transaction, locks the user's row with
// SELECT ... FOR UPDATE and runs fn against a repository bound to that transaction.
// The transaction commits when fn returns nil and rolls back otherwise.
func (r *PostgresDeviceRepository) WithUserLock(ctx context.Context, userID uuid.UUID, fn func(repo DeviceRepository) error) error {
	tx, err := r.begin(ctx)
	if err != nil {
		return r.wrap("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if r.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())); err != nil {
			return r.wrap("set lock timeout", err)
		}
	}
	if _, err := tx.Exec(ctx, `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, userID); err != nil {
		return r.wrap("ensure user", err)
	}
	var blocked bool
	if err := tx.QueryRow(ctx, `SELECT is_blocked FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&blocked); err != nil {
		return r.wrap("lock user", err)
	}
	slog.Debug("Acquired user lock", "userID", userID, "blocked", blocked)

	if err := fn(NewPostgresDeviceRepositoryWithLockTimeout(tx, r.lockTimeout)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return r.wrap("commit transaction", err)
	}
	return nil
}

// WithTx returns a new repository that uses the provided transaction
func (r *PostgresDeviceRepository) WithTx(tx interface{}) DeviceRepository {
	// Check if the transaction is nil
	if tx == nil {
		return r
	}

	pgxTx, ok := tx.(pgx.Tx)
	if !ok {
		slog.Warn("Unsupported transaction type", "type", reflect.TypeOf(tx))
		return r
	}
	return NewPostgresDeviceRepositoryWithLockTimeout(pgxTx, r.lockTimeout)
}

// begin starts a transaction, or a savepoint when the repository is already bound to one
func (r *PostgresDeviceRepository) begin(ctx context.Context) (pgx.Tx, error) {
	switch db := r.db.(type) {
	case TxBeginner:
		return db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	case pgx.Tx:
		return db.Begin(ctx)
	}
	return nil, fmt.Errorf("database handle %T does not support transactions", r.db)
}

func (r *PostgresDeviceRepository) ensureUser(ctx context.Context, userID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, userID); err != nil {
		return r.wrap("ensure user", err)
	}
	return nil
}

func (r *PostgresDeviceRepository) queryDevices(ctx context.Context, op, query string, args ...interface{}) ([]Device, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.wrap(op, err)
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, r.wrap(op, err)
		}
		devices = append(devices, device)
	}
	if err := rows.Err(); err != nil {
		return nil, r.wrap(op, err)
	}
	return devices, nil
}

// wrap maps driver errors onto repository sentinels and retryable error codes
func (r *PostgresDeviceRepository) wrap(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDeviceNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("failed to %s: %w", op, ErrDuplicateHash)
	}
	if isTransient(err) {
		slog.Warn("Transient database failure", "op", op, "err", err)
		return apperrors.Transient(err, "failed to "+op)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// isTransient reports lock timeouts, serialization failures, deadlocks, cancelled
// statements and lost connections
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01",                   // deadlock_detected
			"55P03",                   // lock_not_available
			"57014",                   // query_canceled (statement_timeout)
			"57P01",                   // admin_shutdown
			"08000", "08003", "08006": // connection exceptions
			return true
		}
		return false
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	return pgconn.Timeout(err) || pgconn.SafeToRetry(err)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDevice(row rowScanner) (Device, error) {
	var device Device
	var fpJSON []byte
	err := row.Scan(
		&device.ID,
		&device.UserID,
		&fpJSON,
		&device.Hash,
		&device.DeviceLabel,
		&device.IsActive,
		&device.CreatedAt,
		&device.LastUsedAt,
	)
	if err != nil {
		return Device{}, err
	}
	if err := json.Unmarshal(fpJSON, &device.Fingerprint); err != nil {
		return Device{}, fmt.Errorf("failed to unmarshal fingerprint: %w", err)
	}
	return device, nil
}
