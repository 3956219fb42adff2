package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/example/roadside-dispatch/internal/apperr"
	"github.com/example/roadside-dispatch/internal/models"
)

const uniqueViolation = "23505"

const assignmentColumns = `id, help_id, help_code, driver_id, driver_name, driver_phone, driver_vehicle,
	user_lat, user_lon, user_address, user_accuracy, user_phone, notes, status, created_at, updated_at`

type assignmentRow struct {
	ID            string    `db:"id"`
	HelpID        string    `db:"help_id"`
	HelpCode      string    `db:"help_code"`
	DriverID      string    `db:"driver_id"`
	DriverName    string    `db:"driver_name"`
	DriverPhone   string    `db:"driver_phone"`
	DriverVehicle string    `db:"driver_vehicle"`
	UserLat       float64   `db:"user_lat"`
	UserLon       float64   `db:"user_lon"`
	UserAddress   string    `db:"user_address"`
	UserAccuracy  float64   `db:"user_accuracy"`
	UserPhone     string    `db:"user_phone"`
	Notes         string    `db:"notes"`
	Status        string    `db:"status"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r assignmentRow) model() *models.Assignment {
	return &models.Assignment{
		ID:       r.ID,
		HelpID:   r.HelpID,
		HelpCode: r.HelpCode,
		DriverID: r.DriverID,
		Driver: models.DriverSnapshot{
			Name:        r.DriverName,
			Phone:       r.DriverPhone,
			VehicleType: r.DriverVehicle,
		},
		UserLocation: models.Location{
			Coord:   models.Coord{Lat: r.UserLat, Lon: r.UserLon},
			Address:  r.UserAddress,
			Accuracy: r.UserAccuracy,
		},
		UserPhone: r.UserPhone,
		Notes:     r.Notes,
		Status:    models.Status(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type PostgresStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPostgresStore wraps an open handle; see Open for DSN-based setup.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// Open connects with lib/pq and pings once.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (p *PostgresStore) Create(ctx context.Context, a *models.Assignment) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = p.now().UTC()
	}
	a.UpdatedAt = a.CreatedAt
	_, err := p.db.ExecContext(ctx, `INSERT INTO assignments(`+assignmentColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		a.ID, a.HelpID, a.HelpCode, a.DriverID, a.Driver.Name, a.Driver.Phone, a.Driver.VehicleType,
		a.UserLocation.Lat, a.UserLocation.Lon, a.UserLocation.Address, a.UserLocation.Accuracy, a.UserPhone, a.Notes,
		string(a.Status), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("insert assignment %s: %w", a.ID, apperr.ErrDuplicateID)
		}
		return fmt.Errorf("insert assignment %s: %w", a.ID, err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.Assignment, error) {
	return p.getOne(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id = $1`, id)
}

func (p *PostgresStore) GetByHelpID(ctx context.Context, helpID string) (*models.Assignment, error) {
	return p.getOne(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE help_id = $1`, helpID)
}

func (p *PostgresStore) GetByHelpCode(ctx context.Context, code string) (*models.Assignment, error) {
	return p.getOne(ctx, `SELECT `+assignmentColumns+` FROM assignments
		WHERE help_code = $1 AND status IN ('pending', 'assigned')`, code)
}

func (p *PostgresStore) GetActiveByDriver(ctx context.Context, driverID string) (*models.Assignment, error) {
	return p.getOne(ctx, `SELECT `+assignmentColumns+` FROM assignments
		WHERE driver_id = $1 AND status IN ('pending', 'assigned')
		ORDER BY created_at ASC, id ASC LIMIT 1`, driverID)
}

func (p *PostgresStore) OldestByDriver(ctx context.Context, driverID string, status models.Status) (*models.Assignment, error) {
	return p.getOne(ctx, `SELECT `+assignmentColumns+` FROM assignments
		WHERE driver_id = $1 AND status = $2
		ORDER BY created_at ASC, id ASC LIMIT 1`, driverID, string(status))
}

func (p *PostgresStore) getOne(ctx context.Context, query string, args ...any) (*models.Assignment, error) {
	var row assignmentRow
	if err := p.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return row.model(), nil
}

func (p *PostgresStore) List(ctx context.Context, f ListFilter) ([]models.Assignment, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.HelpID != "" {
		add("help_id = $%d", f.HelpID)
	}
	if f.DriverID != "" {
		add("driver_id = $%d", f.DriverID)
	}
	query := `SELECT ` + assignmentColumns + ` FROM assignments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(f.Limit)
	}
	var rows []assignmentRow
	if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]models.Assignment, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.model())
	}
	return out, nil
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, expected, next models.Status) (*models.Assignment, error) {
	var row assignmentRow
	err := p.db.GetContext(ctx, &row, `UPDATE assignments SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
		RETURNING `+assignmentColumns, string(next), p.now().UTC(), id, string(expected))
	if err == nil {
		return row.model(), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	// nothing updated: tell a lost race apart from a missing row
	var current string
	if err := p.db.GetContext(ctx, &current, `SELECT status FROM assignments WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return nil, fmt.Errorf("assignment %s is %s, expected %s: %w", id, current, expected, apperr.ErrConflict)
}

func (p *PostgresStore) UpdateDetails(ctx context.Context, id string, userPhone, notes *string) (*models.Assignment, error) {
	var row assignmentRow
	err := p.db.GetContext(ctx, &row, `UPDATE assignments
		SET user_phone = COALESCE($1, user_phone), notes = COALESCE($2, notes), updated_at = $3
		WHERE id = $4
		RETURNING `+assignmentColumns, nullable(userPhone), nullable(notes), p.now().UTC(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return row.model(), nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM assignments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (p *PostgresStore) HelpIDTaken(ctx context.Context, helpID, helpCode string) (bool, error) {
	var taken bool
	err := p.db.GetContext(ctx, &taken, `SELECT EXISTS(
		SELECT 1 FROM assignments
		WHERE help_id = $1 OR (help_code = $2 AND status IN ('pending', 'assigned')))`, helpID, helpCode)
	return taken, err
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
