package roster

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/example/roadside-dispatch/internal/apperr"
	"github.com/example/roadside-dispatch/internal/models"
)

const driverColumns = `id, name, phone, latitude, longitude, available, manually_online, rating, vehicle_type,
	service_type, base_price, max_distance, service_areas, working_hours, archived, updated_at`

type driverRow struct {
	ID             string         `db:"id"`
	Name           string         `db:"name"`
	Phone          string         `db:"phone"`
	Latitude       float64        `db:"latitude"`
	Longitude      float64        `db:"longitude"`
	Available      bool           `db:"available"`
	ManuallyOnline bool           `db:"manually_online"`
	Rating         float64        `db:"rating"`
	VehicleType    string         `db:"vehicle_type"`
	ServiceType    string         `db:"service_type"`
	BasePrice      int            `db:"base_price"`
	MaxDistance    float64        `db:"max_distance"`
	ServiceAreas   pq.StringArray `db:"service_areas"`
	WorkingHours   []byte         `db:"working_hours"`
	Archived       bool           `db:"archived"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r driverRow) model() (models.Driver, error) {
	d := models.Driver{
		ID:             r.ID,
		Name:           r.Name,
		Phone:          r.Phone,
		Loc:            models.Coord{Lat: r.Latitude, Lon: r.Longitude},
		Available:      r.Available,
		ManuallyOnline: r.ManuallyOnline,
		Rating:         r.Rating,
		VehicleType:    r.VehicleType,
		ServiceType:    r.ServiceType,
		BasePrice:      r.BasePrice,
		MaxRadiusKm:    r.MaxDistance,
		ServiceAreas:   []string(r.ServiceAreas),
		Archived:       r.Archived,
		Updated:        r.UpdatedAt,
	}
	if len(r.WorkingHours) > 0 && string(r.WorkingHours) != "null" {
		if err := json.Unmarshal(r.WorkingHours, &d.WorkingHours); err != nil {
			return d, fmt.Errorf("driver %s working hours: %w", r.ID, err)
		}
	}
	return d, nil
}

type PostgresDirectory struct {
	db     *sqlx.DB
	now    func() time.Time
	logger *slog.Logger
}

func NewPostgresDirectory(db *sqlx.DB, logger *slog.Logger) *PostgresDirectory {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresDirectory{db: db, now: time.Now, logger: logger}
}

func (p *PostgresDirectory) List(ctx context.Context, includeArchived bool) ([]models.Driver, error) {
	query := `SELECT ` + driverColumns + ` FROM drivers`
	if !includeArchived {
		query += ` WHERE archived = FALSE`
	}
	query += ` ORDER BY id`
	var rows []driverRow
	if err := p.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	out := make([]models.Driver, 0, len(rows))
	for _, r := range rows {
		d, err := r.model()
		if err != nil {
			p.logger.Warn("skipping driver with unreadable row", "driver_id", r.ID, "error", err)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (p *PostgresDirectory) Get(ctx context.Context, id string) (*models.Driver, error) {
	return p.getOne(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, id)
}

func (p *PostgresDirectory) FindByPhone(ctx context.Context, phone string) (*models.Driver, error) {
	key := NormalizePhone(phone)
	if key == "" {
		return nil, apperr.ErrNotFound
	}
	return p.getOne(ctx, `SELECT `+driverColumns+` FROM drivers
		WHERE phone_key = $1 AND archived = FALSE ORDER BY id LIMIT 1`, key)
}

func (p *PostgresDirectory) getOne(ctx context.Context, query string, args ...any) (*models.Driver, error) {
	var row driverRow
	if err := p.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	d, err := row.model()
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (p *PostgresDirectory) Upsert(ctx context.Context, d models.Driver) (models.Driver, error) {
	if d.ID == "" {
		return models.Driver{}, apperr.Invalid("id", "required")
	}
	var hours []byte
	if len(d.WorkingHours) > 0 {
		b, err := json.Marshal(d.WorkingHours)
		if err != nil {
			return models.Driver{}, err
		}
		hours = b
	}
	// service_areas is NOT NULL; a nil pq.StringArray binds as NULL
	if d.ServiceAreas == nil {
		d.ServiceAreas = []string{}
	}
	d.Updated = p.now().UTC()
	_, err := p.db.ExecContext(ctx, `INSERT INTO drivers (id, name, phone, phone_key, latitude, longitude, available,
		manually_online, rating, vehicle_type, service_type, base_price, max_distance, service_areas, working_hours,
		archived, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, phone = EXCLUDED.phone, phone_key = EXCLUDED.phone_key,
		latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude, available = EXCLUDED.available,
		manually_online = EXCLUDED.manually_online, rating = EXCLUDED.rating, vehicle_type = EXCLUDED.vehicle_type,
		service_type = EXCLUDED.service_type, base_price = EXCLUDED.base_price, max_distance = EXCLUDED.max_distance,
		service_areas = EXCLUDED.service_areas, working_hours = EXCLUDED.working_hours, archived = EXCLUDED.archived,
		updated_at = EXCLUDED.updated_at`,
		d.ID, d.Name, d.Phone, NormalizePhone(d.Phone), d.Loc.Lat, d.Loc.Lon, d.Available,
		d.ManuallyOnline, d.Rating, d.VehicleType, d.ServiceType, d.BasePrice, d.MaxRadiusKm,
		pq.StringArray(d.ServiceAreas), hours, d.Archived, d.Updated)
	if err != nil {
		return models.Driver{}, fmt.Errorf("upsert driver %s: %w", d.ID, err)
	}
	return d, nil
}

func (p *PostgresDirectory) SetOnline(ctx context.Context, id string, online bool) error {
	res, err := p.db.ExecContext(ctx, `UPDATE drivers SET manually_online = $1, updated_at = $2 WHERE id = $3`,
		online, p.now().UTC(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}
