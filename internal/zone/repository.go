package zone

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Repository implements Directory against service_zones.
type Repository struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool, log zerolog.Logger) *Repository {
	return &Repository{pool: pool, log: log.With().Str("component", "zone_repository").Logger()}
}

// ActiveClustersForCity implements Directory.
func (r *Repository) ActiveClustersForCity(ctx context.Context, cityID string) ([]Cluster, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, city_id, center_lat, center_lng, radius_km
		 FROM service_zones WHERE city_id = $1 AND is_active`,
		cityID,
	)
	if err != nil {
		return nil, fmt.Errorf("zone: query clusters for city %s: %w", cityID, err)
	}
	defer rows.Close()

	var out []Cluster
	for rows.Next() {
		var c Cluster
		var id uuid.UUID
		if err := rows.Scan(&id, &c.CityID, &c.Center.Lat, &c.Center.Lng, &c.RadiusKM); err != nil {
			return nil, fmt.Errorf("zone: scan cluster row: %w", err)
		}
		c.ID = id
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("zone: iterate cluster rows: %w", err)
	}
	return out, nil
}
