package allocation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/tutormesh/coordinator/internal/domain"
	"github.com/tutormesh/coordinator/internal/zone"
)

// StudentLocatorRepository implements StudentLocator against
// student_profiles, resolving the student's base location.
type StudentLocatorRepository struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewStudentLocatorRepository constructs a StudentLocatorRepository.
func NewStudentLocatorRepository(pool *pgxpool.Pool, log zerolog.Logger) *StudentLocatorRepository {
	return &StudentLocatorRepository{pool: pool, log: log.With().Str("component", "student_locator").Logger()}
}

// ResolveLocation implements StudentLocator. A missing profile is treated
// as the student having no resolvable service zone, the same outcome as
// an empty zone lookup (domain.ErrServiceNotAvailable), since neither
// case is retryable.
func (r *StudentLocatorRepository) ResolveLocation(ctx context.Context, studentID uuid.UUID) (string, zone.Coordinate, error) {
	var cityID string
	var point zone.Coordinate
	err := r.pool.QueryRow(ctx,
		`SELECT city_id, lat, lng FROM student_profiles WHERE student_id = $1`,
		studentID,
	).Scan(&cityID, &point.Lat, &point.Lng)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", zone.Coordinate{}, domain.ErrServiceNotAvailable
	}
	if err != nil {
		return "", zone.Coordinate{}, fmt.Errorf("allocation: resolve student location: %w", err)
	}
	return cityID, point, nil
}
