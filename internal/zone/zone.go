package zone

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/tutormesh/coordinator/internal/domain"
)

// Cluster is a service zone: a city cluster with a center point and a
// service radius in kilometres.
type Cluster struct {
	ID       uuid.UUID
	CityID   string
	Center   Coordinate
	RadiusKM float64
}

// Match is a cluster paired with its distance from the queried point,
// returned in ascending distance order.
type Match struct {
	Cluster  Cluster
	Distance float64
}

// Directory is the store of active clusters, one row per franchise/city
// service area.
type Directory interface {
	ActiveClustersForCity(ctx context.Context, cityID string) ([]Cluster, error)
}

// Resolver finds which zones cover a point.
type Resolver struct {
	directory Directory
}

// NewResolver constructs a Resolver.
func NewResolver(directory Directory) *Resolver {
	return &Resolver{directory: directory}
}

// Resolve returns every active cluster covering point, nearest first.
// When no cluster covers point, including when the city id is unknown,
// it returns domain.ErrServiceNotAvailable rather than an empty list.
func (r *Resolver) Resolve(ctx context.Context, cityID string, point Coordinate) ([]Match, error) {
	clusters, err := r.directory.ActiveClustersForCity(ctx, cityID)
	if err != nil {
		return nil, fmt.Errorf("zone: fetch clusters for city %s: %w", cityID, err)
	}

	var matches []Match
	for _, c := range clusters {
		d := HaversineKM(point, c.Center)
		if d <= c.RadiusKM {
			matches = append(matches, Match{Cluster: c, Distance: d})
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })

	if len(matches) == 0 {
		return nil, domain.ErrServiceNotAvailable
	}
	return matches, nil
}
