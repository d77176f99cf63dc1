package zone

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutormesh/coordinator/internal/domain"
)

type fakeDirectory struct {
	clusters map[string][]Cluster
}

func (f *fakeDirectory) ActiveClustersForCity(ctx context.Context, cityID string) ([]Cluster, error) {
	return f.clusters[cityID], nil
}

func TestResolveOrdersMatchesByAscendingDistance(t *testing.T) {
	near := Cluster{ID: uuid.New(), CityID: "lagos", Center: Coordinate{Lat: 0.01, Lng: 0}, RadiusKM: 50}
	far := Cluster{ID: uuid.New(), CityID: "lagos", Center: Coordinate{Lat: 0.3, Lng: 0}, RadiusKM: 50}

	dir := &fakeDirectory{clusters: map[string][]Cluster{"lagos": {far, near}}}
	r := NewResolver(dir)

	matches, err := r.Resolve(context.Background(), "lagos", Coordinate{Lat: 0, Lng: 0})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, near.ID, matches[0].Cluster.ID)
	assert.Equal(t, far.ID, matches[1].Cluster.ID)
}

func TestResolveExcludesClustersOutsideRadius(t *testing.T) {
	tooFar := Cluster{ID: uuid.New(), CityID: "lagos", Center: Coordinate{Lat: 5, Lng: 5}, RadiusKM: 10}

	dir := &fakeDirectory{clusters: map[string][]Cluster{"lagos": {tooFar}}}
	r := NewResolver(dir)

	_, err := r.Resolve(context.Background(), "lagos", Coordinate{Lat: 0, Lng: 0})
	assert.ErrorIs(t, err, domain.ErrServiceNotAvailable)
}

func TestResolveReturnsNotAvailableForUnknownCity(t *testing.T) {
	dir := &fakeDirectory{clusters: map[string][]Cluster{}}
	r := NewResolver(dir)

	_, err := r.Resolve(context.Background(), "unknown-city", Coordinate{Lat: 0, Lng: 0})
	assert.ErrorIs(t, err, domain.ErrServiceNotAvailable)
}

func TestHaversineKMIsZeroForIdenticalPoints(t *testing.T) {
	p := Coordinate{Lat: 6.5244, Lng: 3.3792}
	assert.InDelta(t, 0, HaversineKM(p, p), 0.0001)
}

func TestHaversineKMMatchesKnownDistance(t *testing.T) {
	lagos := Coordinate{Lat: 6.5244, Lng: 3.3792}
	abuja := Coordinate{Lat: 9.0765, Lng: 7.3986}
	// Approximate great-circle distance between Lagos and Abuja, ~525km.
	assert.InDelta(t, 525, HaversineKM(lagos, abuja), 30)
}
