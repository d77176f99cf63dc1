package assignment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tutormesh/coordinator/internal/zone"
)

// HTTPDirectory is the trainer directory client: a Directory implementation
// that queries the external trainer catalog over HTTP.
type HTTPDirectory struct {
	client  *http.Client
	baseURL string
	log     zerolog.Logger
}

// NewHTTPDirectory constructs an HTTPDirectory.
func NewHTTPDirectory(baseURL string, log zerolog.Logger) *HTTPDirectory {
	return &HTTPDirectory{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
		log:     log.With().Str("client", "trainer_directory").Logger(),
	}
}

type trainerDTO struct {
	TrainerID             uuid.UUID   `json:"trainerId"`
	Active                bool        `json:"active"`
	CertifiedCourseIDs    []uuid.UUID `json:"certifiedCourseIds"`
	Lat                   *float64    `json:"lat"`
	Lng                   *float64    `json:"lng"`
	Rating                float64     `json:"rating"`
	AcceptMoreAllocations bool        `json:"acceptMoreAllocations"`
}

func (d trainerDTO) toCandidate() Candidate {
	certified := make(map[uuid.UUID]bool, len(d.CertifiedCourseIDs))
	for _, id := range d.CertifiedCourseIDs {
		certified[id] = true
	}
	c := Candidate{
		TrainerID:             d.TrainerID,
		Active:                d.Active,
		CertifiedCourseIDs:    certified,
		Rating:                d.Rating,
		AcceptMoreAllocations: d.AcceptMoreAllocations,
	}
	if d.Lat != nil && d.Lng != nil {
		c.HasLocation = true
		c.Location = zone.Coordinate{Lat: *d.Lat, Lng: *d.Lng}
	}
	return c
}

// FetchCandidates queries the directory's search endpoint.
func (d *HTTPDirectory) FetchCandidates(ctx context.Context, filters Filters) ([]Candidate, error) {
	q := url.Values{}
	q.Set("courseId", filters.CourseID.String())
	if filters.IsActive {
		q.Set("active", "true")
	}
	if filters.FranchiseID != nil {
		q.Set("franchiseId", *filters.FranchiseID)
	}
	if filters.ZoneID != nil {
		q.Set("zoneId", filters.ZoneID.String())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/trainers?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("trainer directory: build request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trainer directory: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trainer directory: unexpected status %d", resp.StatusCode)
	}

	var dtos []trainerDTO
	if err := json.NewDecoder(resp.Body).Decode(&dtos); err != nil {
		return nil, fmt.Errorf("trainer directory: decode response: %w", err)
	}

	candidates := make([]Candidate, len(dtos))
	for i, dto := range dtos {
		candidates[i] = dto.toCandidate()
	}
	return candidates, nil
}

// CandidateRating fetches a single trainer's rating and opt-in flag, used
// by the commit-time re-verification to recompute the same load cap the
// engine used.
func (d *HTTPDirectory) CandidateRating(ctx context.Context, trainerID uuid.UUID) (float64, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/trainers/"+trainerID.String(), nil)
	if err != nil {
		return 0, false, fmt.Errorf("trainer directory: build request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, false, fmt.Errorf("trainer directory: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, false, fmt.Errorf("trainer directory: unexpected status %d for trainer %s", resp.StatusCode, trainerID)
	}

	var dto trainerDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return 0, false, fmt.Errorf("trainer directory: decode response: %w", err)
	}
	return dto.Rating, dto.AcceptMoreAllocations, nil
}
