// Package catalog is the HTTP client for the course/student catalog
// service: the external collaborator the purchase worker consults
// for course levels and student/course existence, both out of the
// coordination pipeline's own scope.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tutormesh/coordinator/internal/purchase"
)

// Client is a thin REST client over the catalog service, shaped the same
// way as assignment.HTTPDirectory: an http.Client plus a zerolog.Logger,
// no retry/backoff of its own since callers already retry through
// internal/retry.
type Client struct {
	httpClient *http.Client
	baseURL    string
	log        zerolog.Logger
}

// NewClient constructs a Client.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    baseURL,
		log:        log.With().Str("component", "catalog_client").Logger(),
	}
}

type levelDTO struct {
	LevelID       uuid.UUID `json:"levelId"`
	Rank          int       `json:"rank"`
	SessionNumber int       `json:"sessionNumber"`
}

// LevelsForCourse implements purchase.LevelProvider.
func (c *Client) LevelsForCourse(ctx context.Context, courseID uuid.UUID) ([]purchase.CourseLevel, error) {
	url := fmt.Sprintf("%s/courses/%s/levels", c.baseURL, courseID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: build levels request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: fetch levels for course %s: %w", courseID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog: fetch levels for course %s: status %d", courseID, resp.StatusCode)
	}

	var dtos []levelDTO
	if err := json.NewDecoder(resp.Body).Decode(&dtos); err != nil {
		return nil, fmt.Errorf("catalog: decode levels for course %s: %w", courseID, err)
	}

	levels := make([]purchase.CourseLevel, 0, len(dtos))
	for _, d := range dtos {
		levels = append(levels, purchase.CourseLevel{LevelID: d.LevelID, Rank: d.Rank, SessionNumber: d.SessionNumber})
	}
	return levels, nil
}

type existsDTO struct {
	Exists bool `json:"exists"`
}

// Exists implements purchase.StudentCourseValidator.
func (c *Client) Exists(ctx context.Context, studentID, courseID uuid.UUID) (bool, error) {
	url := fmt.Sprintf("%s/enrollments/exists?studentId=%s&courseId=%s", c.baseURL, studentID, courseID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("catalog: build exists request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("catalog: check enrollment for student %s course %s: %w", studentID, courseID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("catalog: check enrollment for student %s course %s: status %d", studentID, courseID, resp.StatusCode)
	}

	var dto existsDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return false, fmt.Errorf("catalog: decode exists response: %w", err)
	}
	return dto.Exists, nil
}
