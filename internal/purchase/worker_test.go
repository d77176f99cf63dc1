package purchase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutormesh/coordinator/internal/domain"
)

func TestExtractTierAcceptsSupportedTiers(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want domain.PurchaseTier
	}{
		{"foundation as float64", float64(10), domain.TierFoundation},
		{"development as float64", float64(20), domain.TierDevelopment},
		{"mastery as float64", float64(30), domain.TierMastery},
		{"mastery as int", int(30), domain.TierMastery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier, err := extractTier(map[string]any{"purchaseTier": tt.raw})
			require.NoError(t, err)
			assert.Equal(t, tt.want, tier)
		})
	}
}

func TestExtractTierRejectsMissingField(t *testing.T) {
	_, err := extractTier(map[string]any{})
	assert.ErrorIs(t, err, domain.ErrPoisonInput)
}

func TestExtractTierRejectsUnsupportedValue(t *testing.T) {
	_, err := extractTier(map[string]any{"purchaseTier": float64(25)})
	assert.ErrorIs(t, err, domain.ErrPoisonInput)
}

func TestExtractTierRejectsWrongType(t *testing.T) {
	_, err := extractTier(map[string]any{"purchaseTier": "thirty"})
	assert.ErrorIs(t, err, domain.ErrPoisonInput)
}

func TestCourseLevelRankMapsTierToRank(t *testing.T) {
	assert.Equal(t, 1, domain.TierFoundation.CourseLevelRank())
	assert.Equal(t, 2, domain.TierDevelopment.CourseLevelRank())
	assert.Equal(t, 3, domain.TierMastery.CourseLevelRank())
}
