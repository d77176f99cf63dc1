package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStudentKeysMatchWireConvention(t *testing.T) {
	assert.Equal(t, "student:home:abc-123", StudentHomeKey("abc-123"))
	assert.Equal(t, "student:learning:abc-123", StudentLearningKey("abc-123"))
}

func TestInvalidateDeletesExistingKey(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.Set("student:home:abc-123", "cached-payload")

	c := New(Config{Addr: mr.Addr()})
	defer c.Close()

	err := c.Invalidate(context.Background(), "student:home:abc-123")
	require.NoError(t, err)
	assert.False(t, mr.Exists("student:home:abc-123"))
}

func TestInvalidateTreatsMissingKeyAsSuccess(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(Config{Addr: mr.Addr()})
	defer c.Close()

	err := c.Invalidate(context.Background(), "student:home:does-not-exist")
	assert.NoError(t, err)
}
