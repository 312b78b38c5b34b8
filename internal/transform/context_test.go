package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultContextValid(t *testing.T) {
	require.NoError(t, DefaultContext(testNow).Validate())
}

func TestContextValidate(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(*Context)
		wants string
	}{
		{"zero clock", func(c *Context) { c.Now = time.Time{} }, "run clock"},
		{"inverted height bounds", func(c *Context) { c.HeightBounds = Bounds{Min: 200, Max: 100} }, "height bounds"},
		{"zero weight min", func(c *Context) { c.WeightBounds.Min = 0 }, "weight bounds"},
		{"no future window", func(c *Context) { c.MaxFutureYears = 0 }, "future years"},
		{"no formats", func(c *Context) { c.TimeFormats = nil }, "formats"},
		{"no length table", func(c *Context) { c.MaxLen = nil }, "length table"},
		{"missing pk column", func(c *Context) { delete(c.PKColumn, EntityDiagnoses) }, "primary key column"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultContext(testNow)
			tt.mut(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wants)
		})
	}
}

func TestContextValidateNil(t *testing.T) {
	var c *Context
	assert.Error(t, c.Validate())
}

func TestBoundsContains(t *testing.T) {
	b := Bounds{Min: 30, Max: 272}
	assert.True(t, b.Contains(30))
	assert.True(t, b.Contains(272))
	assert.False(t, b.Contains(29.99))
	assert.False(t, b.Contains(272.01))
}
