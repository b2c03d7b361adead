package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineMeters(t *testing.T) {
	// Same point.
	assert.Equal(t, 0.0, HaversineMeters(47.2184, -1.5536, 47.2184, -1.5536))

	// Nantes center to Nantes station: roughly 900 m.
	d := HaversineMeters(47.2184, -1.5536, 47.2172, -1.5419)
	assert.InDelta(t, 890, d, 150)

	// Paris to Nantes: roughly 340 km.
	far := HaversineMeters(48.8566, 2.3522, 47.2184, -1.5536)
	assert.InDelta(t, 342000, far, 5000)

	// Symmetric.
	assert.InDelta(t, far, HaversineMeters(47.2184, -1.5536, 48.8566, 2.3522), 0.001)
}

func TestRoundCoord(t *testing.T) {
	assert.InDelta(t, 47.21840001, RoundCoord(47.2184000061), 1e-10)
	assert.InDelta(t, -1.5536, RoundCoord(-1.55360000004), 1e-10)

	// Rounding is stable: a rounded value rounds to itself.
	v := RoundCoord(47.123456789123)
	assert.Equal(t, v, RoundCoord(v))
}
