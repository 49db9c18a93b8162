package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSample(t *testing.T) {
	t.Run("full payload", func(t *testing.T) {
		data := []byte(`{"ts":"2025-11-03T09:15:00+07:00","node_id":"CM-01","s":{"dist_m":0.83,"rain_bin":1,"batt_v":4.92},"meta":{"sensor_height_above_crest_m":0.95},"ver":2}`)
		s, err := ParseSample(RawSample{Value: data})

		require.NoError(t, err)
		assert.Equal(t, "CM-01", s.NodeID)
		assert.Equal(t, "2025-11-03T09:15:00+07:00", s.TS)
		assert.Equal(t, 2025, s.Time.Year())
		require.NotNil(t, s.DistM)
		assert.Equal(t, 0.83, *s.DistM)
		require.NotNil(t, s.RainBin)
		assert.Equal(t, 1, *s.RainBin)
		require.NotNil(t, s.BattV)
		assert.Equal(t, 4.92, *s.BattV)
		require.NotNil(t, s.SensorHeightOverride)
		assert.Equal(t, 0.95, *s.SensorHeightOverride)
	})

	t.Run("sensor fields stay absent", func(t *testing.T) {
		data := []byte(`{"ts":"2025-11-03T09:15:00Z","node_id":"CM-02","s":{}}`)
		s, err := ParseSample(RawSample{Value: data})

		require.NoError(t, err)
		assert.Nil(t, s.DistM)
		assert.Nil(t, s.RainBin)
		assert.Nil(t, s.BattV)
		assert.Nil(t, s.SensorHeightOverride)
	})

	t.Run("timestamp offset preserved", func(t *testing.T) {
		data := []byte(`{"ts":"2025-11-03T09:15:00+07:00","node_id":"CM-01"}`)
		s, err := ParseSample(RawSample{Value: data})

		require.NoError(t, err)
		_, offset := s.Time.Zone()
		assert.Equal(t, 7*60*60, offset)
		assert.True(t, s.Time.Equal(time.Date(2025, 11, 3, 2, 15, 0, 0, time.UTC)))
	})

	t.Run("missing node_id", func(t *testing.T) {
		data := []byte(`{"ts":"2025-11-03T09:15:00Z","s":{"dist_m":0.8}}`)
		_, err := ParseSample(RawSample{Value: data})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "node_id")
	})

	t.Run("missing ts", func(t *testing.T) {
		data := []byte(`{"node_id":"CM-01"}`)
		_, err := ParseSample(RawSample{Value: data})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ts")
	})

	t.Run("invalid ts", func(t *testing.T) {
		data := []byte(`{"ts":"yesterday","node_id":"CM-01"}`)
		_, err := ParseSample(RawSample{Value: data})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid ts")
	})

	t.Run("invalid JSON", func(t *testing.T) {
		_, err := ParseSample(RawSample{Value: []byte("{not json")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse telemetry payload")
	})
}

func TestDefaultHQProfile(t *testing.T) {
	p := DefaultHQProfile()
	assert.Equal(t, HQProfile{A: 1.0, B: 1.5, H0M: 0.0, SensorHeightAboveCrestM: 1.0}, p)
}
