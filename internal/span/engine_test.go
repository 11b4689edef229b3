package span

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejusbharadwaj/currentcost/internal/buffer"
	"github.com/tejusbharadwaj/currentcost/internal/metrics"
	"github.com/tejusbharadwaj/currentcost/internal/settings"
	"github.com/tejusbharadwaj/currentcost/internal/settings/mocks"
)

var base = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func at(seconds int) time.Time {
	return base.Add(time.Duration(seconds) * time.Second)
}

func snapshot(points ...[2]float64) buffer.ReadingsSnapshot {
	var snap buffer.ReadingsSnapshot
	for _, p := range points {
		snap.Dates = append(snap.Dates, at(int(p[0])))
		snap.Values = append(snap.Values, p[1])
	}
	return snap
}

func newEngine(t *testing.T, store settings.Store) (*Engine, *metrics.Metrics) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	m := metrics.New(prometheus.NewRegistry())
	e, err := NewEngine(store, 0, logger, m)
	require.NoError(t, err)
	return e, m
}

func TestUsage(t *testing.T) {
	tests := []struct {
		name      string
		snap      buffer.ReadingsSnapshot
		from, to  int
		wantKWh   float64
		wantLo    int
		wantHi    int
		wantFound bool
	}{
		{
			name:      "step integral over a partial span",
			snap:      snapshot([2]float64{0, 1}, [2]float64{3600, 2}, [2]float64{7200, 1}),
			from:      1800,
			to:        5400,
			wantKWh:   1.5,
			wantLo:    0,
			wantHi:    2,
			wantFound: true,
		},
		{
			name:      "whole buffer",
			snap:      snapshot([2]float64{0, 1}, [2]float64{3600, 2}, [2]float64{7200, 1}),
			from:      0,
			to:        7200,
			wantKWh:   3,
			wantLo:    0,
			wantHi:    2,
			wantFound: true,
		},
		{
			name:      "span past the last reading",
			snap:      snapshot([2]float64{0, 1}, [2]float64{3600, 2}),
			from:      1800,
			to:        9000,
			wantKWh:   0.5,
			wantLo:    0,
			wantHi:    1,
			wantFound: true,
		},
		{
			name:      "no reading inside the span",
			snap:      snapshot([2]float64{0, 1}, [2]float64{7200, 1}),
			from:      1800,
			to:        5400,
			wantFound: false,
		},
		{
			name:      "empty buffer",
			snap:      snapshot(),
			from:      0,
			to:        60,
			wantFound: false,
		},
		{
			name:      "end is exclusive",
			snap:      snapshot([2]float64{0, 3}, [2]float64{60, 3}),
			from:      -60,
			to:        0,
			wantFound: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kwh, lo, hi, ok := Usage(tt.snap, at(tt.from), at(tt.to))
			assert.Equal(t, tt.wantFound, ok)
			assert.InDelta(t, tt.wantKWh, kwh, 1e-9)
			if tt.wantFound {
				assert.Equal(t, tt.wantLo, lo)
				assert.Equal(t, tt.wantHi, hi)
			}
		})
	}
}

func TestQueryWithoutCostSetting(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockStore(ctrl)
	store.EXPECT().Get(gomock.Any(), settings.KeyKWhCost).Return("", settings.ErrNotFound)

	e, _ := newEngine(t, store)
	snap := snapshot([2]float64{0, 1}, [2]float64{3600, 2}, [2]float64{7200, 1})

	s, err := e.Query(context.Background(), snap, at(1800), at(5400))
	require.NoError(t, err)

	assert.True(t, s.HasReadings)
	assert.InDelta(t, 1.5, s.UsageKWh, 1e-9)
	assert.Nil(t, s.Cost)
	assert.Equal(t, at(0), s.From)
	assert.Equal(t, at(7200), s.To)
	assert.Equal(t, "Between 10/03/24 12:00.00 and 10/03/24 14:00.00\n you used 1.50000 units of electricity", s.Message())
}

func TestQueryWithCost(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockStore(ctrl)
	store.EXPECT().Get(gomock.Any(), settings.KeyKWhCost).Return(" 20 ", nil).Times(2)

	e, m := newEngine(t, store)
	snap := snapshot([2]float64{0, 1}, [2]float64{3600, 2}, [2]float64{7200, 1})

	s, err := e.Query(context.Background(), snap, at(1800), at(5400))
	require.NoError(t, err)
	require.NotNil(t, s.Cost)
	assert.Equal(t, "30.000", s.Cost.StringFixed(3))
	assert.Contains(t, s.Message(), "which cost you approximately 30.000p")

	again, err := e.Query(context.Background(), snap, at(1800), at(5400))
	require.NoError(t, err)
	assert.Equal(t, s, again)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SpanQueries.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SpanQueries.WithLabelValues("miss")))
}

func TestQueryEmptySpan(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockStore(ctrl)
	store.EXPECT().Get(gomock.Any(), settings.KeyKWhCost).Return("20", nil)

	e, _ := newEngine(t, store)
	snap := snapshot([2]float64{0, 1}, [2]float64{7200, 1})

	s, err := e.Query(context.Background(), snap, at(1800), at(5400))
	require.NoError(t, err)

	assert.False(t, s.HasReadings)
	assert.Zero(t, s.UsageKWh)
	assert.Nil(t, s.Cost)
	assert.Equal(t, at(1800), s.From)
	assert.Equal(t, at(5400), s.To)
	assert.Contains(t, s.Message(), "you used 0 units of electricity")
}

func TestQueryDegradesOnBadCost(t *testing.T) {
	for name, setup := range map[string]func(*mocks.MockStore){
		"store failure": func(s *mocks.MockStore) {
			s.EXPECT().Get(gomock.Any(), settings.KeyKWhCost).Return("", errors.New("connection reset"))
		},
		"not a number": func(s *mocks.MockStore) {
			s.EXPECT().Get(gomock.Any(), settings.KeyKWhCost).Return("twelve", nil)
		},
	} {
		t.Run(name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()
			store := mocks.NewMockStore(ctrl)
			setup(store)

			e, _ := newEngine(t, store)
			s, err := e.Query(context.Background(), snapshot([2]float64{0, 2}, [2]float64{60, 2}), at(0), at(60))
			require.NoError(t, err)
			assert.InDelta(t, 2.0/60, s.UsageKWh, 1e-9)
			assert.Nil(t, s.Cost)
		})
	}
}

func TestQueryRejectsReversedSpan(t *testing.T) {
	e, _ := newEngine(t, nil)

	_, err := e.Query(context.Background(), snapshot(), at(60), at(0))
	assert.ErrorIs(t, err, ErrInvalidSpan)
}

func TestQueryCacheTracksBufferGrowth(t *testing.T) {
	e, _ := newEngine(t, nil)
	snap := snapshot([2]float64{0, 1}, [2]float64{3600, 1})

	first, err := e.Query(context.Background(), snap, at(0), at(7200))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, first.UsageKWh, 1e-9)

	snap = snapshot([2]float64{0, 1}, [2]float64{3600, 1}, [2]float64{5400, 4})
	second, err := e.Query(context.Background(), snap, at(0), at(7200))
	require.NoError(t, err)
	assert.InDelta(t, 1.5, second.UsageKWh, 1e-9)
}

func TestQueryCacheTracksBufferReset(t *testing.T) {
	e, _ := newEngine(t, nil)
	snap := snapshot([2]float64{0, 1}, [2]float64{3600, 1})

	first, err := e.Query(context.Background(), snap, at(0), at(7200))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, first.UsageKWh, 1e-9)

	// same length after a reset, different contents
	snap = snapshot([2]float64{0, 10}, [2]float64{3600, 10})
	snap.Generation = 1
	second, err := e.Query(context.Background(), snap, at(0), at(7200))
	require.NoError(t, err)
	assert.InDelta(t, 10.0, second.UsageKWh, 1e-9)
}
