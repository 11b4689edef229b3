package gridfeed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/tejusbharadwaj/currentcost/internal/metrics"
	"github.com/tejusbharadwaj/currentcost/internal/models"
)

const fuelInstDoc = `<?xml version="1.0"?>
<GENERATION_BY_FUEL_TYPE_TABLE>
<INST AT="2011-03-04 21:30:00" TOTAL="41021">
<FUEL TYPE="CCGT" IC="N" VAL="14042" PCT="34.2"/>
<FUEL TYPE="COAL" IC="N" VAL="15327" PCT="37.4"/>
<FUEL TYPE="NUCLEAR" IC="N" VAL="7455" PCT="18.2"/>
<FUEL TYPE="WIND" IC="N" VAL="1302" PCT="3.2"/>
<FUEL TYPE="OTHER" IC="N" VAL="600" PCT="1.5"/>
<FUEL TYPE="BIOMASS" IC="N" VAL="300" PCT="0.7"/>
<FUEL TYPE="INTFR" IC="Y" VAL="1995" PCT="4.9"/>
</INST>
</GENERATION_BY_FUEL_TYPE_TABLE>`

func testDeps() (*logrus.Logger, *metrics.Metrics) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger, metrics.New(prometheus.NewRegistry())
}

func TestDownloader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.NotEmpty(t, r.Header.Get("User-Agent"))
			_, _ = w.Write([]byte("payload"))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	d := NewDownloader(server.Client(), time.Second)

	body, err := d.Get(context.Background(), server.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))

	_, err = d.Get(context.Background(), server.URL+"/down")
	assert.ErrorIs(t, err, ErrStatus)
	assert.Contains(t, err.Error(), "503")

	_, err = d.Get(context.Background(), "http://\x7f")
	assert.ErrorIs(t, err, ErrRequest)
}

func TestJSONDemandFeedParse(t *testing.T) {
	tests := []struct {
		name       string
		doc        string
		demandPath string
		freqPath   string
		wantDemand float64
		wantFreq   float64
		wantErr    bool
	}{
		{
			name:       "flat numbers",
			doc:        `{"demand": 35120, "frequency": 50.02}`,
			demandPath: "$.demand",
			freqPath:   "$.frequency",
			wantDemand: 35120,
			wantFreq:   50.02,
		},
		{
			name:       "numbers as strings",
			doc:        `{"system": {"demand": "34000", "frequency": " 49.95 "}}`,
			demandPath: "$.system.demand",
			freqPath:   "$.system.frequency",
			wantDemand: 34000,
			wantFreq:   49.95,
		},
		{
			name:       "wildcard keeps first match",
			doc:        `{"rows": [{"mw": 30100, "hz": 50.1}, {"mw": 30200, "hz": 50.0}]}`,
			demandPath: "$.rows[*].mw",
			freqPath:   "$.rows[*].hz",
			wantDemand: 30100,
			wantFreq:   50.1,
		},
		{
			name:       "missing key",
			doc:        `{"demand": 35120}`,
			demandPath: "$.demand",
			freqPath:   "$.frequency",
			wantErr:    true,
		},
		{
			name:       "not json",
			doc:        `<html>maintenance</html>`,
			demandPath: "$.demand",
			freqPath:   "$.frequency",
			wantErr:    true,
		},
		{
			name:       "not a number",
			doc:        `{"demand": "high", "frequency": 50}`,
			demandPath: "$.demand",
			freqPath:   "$.frequency",
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feed := NewJSONDemandFeed("", tt.demandPath, tt.freqPath, nil)
			demand, freq, err := feed.Parse([]byte(tt.doc))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrParse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDemand, demand)
			assert.Equal(t, tt.wantFreq, freq)
		})
	}
}

func TestFuelInstFeedParse(t *testing.T) {
	feed := NewFuelInstFeed("", nil)

	mix, err := feed.Parse([]byte(fuelInstDoc))
	require.NoError(t, err)

	assert.InDelta(t, 34.2, mix[models.SourceCCGT], 1e-9)
	assert.InDelta(t, 37.4, mix[models.SourceCoal], 1e-9)
	assert.InDelta(t, 2.2, mix[models.SourceOther], 1e-9)
	assert.InDelta(t, 4.9, mix[models.SourceINTFR], 1e-9)
	_, hasOil := mix[models.SourceOil]
	assert.False(t, hasOil)

	for _, bad := range []string{
		`<INST></INST>`,
		`<INST><FUEL TYPE="CCGT" PCT="lots"/></INST>`,
		`not xml at all`,
	} {
		_, err := feed.Parse([]byte(bad))
		assert.ErrorIs(t, err, ErrParse, bad)
	}
}

func TestPollerStopWakesWaitingLoop(t *testing.T) {
	logger, m := testDeps()
	var polls atomic.Int32
	p := NewPoller("test", func(context.Context) error {
		polls.Add(1)
		return nil
	}, logger, m, WithInterval(time.Hour))

	require.True(t, p.Start(context.Background()))
	assert.False(t, p.Start(context.Background()))
	assert.Eventually(t, func() bool { return polls.Load() == 1 }, time.Second, time.Millisecond)
	assert.True(t, p.Running())

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stop did not interrupt the interval wait")
	}
	assert.False(t, p.Running())

	// restartable
	require.True(t, p.Start(context.Background()))
	assert.Eventually(t, func() bool { return polls.Load() == 2 }, time.Second, time.Millisecond)
	p.Stop()
	p.Stop()
}

func TestPollerContinuesAfterErrors(t *testing.T) {
	logger, m := testDeps()
	var polls atomic.Int32
	p := NewPoller("flaky", func(context.Context) error {
		switch polls.Add(1) {
		case 1:
			return errors.New("connection refused")
		case 2:
			return ErrParse
		}
		return nil
	}, logger, m, WithInterval(time.Millisecond))

	p.Start(context.Background())
	assert.Eventually(t, func() bool { return polls.Load() >= 3 }, time.Second, time.Millisecond)
	p.Stop()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeedPolls.WithLabelValues("flaky", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeedPolls.WithLabelValues("flaky", "parse_error")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.FeedPolls.WithLabelValues("flaky", "ok")), 1.0)
}

func TestPollerLimiterThrottles(t *testing.T) {
	logger, m := testDeps()
	var polls atomic.Int32
	p := NewPoller("limited", func(context.Context) error {
		polls.Add(1)
		return nil
	}, logger, m, WithLimiter(rate.NewLimiter(rate.Every(time.Hour), 1)))

	p.Start(context.Background())
	assert.Eventually(t, func() bool { return polls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), polls.Load())

	p.Stop()
	assert.False(t, p.Running())
}

func TestDemandPollerPublishes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"demand": 36500, "frequency": 49.9}`))
	}))
	defer server.Close()

	logger, m := testDeps()
	feed := NewJSONDemandFeed(server.URL, "$.demand", "$.frequency", NewDownloader(server.Client(), time.Second))

	var mu sync.Mutex
	var got [][2]float64
	p := NewDemandPoller(feed, func(demand, freq float64) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, [2]float64{demand, freq})
	}, logger, m, WithInterval(time.Hour))

	p.Start(context.Background())
	defer p.Stop()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, [2]float64{36500, 49.9}, got[0])
	mu.Unlock()
}

func TestMixPollerKeepsLastGoodMix(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(fuelInstDoc))
			return
		}
		_, _ = w.Write([]byte("<INST>"))
	}))
	defer server.Close()

	logger, m := testDeps()
	feed := NewFuelInstFeed(server.URL, NewDownloader(server.Client(), time.Second))

	var published atomic.Int32
	p := NewMixPoller(feed, func(models.EnergyMix) { published.Add(1) }, logger, m, WithInterval(time.Millisecond))
	p.Start(context.Background())
	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, time.Millisecond)
	p.Stop()

	assert.Equal(t, int32(1), published.Load())
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.FeedPolls.WithLabelValues("generation", "parse_error")), 2.0)
}
