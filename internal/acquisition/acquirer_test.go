package acquisition

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejusbharadwaj/currentcost/internal/metrics"
	"github.com/tejusbharadwaj/currentcost/internal/models"
	"github.com/tejusbharadwaj/currentcost/internal/transport"
	"github.com/tejusbharadwaj/currentcost/internal/transport/transporttest"
)

type recordingSink struct {
	mu       sync.Mutex
	readings []float64
}

func (s *recordingSink) UpdateGraph(kw float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, kw)
}

func (s *recordingSink) got() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.readings...)
}

type errorRecorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *errorRecorder) record(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *errorRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func testDeps() (*logrus.Logger, *metrics.Metrics) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger, metrics.New(prometheus.NewRegistry())
}

func waitDone(t *testing.T, a *Acquirer) {
	t.Helper()
	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("acquirer did not finish")
	}
}

func TestAcquirerDeliversParsedReadings(t *testing.T) {
	logger, m := testDeps()
	client := transporttest.NewClient(models.TransportSerial)
	sink := &recordingSink{}

	a := Start(context.Background(), Config{
		Kind:   models.TransportSerial,
		Client: client,
		Target: transport.Target{Address: "/dev/ttyUSB0"},
		Sink:   sink,
	}, logger, m)

	client.Send("<msg><ch1><watts>00345</watts></ch1></msg>")
	client.Send("garbage<")
	client.Send("1500")

	assert.Eventually(t, func() bool { return len(sink.got()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.InDeltaSlice(t, []float64{0.345, 1.5}, sink.got(), 1e-9)
	assert.Equal(t, "/dev/ttyUSB0", client.Target().Address)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ParseErrors.WithLabelValues("serial")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReadingsIngested.WithLabelValues("serial")))

	a.Stop()
	_, disconnects := client.Calls()
	assert.Equal(t, 1, disconnects)
}

func TestAcquirerTransportFailureReportsOnce(t *testing.T) {
	logger, m := testDeps()
	client := transporttest.NewClient(models.TransportMQTT)
	errs := &errorRecorder{}

	a := Start(context.Background(), Config{
		Kind:    models.TransportMQTT,
		Client:  client,
		Sink:    &recordingSink{},
		OnError: errs.record,
	}, logger, m)

	client.Fail(errors.New("broker unreachable"))
	waitDone(t, a)

	require.Eventually(t, func() bool { return len(errs.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, errs.all()[0], "broker unreachable")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransportErrors.WithLabelValues("mqtt")))

	a.Stop()
	a.Stop()
	assert.Len(t, errs.all(), 1)
}

func TestAcquirerOnErrorMayStopItself(t *testing.T) {
	logger, m := testDeps()
	client := transporttest.NewClient(models.TransportNATS)
	stopped := make(chan struct{})

	var a *Acquirer
	ready := make(chan struct{})
	a = Start(context.Background(), Config{
		Kind:   models.TransportNATS,
		Client: client,
		Sink:   &recordingSink{},
		OnError: func(string) {
			<-ready
			a.Stop()
			close(stopped)
		},
	}, logger, m)
	close(ready)

	client.Fail(errors.New("closed by server"))

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stopping from the error callback deadlocked")
	}
}

func TestAcquirerConnectFailure(t *testing.T) {
	logger, m := testDeps()
	client := transporttest.NewClient(models.TransportSerial)
	client.ConnectErr = &transport.Error{Kind: models.TransportSerial, Op: "open COM9", Err: errors.New("access denied")}
	errs := &errorRecorder{}

	a := Start(context.Background(), Config{
		Kind:    models.TransportSerial,
		Client:  client,
		Sink:    &recordingSink{},
		OnError: errs.record,
	}, logger, m)
	waitDone(t, a)

	assert.Eventually(t, func() bool { return len(errs.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, errs.all()[0], "access denied")
}

func TestAcquirerStopDoesNotReportError(t *testing.T) {
	logger, m := testDeps()
	client := transporttest.NewClient(models.TransportSerial)
	errs := &errorRecorder{}

	a := Start(context.Background(), Config{
		Kind:    models.TransportSerial,
		Client:  client,
		Sink:    &recordingSink{},
		OnError: errs.record,
	}, logger, m)

	a.Stop()

	assert.True(t, a.Finished())
	assert.Empty(t, errs.all())
}

func TestRegistryKeepsOnePerKind(t *testing.T) {
	logger, m := testDeps()
	r := NewRegistry(logger, m)
	first := transporttest.NewClient(models.TransportSerial)
	second := transporttest.NewClient(models.TransportSerial)
	other := transporttest.NewClient(models.TransportMQTT)
	sink := &recordingSink{}

	a1 := r.Start(context.Background(), Config{Kind: models.TransportSerial, Client: first, Sink: sink})
	r.Start(context.Background(), Config{Kind: models.TransportMQTT, Client: other, Sink: sink})
	r.Start(context.Background(), Config{Kind: models.TransportSerial, Client: second, Sink: sink})

	assert.True(t, a1.Finished())
	_, disconnects := first.Calls()
	assert.Equal(t, 1, disconnects)
	assert.True(t, r.Active(models.TransportSerial))
	assert.True(t, r.Active(models.TransportMQTT))

	r.Stop(models.TransportMQTT)
	assert.False(t, r.Active(models.TransportMQTT))
	assert.True(t, r.Active(models.TransportSerial))

	r.StopAll()
	assert.False(t, r.Active(models.TransportSerial))
	_, disconnects = second.Calls()
	assert.Equal(t, 1, disconnects)

	r.Stop(models.TransportNATS)
}
