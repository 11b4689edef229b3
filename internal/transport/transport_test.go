package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/tejusbharadwaj/currentcost/internal/models"
)

type fakePort struct {
	mu      sync.Mutex
	chunks  [][]byte
	closed  bool
	readErr error
	timeout time.Duration
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("port closed")
	}
	if p.readErr != nil {
		return 0, p.readErr
	}
	if len(p.chunks) == 0 {
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
		p.mu.Lock()
		return 0, nil
	}
	n := copy(b, p.chunks[0])
	p.chunks = p.chunks[1:]
	return n, nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.timeout = t
	return nil
}

func newTestSerial(p *fakePort) (*Serial, *string, *serial.Mode) {
	s := NewSerial(SerialOptions{Port: "/dev/ttyUSB0"}, logrus.New())
	var opened string
	mode := &serial.Mode{}
	s.open = func(name string, m *serial.Mode) (port, error) {
		opened = name
		*mode = *m
		return p, nil
	}
	return s, &opened, mode
}

func TestSerialReadsLines(t *testing.T) {
	p := &fakePort{chunks: [][]byte{
		[]byte("<msg><ch1><watts>00"),
		[]byte("345</watts></ch1></msg>\r\n\r\n<msg>"),
		[]byte("second</msg>\n"),
	}}
	s, opened, mode := newTestSerial(p)
	ctx := context.Background()

	require.NoError(t, s.Connect(ctx, Target{}))
	assert.Equal(t, "/dev/ttyUSB0", *opened)
	assert.Equal(t, DefaultBaudRate, mode.BaudRate)
	assert.Equal(t, defaultSerialTimeout, p.timeout)

	line, err := s.ReadUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "<msg><ch1><watts>00345</watts></ch1></msg>", string(line))

	line, err = s.ReadUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "<msg>second</msg>", string(line))
}

func TestSerialTargetOverridesPort(t *testing.T) {
	s, opened, _ := newTestSerial(&fakePort{})

	require.NoError(t, s.Connect(context.Background(), Target{Address: "COM3"}))
	assert.Equal(t, "COM3", *opened)
}

func TestSerialReadHonoursContext(t *testing.T) {
	s, _, _ := newTestSerial(&fakePort{})
	require.NoError(t, s.Connect(context.Background(), Target{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.ReadUpdate(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSerialFailuresAreTransportErrors(t *testing.T) {
	p := &fakePort{readErr: errors.New("device unplugged")}
	s, _, _ := newTestSerial(p)
	require.NoError(t, s.Connect(context.Background(), Target{}))

	_, err := s.ReadUpdate(context.Background())

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, models.TransportSerial, terr.Kind)
	assert.Contains(t, err.Error(), "device unplugged")
}

func TestSerialDisconnectUnblocksRead(t *testing.T) {
	p := &fakePort{}
	s, _, _ := newTestSerial(p)
	require.NoError(t, s.Connect(context.Background(), Target{}))

	errs := make(chan error, 1)
	go func() {
		_, err := s.ReadUpdate(context.Background())
		errs <- err
	}()

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.Disconnect())

	select {
	case err := <-errs:
		var terr *Error
		assert.ErrorAs(t, err, &terr)
	case <-time.After(time.Second):
		t.Fatal("read still blocked after disconnect")
	}
	assert.NoError(t, s.Disconnect())
}

func TestSerialOpenFailure(t *testing.T) {
	s := NewSerial(SerialOptions{Port: "/dev/null0"}, logrus.New())
	s.open = func(string, *serial.Mode) (port, error) {
		return nil, errors.New("no such device")
	}

	err := s.Connect(context.Background(), Target{})

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "open /dev/null0", terr.Op)
}

func TestReadBeforeConnect(t *testing.T) {
	logger := logrus.New()
	clients := []Client{
		NewSerial(SerialOptions{}, logger),
		NewMQTT(MQTTOptions{}, logger),
		NewNATS(NATSOptions{}, logger),
	}
	for _, c := range clients {
		_, err := c.ReadUpdate(context.Background())
		assert.ErrorIs(t, err, ErrNotConnected)
		assert.NoError(t, c.Disconnect())
	}
}

func TestMQTTDeliveryAndConnectionLoss(t *testing.T) {
	m := NewMQTT(MQTTOptions{}, logrus.New())
	m.reset("meters/house")

	m.deliver([]byte("1234"))
	got, err := m.ReadUpdate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1234", string(got))

	m.connectionLost(errors.New("broker went away"))
	_, err = m.ReadUpdate(context.Background())
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, models.TransportMQTT, terr.Kind)
	assert.Contains(t, err.Error(), "broker went away")

	// later reads keep failing
	_, err = m.ReadUpdate(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNATSDeliveryAndClose(t *testing.T) {
	n := NewNATS(NATSOptions{}, logrus.New())
	msgs, _, _ := n.reset()

	msgs <- &nats.Msg{Subject: "currentcost.live", Data: []byte("<msg/>")}
	got, err := n.ReadUpdate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "<msg/>", string(got))

	require.NoError(t, n.Disconnect())
	_, err = n.ReadUpdate(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNew(t *testing.T) {
	logger := logrus.New()
	tests := []struct {
		kind    models.TransportKind
		want    interface{}
		wantErr bool
	}{
		{models.TransportSerial, &Serial{}, false},
		{models.TransportMQTT, &MQTT{}, false},
		{models.TransportNATS, &NATS{}, false},
		{models.TransportNone, nil, true},
		{"carrier-pigeon", nil, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			c, err := New(tt.kind, Options{}, logger)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownKind)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, c)
		})
	}
}
