package mqtt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/batteryctl/core/allocation"
	"github.com/kilianp07/batteryctl/core/control"
	"github.com/kilianp07/batteryctl/core/model"
)

// helper to generate self-signed cert
func generateCert(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := x509.Certificate{SerialNumber: big.NewInt(1), Subject: pkix.Name{CommonName: "test"}, NotBefore: time.Now(), NotAfter: time.Now().Add(time.Hour)}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	caFile = filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(certFile, certPEM, 0o600))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))
	require.NoError(t, os.WriteFile(caFile, certPEM, 0o600))
	return
}

func withMock(t *testing.T, mc *mockClient) {
	t.Helper()
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { mc.opts = o; return mc }
	t.Cleanup(func() {
		newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) }
	})
}

func TestLoadTLSConfig(t *testing.T) {
	cert, key, ca := generateCert(t)
	cfg := Config{UseTLS: true, ClientCert: cert, ClientKey: key, CABundle: ca}
	tlsCfg, err := cfg.LoadTLSConfig()
	require.NoError(t, err)
	assert.NotEmpty(t, tlsCfg.Certificates)
	assert.NotNil(t, tlsCfg.RootCAs)
}

func TestLoadTLSConfigMissingFiles(t *testing.T) {
	_, err := Config{UseTLS: true}.LoadTLSConfig()
	require.Error(t, err)

	_, err = NewClientOptions(Config{Broker: "ssl://localhost:8883", UseTLS: true, ClientCert: "nope", ClientKey: "nope", CABundle: "nope"})
	require.Error(t, err)
}

func TestNewClientOptionsAuth(t *testing.T) {
	opts, err := NewClientOptions(Config{Broker: "tcp://localhost:1883", ClientID: "id", Username: "u", Password: "p"})
	require.NoError(t, err)
	assert.Equal(t, "u", opts.Username)
	assert.Equal(t, "p", opts.Password)

	opts, err = NewClientOptions(Config{Broker: "tcp://localhost:1883", ClientID: "id", Username: "u", Password: "p", AuthMethod: "certificate"})
	require.NoError(t, err)
	assert.Empty(t, opts.Username)
}

func TestConfigDefaultsAndValidate(t *testing.T) {
	cfg := Config{BaseTopic: "home/batteries/"}
	cfg.SetDefaults()
	assert.Equal(t, "home/batteries", cfg.BaseTopic)
	assert.Contains(t, cfg.ClientID, "batteryctl-")
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 100, cfg.BackoffMS)
	assert.Equal(t, "home/batteries/status", cfg.StatusTopic())

	require.Error(t, Config{Enabled: true}.Validate())
	require.NoError(t, Config{Enabled: true, Broker: "tcp://b:1883"}.Validate())
}

func TestLWTConfigured(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", ClientID: "id", LWTQoS: 1})
	require.NoError(t, err)

	require.True(t, mc.opts.WillEnabled)
	assert.Equal(t, "batteryctl/status", mc.opts.WillTopic)
	assert.Equal(t, "offline", string(mc.opts.WillPayload))
	assert.True(t, mc.opts.WillRetained)

	require.Len(t, mc.published, 1)
	assert.Equal(t, "online", mc.published[0].payload)

	cli.Disconnect()
	require.Len(t, mc.published, 2)
	assert.Equal(t, "offline", mc.published[1].payload)
	assert.True(t, mc.disconnected)
}

func sampleReport() control.CycleReport {
	return control.CycleReport{
		CycleID:      "c-1",
		Started:      time.Unix(1700000000, 0),
		NetGridPower: 1200,
		Result: allocation.Result{
			AutoID: "a",
			Decisions: []model.AllocationDecision{
				{DeviceID: "a", TargetMode: model.ModeAuto},
				{DeviceID: "b", TargetMode: model.ModeManual, SetpointWatts: -600},
			},
		},
		Commands: []control.CommandOutcome{
			{DeviceID: "a", Mode: model.ModeAuto, Applied: true},
			{DeviceID: "b", Mode: model.ModeManual, SetpointWatts: -600, Error: "timeout"},
		},
	}
}

func TestReportPublishesCycleAndDecisions(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", BaseTopic: "bat", QoS: map[string]byte{"cycle": 1, "decision": 2}})
	require.NoError(t, err)
	mc.published = nil

	require.NoError(t, cli.Report(context.Background(), sampleReport()))
	require.Len(t, mc.published, 3)

	cycle := mc.published[0]
	assert.Equal(t, "bat/cycle", cycle.topic)
	assert.Equal(t, byte(1), cycle.qos)
	assert.False(t, cycle.retained)
	var rep control.CycleReport
	require.NoError(t, json.Unmarshal([]byte(cycle.payload), &rep))
	assert.Equal(t, "c-1", rep.CycleID)

	dec := mc.published[2]
	assert.Equal(t, "bat/device/b/decision", dec.topic)
	assert.Equal(t, byte(2), dec.qos)
	assert.True(t, dec.retained)
	var msg DecisionMessage
	require.NoError(t, json.Unmarshal([]byte(dec.payload), &msg))
	assert.Equal(t, "b", msg.DeviceID)
	assert.Equal(t, model.ModeManual, msg.Mode)
	assert.Equal(t, -600, msg.SetpointWatts)
	assert.False(t, msg.Applied)
	assert.Equal(t, "timeout", msg.Error)
}

func TestReportCanceledContext(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883"})
	require.NoError(t, err)
	mc.published = nil

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, cli.Report(ctx, sampleReport()), context.Canceled)
	assert.Empty(t, mc.published)
}

func TestRetryLogic(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", ClientID: "id", MaxRetries: 1, BackoffMS: 1})
	require.NoError(t, err)
	mc.published = nil
	mc.publishErrs = []error{errors.New("net fail"), nil}

	require.NoError(t, cli.publish("t", 0, false, []byte("x")))
	assert.Len(t, mc.published, 2)
}

func TestRetryExhausted(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", MaxRetries: 1, BackoffMS: 1})
	require.NoError(t, err)
	mc.published = nil
	fail := errors.New("net fail")
	mc.publishErrs = []error{fail, fail}

	err = cli.publish("t", 0, false, []byte("x"))
	require.ErrorIs(t, err, fail)
	assert.Len(t, mc.published, 2)
}

func TestVehicleSubscription(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", VehicleTopic: "ev/state", QoS: map[string]byte{"vehicle": 1}})
	require.NoError(t, err)
	require.Len(t, mc.subscribed, 1)
	assert.Equal(t, "ev/state", mc.subscribed[0].topic)
	assert.Equal(t, byte(1), mc.subscribed[0].qos)
	assert.Nil(t, cli.VehicleState())

	handler := mc.handlers["ev/state"]
	require.NotNil(t, handler)

	handler(mc, mockMessage{[]byte(`{"connected":true}`)})
	require.NotNil(t, cli.VehicleState())
	assert.True(t, cli.VehicleState().Connected)

	handler(mc, mockMessage{[]byte("false")})
	assert.False(t, cli.VehicleState().Connected)

	handler(mc, mockMessage{[]byte("garbage")})
	assert.False(t, cli.VehicleState().Connected)
}

func TestNoVehicleTopicNoSubscription(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	_, err := NewPahoClient(Config{Broker: "tcp://localhost:1883"})
	require.NoError(t, err)
	assert.Empty(t, mc.subscribed)
}

func TestConnectError(t *testing.T) {
	mc := &mockClient{connectErr: errors.New("refused")}
	withMock(t, mc)
	_, err := NewPahoClient(Config{Broker: "tcp://localhost:1883"})
	require.Error(t, err)
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

// mockClient implements pahoClient for tests
type mockClient struct {
	opts       *paho.ClientOptions
	subscribed []struct {
		topic string
		qos   byte
	}
	handlers     map[string]paho.MessageHandler
	published    []published
	publishErrs  []error
	connectErr   error
	disconnected bool
}

func (m *mockClient) IsConnected() bool { return true }
func (m *mockClient) Connect() paho.Token {
	if m.connectErr != nil {
		return &dummyToken{err: m.connectErr}
	}
	if m.opts != nil && m.opts.OnConnect != nil {
		m.opts.OnConnect(m)
	}
	return &dummyToken{}
}
func (m *mockClient) Disconnect(uint) { m.disconnected = true }
func (m *mockClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	var body string
	switch p := payload.(type) {
	case string:
		body = p
	case []byte:
		body = string(p)
	}
	m.published = append(m.published, published{topic, qos, retained, body})
	if len(m.publishErrs) > 0 {
		err := m.publishErrs[0]
		m.publishErrs = m.publishErrs[1:]
		return &dummyToken{err: err}
	}
	return &dummyToken{}
}
func (m *mockClient) Subscribe(topic string, qos byte, h paho.MessageHandler) paho.Token {
	m.subscribed = append(m.subscribed, struct {
		topic string
		qos   byte
	}{topic, qos})
	if m.handlers == nil {
		m.handlers = map[string]paho.MessageHandler{}
	}
	m.handlers[topic] = h
	return &dummyToken{}
}
func (m *mockClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return &dummyToken{}
}
func (m *mockClient) Unsubscribe(...string) paho.Token        { return &dummyToken{} }
func (m *mockClient) AddRoute(string, paho.MessageHandler)    {}
func (m *mockClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }
func (m *mockClient) IsConnectionOpen() bool                  { return true }

type dummyToken struct{ err error }

func (d dummyToken) Wait() bool                     { return true }
func (d dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d dummyToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d dummyToken) Error() error                   { return d.err }

type mockMessage struct{ p []byte }

func (m mockMessage) Duplicate() bool   { return false }
func (m mockMessage) Qos() byte         { return 0 }
func (m mockMessage) Retained() bool    { return false }
func (m mockMessage) Topic() string     { return "" }
func (m mockMessage) MessageID() uint16 { return 0 }
func (m mockMessage) Payload() []byte   { return m.p }
func (m mockMessage) Ack()              {}
