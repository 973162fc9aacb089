package broker

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"mqtt-call/protocol"
)

// PahoConfig configures the MQTT connection.
type PahoConfig struct {
	URL                  string // e.g. tcp://localhost:1883, ssl://host:8883, ws://host/mqtt
	ClientID             string
	Username             string
	Password             string
	KeepAlive            time.Duration
	ConnectTimeout       time.Duration
	MaxReconnectInterval time.Duration
	QueueLen             int
	TLS                  *tls.Config
	Debug                bool
}

// Paho is a Broker backed by the Eclipse Paho MQTT client. Paho owns the
// reconnect loop; each successful (re)connect raises Up and each lost
// connection raises Down.
type Paho struct {
	client   mqtt.Client
	messages chan Message
	up, down *Signal
	done     chan struct{}
	stop     sync.Once
	logger   *zap.Logger
}

// NewPaho builds the client without connecting.
func NewPaho(cfg PahoConfig, logger *zap.Logger) *Paho {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueueLen < 1 {
		cfg.QueueLen = 1
	}
	p := &Paho{
		messages: make(chan Message, cfg.QueueLen),
		up:       NewSignal(),
		down:     NewSignal(),
		done:     make(chan struct{}),
		logger:   logger,
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(true).
		SetDefaultPublishHandler(p.onMessage).
		SetOnConnectHandler(func(mqtt.Client) {
			p.logger.Info("broker connected", zap.String("url", cfg.URL))
			p.up.Raise()
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			p.logger.Warn("broker connection lost", zap.Error(err))
			p.down.Raise()
		}).
		SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
			p.logger.Debug("broker reconnecting")
		})
	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	if cfg.MaxReconnectInterval > 0 {
		opts.SetMaxReconnectInterval(cfg.MaxReconnectInterval)
	}
	if cfg.TLS != nil {
		opts.SetTLSConfig(cfg.TLS)
	}

	SetPahoLogger(logger, cfg.Debug)
	p.client = mqtt.NewClient(opts)
	return p
}

// SetPahoLogger routes Paho's package-level loggers through zap. Paho's debug
// output is only enabled when debug is set.
func SetPahoLogger(logger *zap.Logger, debug bool) {
	named := logger.Named("paho")
	mqtt.ERROR = zap.NewStdLog(named)
	mqtt.CRITICAL = zap.NewStdLog(named)
	if debug {
		mqtt.WARN = zap.NewStdLog(named)
		mqtt.DEBUG = zap.NewStdLog(named)
	}
}

func (p *Paho) onMessage(_ mqtt.Client, m mqtt.Message) {
	msg := Message{Topic: m.Topic(), Payload: m.Payload(), Retained: m.Retained()}
	select {
	case p.messages <- msg:
	case <-p.done:
	}
}

func (p *Paho) Connect(ctx context.Context) error {
	if err := wait(ctx, p.client.Connect()); err != nil {
		return errors.Annotate(err, "mqtt connect")
	}
	return nil
}

func (p *Paho) Disconnect() {
	p.stop.Do(func() {
		close(p.done)
		p.client.Disconnect(250)
	})
}

func (p *Paho) Messages() <-chan Message {
	return p.messages
}

func (p *Paho) Publish(ctx context.Context, topic string, payload []byte, qos protocol.QoS) error {
	if !p.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	return errors.Annotatef(wait(ctx, p.client.Publish(topic, byte(qos), false, payload)), "publish %s", topic)
}

// Subscribe routes matching messages to the shared Messages stream.
func (p *Paho) Subscribe(ctx context.Context, topic string, qos protocol.QoS) error {
	return errors.Annotatef(wait(ctx, p.client.Subscribe(topic, byte(qos), nil)), "subscribe %s", topic)
}

func (p *Paho) Up() <-chan struct{}   { return p.up.C() }
func (p *Paho) Down() <-chan struct{} { return p.down.C() }

func wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
