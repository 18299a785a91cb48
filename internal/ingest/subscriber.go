package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"setcoach/internal/coach"
)

// connectWarnAfter is how long the first connect may take before a warning.
var connectWarnAfter = 5 * time.Second

// Pusher accepts readings for a set. *coach.Hub implements it.
type Pusher interface {
	Push(ctx context.Context, setID string, r coach.Reading) error
}

// Config holds the broker connection settings.
type Config struct {
	Broker   string
	ClientID string
	Topic    string
	Codec    string
	QoS      byte
}

// Subscriber listens on the samples topic and pushes every decoded
// reading into the hub.
type Subscriber struct {
	cfg    Config
	target Pusher
	logger *slog.Logger
	client mqtt.Client

	mu    sync.RWMutex
	stats Stats
}

// Stats contains subscriber statistics
type Stats struct {
	Connected    bool
	Received     uint64
	Pushed       uint64
	DecodeErrors uint64
	UnknownSets  uint64
	Rejected     uint64
}

// NewSubscriber creates a subscriber; call Run to connect.
func NewSubscriber(cfg Config, target Pusher, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{cfg: cfg, target: target, logger: logger.With("component", "mqtt")}
}

// Run connects to the broker and blocks until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(s.cfg.Broker))
	opts.SetClientID(s.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	// подписка в OnConnect, чтобы она восстанавливалась после реконнекта
	opts.OnConnect = func(c mqtt.Client) {
		s.setConnected(true)
		token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, func(_ mqtt.Client, m mqtt.Message) {
			if err := s.process(ctx, m.Topic(), m.Payload()); err != nil {
				s.logger.Debug("sample dropped", "topic", m.Topic(), "error", err)
			}
		})
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			s.logger.Error("mqtt subscribe failed", "topic", s.cfg.Topic, "error", token.Error())
			return
		}
		s.logger.Info("mqtt subscribed", "broker", s.cfg.Broker, "topic", s.cfg.Topic, "codec", s.cfg.Codec)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		s.setConnected(false)
		s.logger.Warn("mqtt connection lost, will auto-reconnect", "error", err, "broker", s.cfg.Broker)
	}

	s.client = mqtt.NewClient(opts)
	s.logger.Info("connecting to mqtt broker", "broker", s.cfg.Broker)

	connected, err := s.connect(ctx)
	if err != nil {
		return err
	}
	if connected {
		<-ctx.Done()
	}
	s.client.Disconnect(250)
	s.setConnected(false)
	st := s.Stats()
	s.logger.Info("mqtt disconnected", "received", st.Received, "pushed", st.Pushed, "decode_errors", st.DecodeErrors, "unknown_sets", st.UnknownSets)
	return nil
}

// connect waits for the first connection. The client keeps retrying in the
// background, so a slow broker only logs a warning; false means ctx ended first.
func (s *Subscriber) connect(ctx context.Context) (bool, error) {
	token := s.client.Connect()
	slow := time.NewTimer(connectWarnAfter)
	defer slow.Stop()

	for {
		select {
		case <-token.Done():
			if err := token.Error(); err != nil {
				s.client.Disconnect(0)
				return false, fmt.Errorf("ingest: mqtt connection failed: %w", err)
			}
			return true, nil
		case <-slow.C:
			s.logger.Warn("mqtt broker unreachable, still retrying", "broker", s.cfg.Broker)
		case <-ctx.Done():
			return false, nil
		}
	}
}

func (s *Subscriber) process(ctx context.Context, topic string, payload []byte) error {
	s.mu.Lock()
	s.stats.Received++
	s.mu.Unlock()

	sample, err := Decode(s.cfg.Codec, payload)
	if err != nil {
		s.count(func(st *Stats) { st.DecodeErrors++ })
		return err
	}
	setID := sample.SetID
	if setID == "" {
		setID = setIDFromTopic(s.cfg.Topic, topic)
	}
	if setID == "" {
		s.count(func(st *Stats) { st.DecodeErrors++ })
		return errors.New("ingest: sample without set id")
	}

	if err := s.target.Push(ctx, setID, sample.Reading()); err != nil {
		if errors.Is(err, coach.ErrSetNotFound) {
			s.count(func(st *Stats) { st.UnknownSets++ })
		} else {
			s.count(func(st *Stats) { st.Rejected++ })
		}
		return fmt.Errorf("ingest: push %s: %w", setID, err)
	}
	s.count(func(st *Stats) { st.Pushed++ })
	return nil
}

func (s *Subscriber) count(f func(*Stats)) {
	s.mu.Lock()
	f(&s.stats)
	s.mu.Unlock()
}

func (s *Subscriber) setConnected(v bool) {
	s.count(func(st *Stats) { st.Connected = v })
}

// Stats returns subscriber statistics
func (s *Subscriber) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}
