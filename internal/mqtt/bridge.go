//go:build !no_mqtt

// Package mqtt republishes the location hierarchy and console events to an MQTT broker.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"device-console/internal/console"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Bridge mirrors the console to MQTT: a retained hierarchy snapshot, one topic
// per event type, and a reload command topic.
type Bridge struct {
	client pahomqtt.Client
	con    *console.Console
	prefix string
	logger *slog.Logger
	unsub  func()
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(con *console.Console, cfg Config, logger *slog.Logger) (*Bridge, error) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		con:    con,
		prefix: cfg.TopicPrefix,
		logger: logger.With("component", "mqtt"),
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "device-console"
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(bridgeStateTopic(cfg.TopicPrefix), "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.publishSnapshot()
			b.subscribeReload()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	// The connect handler fires from paho's goroutine and needs b.client.
	b.client = client
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		cancel()
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to console events and begins publishing.
func (b *Bridge) Start() {
	b.unsub = b.con.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

// handleEvent runs after the console released its lock, so reading the tree is safe.
func (b *Bridge) handleEvent(ev console.Event) {
	b.send(buildEvent(b.prefix, ev, b.now()))
	if changesHierarchy(ev.Type) {
		b.publishSnapshot()
	}
}

func (b *Bridge) publishBridgeState(state string) {
	b.send(message{Topic: bridgeStateTopic(b.prefix), Payload: []byte(state), Retained: true})
}

func (b *Bridge) publishSnapshot() {
	b.send(buildSnapshot(b.prefix, b.con.Tree(), b.now()))
}

// subscribeReload lets other services ask for a fresh pull of the hierarchy.
func (b *Bridge) subscribeReload() {
	topic := reloadTopic(b.prefix)
	token := b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, _ pahomqtt.Message) {
		go b.reload()
	})
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT subscribe timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT subscribe error", "topic", topic, "err", err)
		}
	}()
}

func (b *Bridge) reload() {
	ctx, cancel := context.WithTimeout(b.ctx, time.Minute)
	defer cancel()
	b.logger.Info("reload requested over MQTT")
	if err := b.con.Reload(ctx); err != nil {
		b.logger.Warn("MQTT reload failed", "err", err)
	}
}

func (b *Bridge) send(msg message) {
	token := b.client.Publish(msg.Topic, 1, msg.Retained, msg.Payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", msg.Topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", msg.Topic, "err", err)
		}
	}()
}
