package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/dimmer-regulator/internal/fault"
)

// DefaultBufferSize is how many messages are held while disconnected.
const DefaultBufferSize = 64

// Options configures a RealPublisher.
type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	BufferSize  int

	// OnCommand receives every parsed command. Optional.
	OnCommand func(Command)
}

// RealPublisher publishes to an actual MQTT broker. Messages published
// while the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client    paho.Client
	topics    Topics
	onCommand func(Command)

	mu         sync.Mutex
	connected  bool
	everOnline bool
	pending    *ring[message]
}

// NewRealPublisher starts connecting to the broker. It gives up waiting
// after 10 s and keeps retrying in the background.
func NewRealPublisher(opts Options) (*RealPublisher, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	p := &RealPublisher{
		topics:    NewTopics(opts.TopicPrefix),
		onCommand: opts.OnCommand,
		pending:   newRing[message](opts.BufferSize),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	o := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(p.topics.System, string(will), 1, true).
		SetOnConnectHandler(p.handleConnect).
		SetConnectionLostHandler(p.handleConnectionLost)

	p.client = paho.NewClient(o)
	token := p.client.Connect()
	if token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("connect to broker: %w", token.Error())
	}
	return p, nil
}

func (p *RealPublisher) handleConnect(c paho.Client) {
	p.mu.Lock()
	p.connected = true
	reconnect := p.everOnline
	p.everOnline = true
	dropped := p.pending.dropped
	backlog := p.pending.drain()
	p.mu.Unlock()

	log.Printf("mqtt: connected, replaying %d buffered messages (%d dropped)", len(backlog), dropped)

	if token := c.Subscribe(p.topics.Command, 1, p.handleCommand); token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("mqtt: subscribe %s: %v", p.topics.Command, token.Error())
	}

	for _, m := range backlog {
		if err := p.send(m); err != nil {
			log.Printf("mqtt: replay to %s: %v", m.topic, err)
		}
	}

	if reconnect {
		if err := p.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"}); err != nil {
			log.Printf("mqtt: publish reconnect event: %v", err)
		}
	}
}

func (p *RealPublisher) handleConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	log.Printf("mqtt: connection lost: %v", err)
}

func (p *RealPublisher) handleCommand(_ paho.Client, msg paho.Message) {
	cmd, err := ParseCommand(msg.Payload())
	if err != nil {
		log.Printf("mqtt: %s: %v", msg.Topic(), err)
		return
	}
	if p.onCommand != nil {
		p.onCommand(cmd)
	}
}

// publish sends m now or buffers it while offline.
func (p *RealPublisher) publish(m message) error {
	p.mu.Lock()
	if !p.connected {
		if !p.pending.push(m) && p.pending.dropped == 1 {
			log.Printf("mqtt: buffer full (%d messages), dropping oldest", len(p.pending.buf))
		}
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.send(m)
}

func (p *RealPublisher) send(m message) error {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

// Report publishes a fault report with QoS 1.
func (p *RealPublisher) Report(r fault.Report) error {
	payload, err := FormatFaultPayload(r, time.Now())
	if err != nil {
		return fmt.Errorf("format fault payload: %w", err)
	}
	return p.publish(message{topic: p.topics.Faults, payload: payload, qos: 1})
}

// PublishTelemetry publishes the retained channel snapshot with QoS 0.
func (p *RealPublisher) PublishTelemetry(payload []byte) error {
	return p.publish(message{topic: p.topics.Telemetry, payload: payload, retained: true})
}

// PublishSystem publishes a lifecycle event with QoS 1.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(message{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained})
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
