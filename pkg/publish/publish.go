// Package publish pushes a discovered mapping to the embedded decoder over
// MQTT. Messages are retained so a decoder that boots later still gets them.
package publish

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"
	"github.com/pterm/pterm"

	"github.com/strato3003/jimny/pkg/export"
	"github.com/strato3003/jimny/pkg/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Options configures the broker connection
type Options struct {
	Broker   string // host:port or a full tcp:// / ssl:// URL
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      byte
	Timeout  time.Duration
}

// Message is one retained publication
type Message struct {
	Topic   string
	Payload []byte
}

// Publisher is the part of an MQTT client used here
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Messages builds the publications for an assignment: the whole document at
// <topic>/mapping and one entry per field at <topic>/field/<name>. A field
// without a fit gets an empty payload, which clears its retained message.
func Messages(topic string, a *models.Assignment) ([]Message, error) {
	topic = strings.TrimRight(topic, "/")
	doc := export.FromAssignment(a)

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal mapping: %w", err)
	}
	out := []Message{{Topic: topic + "/mapping", Payload: data}}

	for _, f := range a.Fields {
		m := Message{Topic: topic + "/field/" + string(f), Payload: []byte{}}
		if e, ok := doc[string(f)]; ok {
			if m.Payload, err = json.Marshal(e); err != nil {
				return nil, fmt.Errorf("marshal %s: %w", f, err)
			}
		}
		out = append(out, m)
	}
	return out, nil
}

// Publish sends messages as retained and waits for each token
func Publish(p Publisher, msgs []Message, qos byte, timeout time.Duration) error {
	var errs []error
	for _, m := range msgs {
		token := p.Publish(m.Topic, qos, true, m.Payload)
		if !token.WaitTimeout(timeout) {
			errs = append(errs, fmt.Errorf("%s: publish timed out", m.Topic))
			continue
		}
		if err := token.Error(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.Topic, err))
		}
	}
	return errors.Join(errs...)
}

// Client publishes mappings to one broker
type Client struct {
	opts   Options
	client mqtt.Client
	logger *pterm.Logger
}

// BrokerURL adds the tcp scheme to a bare host:port
func BrokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	if !strings.Contains(broker, ":") {
		broker += ":1883"
	}
	return "tcp://" + broker
}

// Connect establishes the broker connection
func Connect(opts Options, logger *pterm.Logger) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.ClientID == "" {
		opts.ClientID = fmt.Sprintf("jimny-%d", time.Now().Unix())
	}

	mo := mqtt.NewClientOptions()
	brokerURL := BrokerURL(opts.Broker)
	mo.AddBroker(brokerURL)
	mo.SetClientID(opts.ClientID)
	if opts.Username != "" {
		mo.SetUsername(opts.Username)
		mo.SetPassword(opts.Password)
	}
	mo.SetConnectTimeout(opts.Timeout)
	mo.SetAutoReconnect(false)

	c := &Client{opts: opts, client: mqtt.NewClient(mo), logger: logger}
	if logger != nil {
		logger.Info("connecting to MQTT broker", logger.Args("broker", brokerURL, "client_id", opts.ClientID))
	}

	token := c.client.Connect()
	if !token.WaitTimeout(opts.Timeout) {
		return nil, fmt.Errorf("failed to connect to %s: timed out", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", brokerURL, err)
	}
	return c, nil
}

// PublishMapping publishes an assignment under the configured topic
func (c *Client) PublishMapping(a *models.Assignment) error {
	msgs, err := Messages(c.opts.Topic, a)
	if err != nil {
		return err
	}
	if err := Publish(c.client, msgs, c.opts.QoS, c.opts.Timeout); err != nil {
		return err
	}
	if c.logger != nil {
		c.logger.Info("mapping published", c.logger.Args("topic", c.opts.Topic, "messages", len(msgs)))
	}
	return nil
}

// Close disconnects, waiting up to 250ms for in-flight messages
func (c *Client) Close() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
}
