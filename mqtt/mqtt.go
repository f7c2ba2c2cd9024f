package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

const (
	timeout = 10 * time.Second

	online  = "online"
	offline = "offline"
)

type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// Retained "online"/"offline" is published here, empty to disable.
	AvailabilityTopic string
}

// Client wraps a connected paho client, waiting for every token with a timeout.
type Client struct {
	mqtt.Client
	availabilityTopic string
}

// Connect connects to the broker. onConnect is called after every
// (re)connect, which is where subscriptions should be (re)made.
func Connect(o Options, onConnect func(*Client)) (*Client, error) {
	c := &Client{availabilityTopic: o.AvailabilityTopic}

	opts := mqtt.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetUsername(o.Username).
		SetPassword(o.Password).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithError(err).Warn("lost connection to mqtt")
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			log.WithField("broker", o.Broker).Info("connected to mqtt")
			if onConnect != nil {
				// paho runs this on its own goroutine, publishing from here is fine.
				onConnect(c)
			}
		})
	if o.AvailabilityTopic != "" {
		opts.SetWill(o.AvailabilityTopic, offline, 1, true)
	}

	c.Client = mqtt.NewClient(opts)

	token := c.Client.Connect()
	completed := token.WaitTimeout(timeout)
	if !completed {
		return nil, fmt.Errorf("timeout connecting to mqtt")
	}
	if err := token.Error(); err != nil {
		return nil, err
	}
	return c, nil
}

// Announce publishes the online state to the availability topic.
func (c *Client) Announce() error {
	if c.availabilityTopic == "" {
		return nil
	}
	return c.Publish(c.availabilityTopic, 1, true, online)
}

// Close publishes the offline state and disconnects.
func (c *Client) Close() {
	if c.availabilityTopic != "" {
		if err := c.Publish(c.availabilityTopic, 1, true, offline); err != nil {
			log.WithError(err).Warn("unable to publish offline state")
		}
	}
	c.Client.Disconnect(250)
}

// Publish publishes a given value to the the broker at the given topic.
// Non-strings are converted to their string representations.
func (c *Client) Publish(topic string, qos byte, retained bool, value interface{}) error {
	payload := fmt.Sprintf("%v", value)

	l := log.WithFields(log.Fields{
		"topic":    topic,
		"qos":      qos,
		"retained": retained,
		"payload":  payload,
	})

	token := c.Client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timeout publishing to mqtt")
	}
	if err := token.Error(); err != nil {
		return err
	}
	l.Trace("published message")
	return nil
}

// PublishJSON marshals v and publishes it retained.
func (c *Client) PublishJSON(topic string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("unable to marshal json: %w", err)
	}
	return c.Publish(topic, 0, true, string(b))
}

func (c *Client) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) error {
	l := log.WithFields(log.Fields{
		"topic": topic,
		"qos":   qos,
	})

	token := c.Client.Subscribe(topic, qos, cb)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timeout subscribing to mqtt")
	}
	if err := token.Error(); err != nil {
		return err
	}
	l.Debug("subscribed")
	return nil
}

func (c *Client) Unsubscribe(topics []string) error {
	l := log.WithFields(log.Fields{
		"topics": topics,
	})

	token := c.Client.Unsubscribe(topics...)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timeout unsubscribing from mqtt")
	}
	if err := token.Error(); err != nil {
		return err
	}
	l.Debug("unsubscribed")
	return nil
}
