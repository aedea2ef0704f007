package gateway

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/swarmit/swarmitctl/internal/errs"
	"github.com/swarmit/swarmitctl/internal/logger"
	"github.com/swarmit/swarmitctl/internal/protocol"
)

// CloudConfig configures a broker-attached gateway, scoped to one mesh by
// network_id (§6.2).
type CloudConfig struct {
	Host      string
	Port      int
	UseTLS    bool
	NetworkID uint16
	Verbose   bool
}

// CloudAdapter carries protocol frames over an MQTT broker. Each network is
// a pair of topics: uplink (node → controller) and downlink (controller →
// node); a message's payload is the outer address-prefixed frame.
type CloudAdapter struct {
	cfg    CloudConfig
	client mqtt.Client
}

// NewCloudAdapter creates an adapter bound to cfg; the broker connection is
// established by Init.
func NewCloudAdapter(cfg CloudConfig) *CloudAdapter {
	return &CloudAdapter{cfg: cfg}
}

func (a *CloudAdapter) uplinkTopic() string {
	return fmt.Sprintf("swarmit/%04x/uplink", a.cfg.NetworkID)
}

func (a *CloudAdapter) downlinkTopic() string {
	return fmt.Sprintf("swarmit/%04x/downlink", a.cfg.NetworkID)
}

// Init connects to the broker and subscribes to the network's uplink topic,
// delivering decoded payloads to onFrame.
func (a *CloudAdapter) Init(onFrame FrameCallback) error {
	scheme := "tcp"
	if a.cfg.UseTLS {
		scheme = "ssl"
	}
	broker := fmt.Sprintf("%s://%s:%d", scheme, a.cfg.Host, a.cfg.Port)

	log := logger.WithAdapter(logger.Logger(), "cloud")

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(fmt.Sprintf("swarmitctl-%04x", a.cfg.NetworkID)).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	opts.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		addr, inner, err := decodeOuter(msg.Payload())
		if err != nil {
			if a.cfg.Verbose {
				log.Warn("cloud dropped malformed outer frame", "error", err)
			}
			return
		}
		payload, err := protocol.Decode(inner)
		if err != nil {
			if a.cfg.Verbose {
				log.Warn("cloud dropped malformed payload", "error", err, "source", addr.String())
			}
			return
		}
		onFrame(addr, payload)
	})

	a.client = mqtt.NewClient(opts)
	if token := a.client.Connect(); token.Wait() && token.Error() != nil {
		return errs.NewTransportUnavailable("mqtt.connect:"+broker, token.Error())
	}
	if token := a.client.Subscribe(a.uplinkTopic(), 1, nil); token.Wait() && token.Error() != nil {
		return errs.NewTransportUnavailable("mqtt.subscribe:"+a.uplinkTopic(), token.Error())
	}
	return nil
}

// Send publishes payload to the network's downlink topic. destination is
// carried in the outer frame; all subscribers on the topic filter by it.
func (a *CloudAdapter) Send(destination protocol.NodeAddress, payload protocol.Payload) error {
	if a.client == nil {
		return errs.NewTransportUnavailable("mqtt.send", fmt.Errorf("adapter not initialized"))
	}
	outer := encodeOuter(destination, protocol.Encode(payload))
	token := a.client.Publish(a.downlinkTopic(), 1, false, outer)
	token.Wait()
	if err := token.Error(); err != nil {
		return errs.NewTransportUnavailable("mqtt.publish", err)
	}
	return nil
}

// Close disconnects from the broker.
func (a *CloudAdapter) Close() error {
	if a.client != nil && a.client.IsConnected() {
		a.client.Disconnect(250)
	}
	return nil
}
