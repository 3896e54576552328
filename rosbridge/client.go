// Package rosbridge speaks the rosbridge_server websocket protocol:
// the drive subscribes to its velocity-command topic and publishes
// odometry, the odom transform, and the simulator model state.
package rosbridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	viamutils "go.viam.com/utils"

	"go.viam.com/rdk/logging"
)

// Client manages one websocket connection to a rosbridge server.
// Topic names are passed fully resolved; the client does no
// namespacing of its own.
type Client struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	logger logging.Logger
	closed bool

	topicCmd string
	onTwist  func(Twist)

	closeCh                 chan struct{}
	activeBackgroundWorkers sync.WaitGroup
}

// Dial connects to a rosbridge server at url (ws://host:port).
func Dial(ctx context.Context, url string, logger logging.Logger) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	return &Client{
		conn:    conn,
		logger:  logger,
		closeCh: make(chan struct{}),
	}, nil
}

// SubscribeTwist subscribes to the velocity-command topic and starts
// the command-delivery loop. cb runs on that loop for every Twist
// received; it must only hand the command off, never block. The loop
// stops when ctx is cancelled or the client is closed.
func (c *Client) SubscribeTwist(ctx context.Context, topic string, cb func(Twist)) error {
	c.mu.Lock()
	c.topicCmd = topic
	c.onTwist = cb
	c.mu.Unlock()

	if err := c.send(SubscribeMsg(topic, TypeTwist)); err != nil {
		return errors.Wrapf(err, "subscribe %s", topic)
	}

	c.activeBackgroundWorkers.Add(2)
	viamutils.ManagedGo(func() {
		c.readLoop(ctx)
	}, c.activeBackgroundWorkers.Done)
	viamutils.ManagedGo(func() {
		// a blocked websocket read is released by closing the
		// connection, so shutdown latency stays bounded
		select {
		case <-ctx.Done():
			c.closeConn()
		case <-c.closeCh:
		}
	}, c.activeBackgroundWorkers.Done)
	return nil
}

// Advertise announces an outbound topic to the bridge.
func (c *Client) Advertise(topic, msgType string) error {
	return c.send(AdvertiseMsg(topic, msgType))
}

// Publish sends one message on an advertised topic.
func (c *Client) Publish(topic string, msg interface{}) error {
	return c.send(PublishMsg(topic, msg))
}

func (c *Client) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("bridge connection closed")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !c.isClosed() {
				// degrade: the drive keeps running on its last command
				c.logger.Errorw("bridge read error, command delivery stopped", "error", err)
			}
			return
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(raw []byte) {
	var envelope struct {
		Op    string          `json:"op"`
		Topic string          `json:"topic"`
		Msg   json.RawMessage `json:"msg"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}
	if envelope.Op != "publish" {
		return
	}

	c.mu.Lock()
	topicCmd := c.topicCmd
	onTwist := c.onTwist
	c.mu.Unlock()

	if envelope.Topic != topicCmd || onTwist == nil {
		return
	}
	var tw Twist
	if err := json.Unmarshal(envelope.Msg, &tw); err != nil {
		c.logger.Debugw("dropping malformed twist", "error", err)
		return
	}
	onTwist(tw)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.conn.Close()
	}
}

// Close unsubscribes, closes the connection, and waits for the
// delivery loop to drain.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.activeBackgroundWorkers.Wait()
		return nil
	}
	c.closed = true
	if c.topicCmd != "" {
		// best effort; the bridge drops the subscription on close anyway
		c.conn.WriteMessage(websocket.TextMessage, UnsubscribeMsg(c.topicCmd))
	}
	close(c.closeCh)
	err := c.conn.Close()
	c.mu.Unlock()

	c.activeBackgroundWorkers.Wait()
	return err
}
