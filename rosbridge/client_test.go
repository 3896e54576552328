package rosbridge

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"
)

// bridgeServer is an in-process stand-in for rosbridge_server: it
// records every envelope the client sends and can push publishes back.
type bridgeServer struct {
	t        *testing.T
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn
	inbound  chan map[string]interface{}
}

func newBridgeServer(t *testing.T) (*bridgeServer, *httptest.Server) {
	t.Helper()
	bs := &bridgeServer{
		t:       t,
		conns:   make(chan *websocket.Conn, 1),
		inbound: make(chan map[string]interface{}, 16),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := bs.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		bs.conns <- conn
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var envelope map[string]interface{}
			if err := json.Unmarshal(msg, &envelope); err == nil {
				bs.inbound <- envelope
			}
		}
	}))
	return bs, srv
}

func (bs *bridgeServer) nextEnvelope() map[string]interface{} {
	select {
	case env := <-bs.inbound:
		return env
	case <-time.After(5 * time.Second):
		bs.t.Fatal("no envelope from client")
		return nil
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSubscribeTwistDelivery(t *testing.T) {
	logger := logging.NewTestLogger(t)
	bs, srv := newBridgeServer(t)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := Dial(ctx, wsURL(srv), logger)
	test.That(t, err, test.ShouldBeNil)
	defer client.Close()

	received := make(chan Twist, 4)
	err = client.SubscribeTwist(ctx, "/cmd_vel", func(tw Twist) {
		received <- tw
	})
	test.That(t, err, test.ShouldBeNil)

	env := bs.nextEnvelope()
	test.That(t, env["op"], test.ShouldEqual, "subscribe")
	test.That(t, env["topic"], test.ShouldEqual, "/cmd_vel")
	test.That(t, env["type"], test.ShouldEqual, TypeTwist)

	serverConn := <-bs.conns
	push := func(topic string, tw Twist) {
		err := serverConn.WriteMessage(websocket.TextMessage, PublishMsg(topic, tw))
		test.That(t, err, test.ShouldBeNil)
	}

	// a message on another topic is ignored, the command topic lands
	push("/other", Twist{Linear: Vector3{X: 9}})
	push("/cmd_vel", Twist{Linear: Vector3{X: 0.5, Y: -0.25}, Angular: Vector3{Z: 1.5}})

	select {
	case tw := <-received:
		test.That(t, tw.Linear.X, test.ShouldEqual, 0.5)
		test.That(t, tw.Linear.Y, test.ShouldEqual, -0.25)
		test.That(t, tw.Angular.Z, test.ShouldEqual, 1.5)
	case <-time.After(5 * time.Second):
		t.Fatal("twist never delivered")
	}
}

func TestAdvertiseAndPublish(t *testing.T) {
	logger := logging.NewTestLogger(t)
	bs, srv := newBridgeServer(t)
	defer srv.Close()

	ctx := context.Background()
	client, err := Dial(ctx, wsURL(srv), logger)
	test.That(t, err, test.ShouldBeNil)
	defer client.Close()

	test.That(t, client.Advertise("/odom", TypeOdometry), test.ShouldBeNil)
	env := bs.nextEnvelope()
	test.That(t, env["op"], test.ShouldEqual, "advertise")
	test.That(t, env["type"], test.ShouldEqual, TypeOdometry)

	odom := Odometry{
		Header:       Header{FrameID: "odom", Stamp: NewStamp(time.Unix(12, 34))},
		ChildFrameID: "base_link",
		Pose: PoseWithCovariance{Pose: Pose{
			Position:    Vector3{X: 1, Y: 2},
			Orientation: QuaternionFromYaw(math.Pi / 2),
		}},
	}
	test.That(t, client.Publish("/odom", odom), test.ShouldBeNil)

	env = bs.nextEnvelope()
	test.That(t, env["op"], test.ShouldEqual, "publish")
	test.That(t, env["topic"], test.ShouldEqual, "/odom")
	msg := env["msg"].(map[string]interface{})
	header := msg["header"].(map[string]interface{})
	test.That(t, header["frame_id"], test.ShouldEqual, "odom")
	test.That(t, msg["child_frame_id"], test.ShouldEqual, "base_link")
}

func TestCloseStopsDelivery(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, srv := newBridgeServer(t)
	defer srv.Close()

	ctx := context.Background()
	client, err := Dial(ctx, wsURL(srv), logger)
	test.That(t, err, test.ShouldBeNil)

	err = client.SubscribeTwist(ctx, "/cmd_vel", func(Twist) {})
	test.That(t, err, test.ShouldBeNil)

	test.That(t, client.Close(), test.ShouldBeNil)
	// closed clients refuse further sends
	test.That(t, client.Publish("/odom", Odometry{}), test.ShouldNotBeNil)
	// close again is fine
	test.That(t, client.Close(), test.ShouldBeNil)
}

func TestQuaternionYawRoundTrip(t *testing.T) {
	for _, yaw := range []float64{0, 1, -1, math.Pi - 0.01, -math.Pi + 0.01} {
		q := QuaternionFromYaw(yaw)
		test.That(t, q.Yaw(), test.ShouldAlmostEqual, yaw)
		test.That(t, q.X, test.ShouldEqual, 0)
		test.That(t, q.Y, test.ShouldEqual, 0)
	}
}
