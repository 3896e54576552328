package rosbridge

import "encoding/json"

// Rosbridge JSON protocol envelopes.

// Topic type strings advertised to the bridge.
const (
	TypeTwist      = "geometry_msgs/msg/Twist"
	TypeOdometry   = "nav_msgs/msg/Odometry"
	TypeTFMessage  = "tf2_msgs/msg/TFMessage"
	TypeModelState = "gazebo_msgs/msg/ModelState"
)

// SubscribeMsg creates a rosbridge subscribe message.
func SubscribeMsg(topic, msgType string) []byte {
	msg := map[string]interface{}{
		"op":    "subscribe",
		"topic": topic,
		"type":  msgType,
	}
	b, _ := json.Marshal(msg)
	return b
}

// UnsubscribeMsg creates a rosbridge unsubscribe message.
func UnsubscribeMsg(topic string) []byte {
	msg := map[string]interface{}{
		"op":    "unsubscribe",
		"topic": topic,
	}
	b, _ := json.Marshal(msg)
	return b
}

// AdvertiseMsg creates a rosbridge advertise message.
func AdvertiseMsg(topic, msgType string) []byte {
	msg := map[string]interface{}{
		"op":    "advertise",
		"topic": topic,
		"type":  msgType,
	}
	b, _ := json.Marshal(msg)
	return b
}

// PublishMsg creates a rosbridge publish message.
func PublishMsg(topic string, data interface{}) []byte {
	msg := map[string]interface{}{
		"op":    "publish",
		"topic": topic,
		"msg":   data,
	}
	b, _ := json.Marshal(msg)
	return b
}

// ResolveFrame prefixes a frame id with the robot namespace, the way
// tf prefixing resolves "odom" to "robot1/odom".
func ResolveFrame(prefix, frame string) string {
	if prefix == "" {
		return frame
	}
	return prefix + "/" + frame
}
