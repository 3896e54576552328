package rosbridge

import (
	"math"
	"time"
)

// ROS message fragments exchanged over the bridge, JSON-shaped the way
// rosbridge_server expects them.

type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// QuaternionFromYaw builds the z-axis rotation for a planar heading;
// roll and pitch stay zero.
func QuaternionFromYaw(yaw float64) Quaternion {
	return Quaternion{Z: math.Sin(yaw / 2), W: math.Cos(yaw / 2)}
}

// Yaw extracts the heading (radians) back out of a quaternion.
func (q Quaternion) Yaw() float64 {
	siny := 2.0 * (q.W*q.Z + q.X*q.Y)
	cosy := 1.0 - 2.0*(q.Y*q.Y+q.Z*q.Z)
	return math.Atan2(siny, cosy)
}

type Pose struct {
	Position    Vector3    `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

type Twist struct {
	Linear  Vector3 `json:"linear"`
	Angular Vector3 `json:"angular"`
}

type Stamp struct {
	Sec     int64 `json:"sec"`
	Nanosec int64 `json:"nanosec"`
}

// NewStamp converts a time to a ROS2-style stamp.
func NewStamp(t time.Time) Stamp {
	return Stamp{Sec: t.Unix(), Nanosec: int64(t.Nanosecond())}
}

type Header struct {
	Stamp   Stamp  `json:"stamp"`
	FrameID string `json:"frame_id"`
}

type PoseWithCovariance struct {
	Pose Pose `json:"pose"`
}

type TwistWithCovariance struct {
	Twist Twist `json:"twist"`
}

// Odometry is nav_msgs/Odometry, covariances omitted.
type Odometry struct {
	Header       Header              `json:"header"`
	ChildFrameID string              `json:"child_frame_id"`
	Pose         PoseWithCovariance  `json:"pose"`
	Twist        TwistWithCovariance `json:"twist"`
}

type Transform struct {
	Translation Vector3    `json:"translation"`
	Rotation    Quaternion `json:"rotation"`
}

type TransformStamped struct {
	Header       Header    `json:"header"`
	ChildFrameID string    `json:"child_frame_id"`
	Transform    Transform `json:"transform"`
}

// TFMessage is tf2_msgs/TFMessage.
type TFMessage struct {
	Transforms []TransformStamped `json:"transforms"`
}

// ModelState is the simulator-facing pose/twist record keyed by the
// model identifier the simulator knows the robot under.
type ModelState struct {
	ModelName string `json:"model_name"`
	Pose      Pose   `json:"pose"`
	Twist     Twist  `json:"twist"`
}
