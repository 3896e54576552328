package mecanumbase

import (
	"context"

	"go.uber.org/multierr"

	"github.com/lentin/neo-common/drive"
	"github.com/lentin/neo-common/rosbridge"
)

// odomPublisher fans one controller sample out to the three outbound
// records: the odometry topic, the odom→base_link transform, and the
// simulator-facing model state.
type odomPublisher struct {
	bridge          *rosbridge.Client
	odomTopic       string
	tfTopic         string
	modelStateTopic string
	odomFrame       string
	baseFrame       string
	modelName       string
}

func (p *odomPublisher) advertise() error {
	return multierr.Combine(
		p.bridge.Advertise(p.odomTopic, rosbridge.TypeOdometry),
		p.bridge.Advertise(p.tfTopic, rosbridge.TypeTFMessage),
		p.bridge.Advertise(p.modelStateTopic, rosbridge.TypeModelState),
	)
}

// PublishOdometry implements drive.Publisher.
func (p *odomPublisher) PublishOdometry(ctx context.Context, s drive.State) error {
	stamp := rosbridge.NewStamp(s.Stamp)
	q := rosbridge.QuaternionFromYaw(s.Pose.Theta)
	position := rosbridge.Vector3{X: s.Pose.X, Y: s.Pose.Y}
	pose := rosbridge.Pose{Position: position, Orientation: q}
	twist := rosbridge.Twist{
		Linear:  rosbridge.Vector3{X: s.Velocity.X, Y: s.Velocity.Y},
		Angular: rosbridge.Vector3{Z: s.Velocity.Omega},
	}

	odom := rosbridge.Odometry{
		Header:       rosbridge.Header{Stamp: stamp, FrameID: p.odomFrame},
		ChildFrameID: p.baseFrame,
		Pose:         rosbridge.PoseWithCovariance{Pose: pose},
		Twist:        rosbridge.TwistWithCovariance{Twist: twist},
	}
	tf := rosbridge.TFMessage{Transforms: []rosbridge.TransformStamped{{
		Header:       rosbridge.Header{Stamp: stamp, FrameID: p.odomFrame},
		ChildFrameID: p.baseFrame,
		Transform:    rosbridge.Transform{Translation: position, Rotation: q},
	}}}
	state := rosbridge.ModelState{ModelName: p.modelName, Pose: pose, Twist: twist}

	return multierr.Combine(
		p.bridge.Publish(p.odomTopic, odom),
		p.bridge.Publish(p.tfTopic, tf),
		p.bridge.Publish(p.modelStateTopic, state),
	)
}
