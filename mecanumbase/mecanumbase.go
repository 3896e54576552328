// Package mecanumbase exposes a simulated four-wheel mecanum drive as
// a viam base component: the viam API and an optional rosbridge topic
// feed velocity commands into a stepped simulation that actuates the
// wheel joints and dead-reckons odometry.
package mecanumbase

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	viamutils "go.viam.com/utils"

	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
	rdkutils "go.viam.com/rdk/utils"

	"github.com/lentin/neo-common/drive"
	"github.com/lentin/neo-common/kinematics"
	"github.com/lentin/neo-common/rosbridge"
	"github.com/lentin/neo-common/sim"
)

// Model is the viam model triple this base registers under.
var Model = resource.NewModel("lentin", "neo", "mecanum")

const (
	defaultLengthM        = 0.25
	defaultWidthM         = 0.27
	defaultWheelDiameterM = 0.15
	defaultTorqueNm       = 10.0
	defaultWheelInertia   = 0.05
	defaultCmdTopic       = "/cmd_vel"
	defaultModelName      = "robot_description"

	odomFrame = "odom"
	baseFrame = "base_link"

	tfTopic         = "/tf"
	modelStateTopic = "/gazebo/set_model_state"

	// full-scale speeds used to interpret SetPower fractions
	maxLinearMps     = 1.5
	maxAngularRadsPS = 3.0
)

func init() {
	resource.RegisterComponent(
		base.API,
		Model,
		resource.Registration[base.Base, *Config]{Constructor: newBase},
	)
}

// Config is the attribute surface of the mecanum base. Lengths are
// meters. Zero-valued geometry fields fall back to the defaults
// above; negative values are rejected at validation.
type Config struct {
	FrontLeftJoint  string  `json:"front_left_joint"`
	FrontRightJoint string  `json:"front_right_joint"`
	BackLeftJoint   string  `json:"back_left_joint"`
	BackRightJoint  string  `json:"back_right_joint"`
	LengthM         float64 `json:"length_m,omitempty"`
	WidthM          float64 `json:"width_m,omitempty"`
	WheelDiameterM  float64 `json:"wheel_diameter_m,omitempty"`
	TorqueNm        float64 `json:"torque_nm,omitempty"`
	WheelInertia    float64 `json:"wheel_inertia_kgm2,omitempty"`
	BridgeURL       string  `json:"bridge_url,omitempty"`
	CmdTopic        string  `json:"cmd_topic,omitempty"`
	Namespace       string  `json:"namespace,omitempty"`
	ModelName       string  `json:"model_name,omitempty"`
	StepIntervalMs  int     `json:"step_interval_ms,omitempty"`
}

// Validate ensures all parts of the config are valid. Zero geometry
// fields take defaults; negative ones never get past here.
func (cfg *Config) Validate(path string) ([]string, error) {
	if cfg.FrontLeftJoint == "" {
		return nil, viamutils.NewConfigValidationFieldRequiredError(path, "front_left_joint")
	}
	if cfg.FrontRightJoint == "" {
		return nil, viamutils.NewConfigValidationFieldRequiredError(path, "front_right_joint")
	}
	if cfg.BackLeftJoint == "" {
		return nil, viamutils.NewConfigValidationFieldRequiredError(path, "back_left_joint")
	}
	if cfg.BackRightJoint == "" {
		return nil, viamutils.NewConfigValidationFieldRequiredError(path, "back_right_joint")
	}
	seen := map[string]string{}
	for field, joint := range map[string]string{
		"front_left_joint":  cfg.FrontLeftJoint,
		"front_right_joint": cfg.FrontRightJoint,
		"back_left_joint":   cfg.BackLeftJoint,
		"back_right_joint":  cfg.BackRightJoint,
	} {
		if prev, ok := seen[joint]; ok {
			return nil, viamutils.NewConfigValidationError(path,
				errors.Errorf("joint %q assigned to both %s and %s", joint, prev, field))
		}
		seen[joint] = field
	}
	if cfg.LengthM < 0 || cfg.WidthM < 0 || cfg.WheelDiameterM < 0 || cfg.TorqueNm < 0 {
		return nil, viamutils.NewConfigValidationError(path,
			errors.New("geometry fields must not be negative"))
	}
	if cfg.StepIntervalMs < 0 {
		return nil, viamutils.NewConfigValidationError(path,
			errors.New("step_interval_ms must not be negative"))
	}
	return nil, nil
}

func (cfg *Config) geometry() kinematics.Geometry {
	geom := kinematics.Geometry{
		LengthM:        cfg.LengthM,
		WidthM:         cfg.WidthM,
		WheelDiameterM: cfg.WheelDiameterM,
		MaxTorqueNm:    cfg.TorqueNm,
	}
	if geom.LengthM == 0 {
		geom.LengthM = defaultLengthM
	}
	if geom.WidthM == 0 {
		geom.WidthM = defaultWidthM
	}
	if geom.WheelDiameterM == 0 {
		geom.WheelDiameterM = defaultWheelDiameterM
	}
	if geom.MaxTorqueNm == 0 {
		geom.MaxTorqueNm = defaultTorqueNm
	}
	return geom
}

func (cfg *Config) stepInterval() time.Duration {
	if cfg.StepIntervalMs == 0 {
		return sim.DefaultStepInterval
	}
	return time.Duration(cfg.StepIntervalMs) * time.Millisecond
}

func (cfg *Config) topicPrefix() string {
	if cfg.Namespace == "" {
		return ""
	}
	return "/" + cfg.Namespace
}

type mecanumBase struct {
	resource.Named
	resource.AlwaysRebuild

	geom       kinematics.Geometry
	world      *sim.World
	buffer     *drive.CommandBuffer
	controller *drive.Controller
	bridge     *rosbridge.Client
	geometries []spatialmath.Geometry
	logger     logging.Logger

	isMoving                atomic.Bool
	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
}

// newBase builds the simulated world, resolves the four wheel joints,
// wires the optional rosbridge transport, and starts the step loop.
func newBase(
	ctx context.Context,
	_ resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (base.Base, error) {
	newConf, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, err
	}

	geom := newConf.geometry()
	if err := geom.Validate(); err != nil {
		return nil, err
	}

	var geometries []spatialmath.Geometry
	if conf.Frame != nil && conf.Frame.Geometry != nil {
		geometry, err := conf.Frame.Geometry.ParseConfig()
		if err != nil {
			return nil, err
		}
		geometries = []spatialmath.Geometry{geometry}
	}

	inertia := newConf.WheelInertia
	if inertia == 0 {
		inertia = defaultWheelInertia
	}

	world := sim.NewWorld(logger)
	jointNames := map[drive.Wheel]string{
		drive.FrontLeft:  newConf.FrontLeftJoint,
		drive.FrontRight: newConf.FrontRightJoint,
		drive.BackLeft:   newConf.BackLeftJoint,
		drive.BackRight:  newConf.BackRightJoint,
	}
	var wheels [drive.NumWheels]drive.Actuator
	for w, name := range jointNames {
		joint := world.AddJoint(name, inertia)
		// resolve back through the world so a future external host
		// fails here, not mid-step
		resolved, err := world.Joint(joint.Name())
		if err != nil {
			return nil, errors.Wrapf(err, "couldn't get %s wheel joint", w)
		}
		wheels[w] = resolved
	}

	buffer := &drive.CommandBuffer{}
	cancelCtx, cancel := context.WithCancel(context.Background())

	var bridge *rosbridge.Client
	var publisher drive.Publisher
	if newConf.BridgeURL != "" {
		bridge, publisher, err = connectBridge(ctx, cancelCtx, newConf, buffer, logger)
		if err != nil {
			// transport degradation, not a startup failure: the base
			// still drives from the viam API
			logger.Errorw("bridge unavailable, running without ROS transport", "error", err)
		}
	}

	controller, err := drive.NewController(geom, wheels, buffer, publisher, logger)
	if err != nil {
		cancel()
		if bridge != nil {
			viamutils.UncheckedError(bridge.Close())
		}
		return nil, err
	}

	b := &mecanumBase{
		Named:      conf.ResourceName().AsNamed(),
		geom:       geom,
		world:      world,
		buffer:     buffer,
		controller: controller,
		bridge:     bridge,
		geometries: geometries,
		logger:     logger,
		cancel:     cancel,
	}

	interval := newConf.stepInterval()
	b.activeBackgroundWorkers.Add(1)
	viamutils.ManagedGo(func() {
		world.Run(cancelCtx, interval, func(ctx context.Context, now time.Time, dt time.Duration) {
			if err := controller.Step(ctx, now, dt); err != nil {
				logger.Debugw("step skipped", "error", err)
			}
		})
	}, b.activeBackgroundWorkers.Done)

	return b, nil
}

// connectBridge dials the rosbridge server, advertises the outbound
// topics, and routes the command topic into the buffer.
func connectBridge(
	ctx context.Context,
	cancelCtx context.Context,
	conf *Config,
	buffer *drive.CommandBuffer,
	logger logging.Logger,
) (*rosbridge.Client, drive.Publisher, error) {
	bridge, err := rosbridge.Dial(ctx, conf.BridgeURL, logger)
	if err != nil {
		return nil, nil, err
	}

	cmdTopic := conf.CmdTopic
	if cmdTopic == "" {
		cmdTopic = defaultCmdTopic
	}
	cmdTopic = conf.topicPrefix() + cmdTopic

	modelName := conf.ModelName
	if modelName == "" {
		modelName = defaultModelName
	}

	publisher := &odomPublisher{
		bridge:          bridge,
		odomTopic:       conf.topicPrefix() + "/odom",
		tfTopic:         tfTopic,
		modelStateTopic: modelStateTopic,
		odomFrame:       rosbridge.ResolveFrame(conf.Namespace, odomFrame),
		baseFrame:       rosbridge.ResolveFrame(conf.Namespace, baseFrame),
		modelName:       modelName,
	}
	if err := publisher.advertise(); err != nil {
		viamutils.UncheckedError(bridge.Close())
		return nil, nil, err
	}

	err = bridge.SubscribeTwist(cancelCtx, cmdTopic, func(tw rosbridge.Twist) {
		buffer.Store(twistToVelocity(tw))
	})
	if err != nil {
		viamutils.UncheckedError(bridge.Close())
		return nil, nil, err
	}
	return bridge, publisher, nil
}

// twistToVelocity maps a ROS twist (REP-103 body frame, m/s and
// rad/s) straight onto the drive's command.
func twistToVelocity(tw rosbridge.Twist) kinematics.Velocity {
	return kinematics.Velocity{
		X:     tw.Linear.X,
		Y:     tw.Linear.Y,
		Omega: tw.Angular.Z,
	}
}

// viamToVelocity converts viam base units (linear mm/s with +Y
// forward and +X rightward, angular deg/s) to the body-frame command
// (m/s forward, m/s leftward, rad/s).
func viamToVelocity(linear, angular r3.Vector) kinematics.Velocity {
	return kinematics.Velocity{
		X:     linear.Y / 1000.0,
		Y:     -linear.X / 1000.0,
		Omega: rdkutils.DegToRad(angular.Z),
	}
}

// SetVelocity commands the base to the given linear (mmPerSec) and
// angular (degsPerSec) velocity.
func (b *mecanumBase) SetVelocity(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error {
	b.warnUnusedAxes(linear, angular)
	cmd := viamToVelocity(linear, angular)
	b.isMoving.Store(cmd != kinematics.Velocity{})
	b.buffer.Store(cmd)
	return nil
}

// SetPower interprets the [-1, 1] power fractions as fractions of the
// base's full-scale speeds.
func (b *mecanumBase) SetPower(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error {
	b.warnUnusedAxes(linear, angular)
	cmd := kinematics.Velocity{
		X:     rdkutils.Clamp(linear.Y, -1, 1) * maxLinearMps,
		Y:     -rdkutils.Clamp(linear.X, -1, 1) * maxLinearMps,
		Omega: rdkutils.Clamp(angular.Z, -1, 1) * maxAngularRadsPS,
	}
	b.isMoving.Store(cmd != kinematics.Velocity{})
	b.buffer.Store(cmd)
	return nil
}

// MoveStraight drives forward or backward for the given distance by
// holding a velocity command for the corresponding time.
func (b *mecanumBase) MoveStraight(ctx context.Context, distanceMm int, mmPerSec float64, extra map[string]interface{}) error {
	if distanceMm == 0 || math.Abs(mmPerSec) < 1e-3 {
		return b.Stop(ctx, nil)
	}
	speed := math.Abs(mmPerSec) / 1000.0
	if distanceMm < 0 {
		speed = -speed
	}
	if mmPerSec < 0 {
		speed = -speed
	}
	duration := time.Duration(math.Abs(float64(distanceMm)/mmPerSec) * float64(time.Second))
	return b.moveFor(ctx, kinematics.Velocity{X: speed}, duration)
}

// Spin turns in place through angleDeg at degsPerSec.
func (b *mecanumBase) Spin(ctx context.Context, angleDeg, degsPerSec float64, extra map[string]interface{}) error {
	if angleDeg == 0 || math.Abs(degsPerSec) < 1e-3 {
		return b.Stop(ctx, nil)
	}
	omega := math.Abs(rdkutils.DegToRad(degsPerSec))
	if angleDeg < 0 {
		omega = -omega
	}
	if degsPerSec < 0 {
		omega = -omega
	}
	duration := time.Duration(math.Abs(angleDeg/degsPerSec) * float64(time.Second))
	return b.moveFor(ctx, kinematics.Velocity{Omega: omega}, duration)
}

func (b *mecanumBase) moveFor(ctx context.Context, cmd kinematics.Velocity, duration time.Duration) error {
	b.isMoving.Store(true)
	b.buffer.Store(cmd)
	defer func() {
		b.buffer.Store(kinematics.Velocity{})
		b.isMoving.Store(false)
	}()
	if !viamutils.SelectContextOrWait(ctx, duration) {
		return ctx.Err()
	}
	return nil
}

// Stop stops the base. The simulated wheels decelerate under the
// torque cap rather than halting instantly.
func (b *mecanumBase) Stop(ctx context.Context, extra map[string]interface{}) error {
	b.isMoving.Store(false)
	b.buffer.Store(kinematics.Velocity{})
	return nil
}

func (b *mecanumBase) warnUnusedAxes(linear, angular r3.Vector) {
	if linear.Z != 0 {
		b.logger.Warnw("linear Z command has no effect on a planar base")
	}
	if angular.X != 0 || angular.Y != 0 {
		b.logger.Warnw("angular X/Y commands have no effect on a planar base")
	}
}

func (b *mecanumBase) IsMoving(ctx context.Context) (bool, error) {
	return b.isMoving.Load(), nil
}

// Properties returns the base's dimensions.
func (b *mecanumBase) Properties(ctx context.Context, extra map[string]interface{}) (base.Properties, error) {
	return base.Properties{
		WidthMeters:              b.geom.WidthM,
		WheelCircumferenceMeters: math.Pi * b.geom.WheelDiameterM,
	}, nil
}

func (b *mecanumBase) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return b.geometries, nil
}

// DoCommand executes commands beyond the Base interface: odometry
// readout and reset.
func (b *mecanumBase) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	name, ok := cmd["command"]
	if !ok {
		return nil, errors.New("missing 'command' value")
	}
	switch name {
	case "reset_odometry":
		b.controller.RequestReset()
		return map[string]interface{}{"return": "reset_odometry command processed"}, nil

	case "get_odometry":
		od := b.controller.Odometry()
		return map[string]interface{}{
			"x":     od.Pose.X,
			"y":     od.Pose.Y,
			"theta": od.Pose.Theta,
			"vx":    od.Velocity.X,
			"vy":    od.Velocity.Y,
			"omega": od.Velocity.Omega,
		}, nil

	default:
		return nil, fmt.Errorf("no such command: %s", name)
	}
}

// Close stops the drive, tears down the background workers, and
// releases the bridge connection.
func (b *mecanumBase) Close(ctx context.Context) error {
	b.buffer.Store(kinematics.Velocity{})
	b.isMoving.Store(false)
	b.controller.Stop()
	b.cancel()

	var err error
	if b.bridge != nil {
		err = b.bridge.Close()
	}
	b.activeBackgroundWorkers.Wait()
	return err
}
