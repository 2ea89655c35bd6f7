// Package modalcan drives the Modal mecanum motor controllers over a SocketCAN bus. Each
// wheel has its own controller taking speed commands and reporting its encoder position.
package modalcan

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-daq/canbus"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	viamutils "go.viam.com/utils"
	"golang.org/x/sys/unix"

	"github.com/intermode/modal-mecanum/hardware"
	"github.com/intermode/modal-mecanum/kinematics"
	"github.com/intermode/modal-mecanum/odometry"
	"github.com/intermode/modal-mecanum/reading"
)

// Defaults for Config.
const (
	DefaultChannel         = "can0"
	DefaultMaxRPM          = 300
	DefaultCurrentLimit    = 5
	DefaultFeedbackTimeout = 250 * time.Millisecond
)

// Config selects the bus and the motor limits.
type Config struct {
	Channel      string
	MaxRPM       float64
	CurrentLimit int16
	// encoder feedback older than this is reported as unavailable
	FeedbackTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Channel == "" {
		c.Channel = DefaultChannel
	}
	if c.MaxRPM <= 0 {
		c.MaxRPM = DefaultMaxRPM
	}
	if c.CurrentLimit <= 0 {
		c.CurrentLimit = DefaultCurrentLimit
	}
	if c.FeedbackTimeout <= 0 {
		c.FeedbackTimeout = DefaultFeedbackTimeout
	}
	return c
}

// frameSocket is the subset of *canbus.Socket the drivetrain uses.
type frameSocket interface {
	Send(canbus.Frame) (int, error)
	Recv() (canbus.Frame, error)
	Close() error
}

// Drivetrain implements hardware.Drivetrain and hardware.Indicator on the CAN bus.
type Drivetrain struct {
	cfg    Config
	clock  clock.Clock
	logger logging.Logger

	tx frameSocket
	rx frameSocket

	mu            sync.RWMutex
	positions     [kinematics.NumWheels]int64
	rpms          [kinematics.NumWheels]float64
	lastFeedback  [kinematics.NumWheels]time.Time
	stateOfCharge reading.Reading[float64]
	lastSendErr   bool

	closeOnce               sync.Once
	activeBackgroundWorkers sync.WaitGroup
	cancel                  func()
}

// Open binds send and receive sockets on cfg.Channel and starts the receive loop.
func Open(cfg Config, clk clock.Clock, logger logging.Logger) (*Drivetrain, error) {
	cfg = cfg.withDefaults()

	socketSend, err := canbus.New()
	if err != nil {
		return nil, errors.Wrap(err, "creating CAN send socket")
	}
	if err := socketSend.Bind(cfg.Channel); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "binding %s", cfg.Channel), socketSend.Close())
	}

	socketRecv, err := canbus.New()
	if err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "creating CAN receive socket"), socketSend.Close())
	}

	filters := []unix.CanFilter{{Id: idBatteryState, Mask: unix.CAN_SFF_MASK}}
	for _, id := range feedbackIDs {
		filters = append(filters, unix.CanFilter{Id: id | unix.CAN_EFF_FLAG, Mask: unix.CAN_EFF_FLAG | unix.CAN_EFF_MASK})
	}
	if err := socketRecv.SetFilters(filters); err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "setting CAN filters"), socketSend.Close(), socketRecv.Close())
	}
	if err := socketRecv.Bind(cfg.Channel); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "binding %s", cfg.Channel), socketSend.Close(), socketRecv.Close())
	}

	return newDrivetrain(cfg, socketSend, socketRecv, clk, logger), nil
}

func newDrivetrain(cfg Config, tx, rx frameSocket, clk clock.Clock, logger logging.Logger) *Drivetrain {
	if clk == nil {
		clk = clock.New()
	}
	cancelCtx, cancel := context.WithCancel(context.Background())
	d := &Drivetrain{
		cfg:    cfg.withDefaults(),
		clock:  clk,
		logger: logger,
		tx:     tx,
		rx:     rx,
		cancel: cancel,
	}
	d.activeBackgroundWorkers.Add(1)
	viamutils.ManagedGo(func() {
		d.receiveThread(cancelCtx)
	}, d.activeBackgroundWorkers.Done)
	return d
}

// receiveThread receives canbus frames and stores feedback.
func (d *Drivetrain) receiveThread(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		frame, err := d.rx.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Errorw("CAN Rx error", "error", err)
			if !viamutils.SelectContextOrWait(ctx, 10*time.Millisecond) {
				return
			}
			continue
		}
		d.handleFrame(frame)
	}
}

func (d *Drivetrain) handleFrame(frame canbus.Frame) {
	id := frame.ID & unix.CAN_EFF_MASK
	if id == idBatteryState {
		soc, err := signalStateOfCharge.decode(frame.Data)
		if err != nil {
			d.logger.Debugw("bad battery frame", "error", err)
			return
		}
		d.mu.Lock()
		d.stateOfCharge = reading.Of(soc)
		d.mu.Unlock()
		return
	}

	for wheel, fid := range feedbackIDs {
		if id != fid {
			continue
		}
		pos, err := signalFeedbackPosition.raw(frame.Data)
		if err != nil {
			d.logger.Debugw("bad feedback frame", "id", id, "error", err)
			return
		}
		rpm, err := signalFeedbackRPM.decode(frame.Data)
		if err != nil {
			rpm = math.NaN()
		}
		d.mu.Lock()
		d.positions[wheel] = pos
		d.rpms[wheel] = rpm
		d.lastFeedback[wheel] = d.clock.Now()
		d.mu.Unlock()
		return
	}
}

// ReadEncoders returns the latest encoder positions. Until every wheel has reported within
// the feedback timeout it returns hardware.ErrUnavailable.
func (d *Drivetrain) ReadEncoders(ctx context.Context) (odometry.EncoderSnapshot, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	now := d.clock.Now()
	for wheel, t := range d.lastFeedback {
		if t.IsZero() || now.Sub(t) > d.cfg.FeedbackTimeout {
			return odometry.EncoderSnapshot{}, errors.Wrapf(hardware.ErrUnavailable, "no encoder feedback from 0x%X", feedbackIDs[wheel])
		}
	}
	return odometry.EncoderSnapshot{
		FL: d.positions[kinematics.FrontLeft],
		FR: d.positions[kinematics.FrontRight],
		RL: d.positions[kinematics.RearLeft],
		RR: d.positions[kinematics.RearRight],
	}, nil
}

// WheelRPM returns the last reported speed of each wheel.
func (d *Drivetrain) WheelRPM() [kinematics.NumWheels]float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rpms
}

// StateOfCharge returns the battery charge in percent, if the pack has reported it.
func (d *Drivetrain) StateOfCharge() reading.Reading[float64] {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stateOfCharge
}

// SetWheelPowers commands every controller in speed mode at power × MaxRPM, saturated to
// what the rpm field can carry.
func (d *Drivetrain) SetWheelPowers(ctx context.Context, p kinematics.WheelPowers) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var errs error
	for wheel, power := range p {
		power = math.Max(-1, math.Min(1, power))
		cmd := mecanumCommand{
			state:   mecanumStates[mecanumStateEnable],
			mode:    mecanumModes[mecanumModeSpeed],
			rpm:     wheelRPM(power, d.cfg.MaxRPM),
			current: d.cfg.CurrentLimit,
		}
		errs = multierr.Append(errs, d.send((&cmd).toFrame(d.logger, motorIDs[wheel])))
	}
	d.logSendResult("drive command send error", errs)
	return errs
}

// SetIndicator maps patterns onto the vehicle lights: hazards while braking for an obstacle,
// head lights otherwise.
func (d *Drivetrain) SetIndicator(ctx context.Context, pattern hardware.Pattern) error {
	cmd := lightCommand{HeadLights: true}
	switch pattern {
	case hardware.PatternWarning, hardware.PatternEmergency:
		cmd.Hazards = true
	case hardware.PatternIdle:
		cmd.HeadLights = false
	}
	return d.send((&cmd).toFrame())
}

func (d *Drivetrain) send(frame canbus.Frame) error {
	if _, err := d.tx.Send(frame); err != nil {
		return errors.Wrapf(err, "sending 0x%X", frame.ID)
	}
	return nil
}

// logSendResult logs only when the bus goes from healthy to failing or back.
func (d *Drivetrain) logSendResult(msg string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	failing := err != nil
	if failing && !d.lastSendErr {
		d.logger.Errorw(msg, "error", err)
	} else if !failing && d.lastSendErr {
		d.logger.Infow("drive commands recovered")
	}
	d.lastSendErr = failing
}

// Close disables the wheels and stops the receive loop.
func (d *Drivetrain) Close(ctx context.Context) error {
	var errs error
	d.closeOnce.Do(func() {
		for _, id := range motorIDs {
			cmd := mecanumCommand{
				state:   mecanumStates[mecanumStateDisable],
				mode:    mecanumModes[mecanumModeSpeed],
				current: d.cfg.CurrentLimit,
			}
			errs = multierr.Append(errs, d.send((&cmd).toFrame(d.logger, id)))
		}
		d.cancel()
		errs = multierr.Combine(errs, d.rx.Close(), d.tx.Close())
		d.activeBackgroundWorkers.Wait()
	})
	return errs
}
