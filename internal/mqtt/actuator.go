package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prite36/growth-chamber-control/internal/dispatch"
	"github.com/prite36/growth-chamber-control/internal/models"
	"github.com/prite36/growth-chamber-control/internal/sector"
)

// ErrDeviceNotOnline is returned when a command targets a device whose last
// known state is not online.
var ErrDeviceNotOnline = errors.New("device not online")

// Publisher sends one MQTT message.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// StateSource reports device connection state.
type StateSource interface {
	State(deviceID string) State
}

type lightCommand struct {
	State      string `json:"state"`
	Brightness int    `json:"brightness,omitempty"`
}

type valveCommand struct {
	Duration int `json:"duration"`
}

type pinCommand struct {
	State    string `json:"state"`
	Duration int    `json:"duration,omitempty"`
}

// Actuator translates dispatch commands into ESPHome command topics of one
// device:
//
//	<prefix>/<device>/number/<sector>/command   climate setpoints
//	<prefix>/<device>/light/<sector>/command    {"state":"ON","brightness":0-255}
//	<prefix>/<device>/valve/<sector>/command    {"duration":seconds}
//	<prefix>/<device>/pin/<pin>/command         {"state":"ON","duration":seconds}
type Actuator struct {
	controller models.Controller
	client     *Client
	pub        Publisher
	states     StateSource
}

var _ dispatch.Actuator = (*Actuator)(nil)

// NewActuator binds a controller to the client. The device is tracked by the
// client's registry from now on.
func NewActuator(c *Client, controller models.Controller) *Actuator {
	c.AddDevice(controller.DeviceID)
	return &Actuator{controller: controller, client: c, pub: c, states: c.Registry()}
}

func (a *Actuator) Name() string                { return a.controller.Name }
func (a *Actuator) Family() string              { return models.FamilyESPHome }
func (a *Actuator) Controls(k sector.Kind) bool { return a.controller.Controls(k) }

// Apply publishes every setpoint of cmd. It stops at the first failed
// publish; later setpoints are re-sent on the next tick.
func (a *Actuator) Apply(ctx context.Context, cmd dispatch.Command) error {
	device := a.controller.DeviceID
	if st := a.states.State(device); st != StateOnline {
		return fmt.Errorf("%w: %s is %s", ErrDeviceNotOnline, device, st)
	}
	msgs, err := a.messages(cmd)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if err := a.pub.Publish(ctx, m.topic, m.payload); err != nil {
			return err
		}
	}
	return nil
}

type message struct {
	topic   string
	payload []byte
}

func (a *Actuator) messages(cmd dispatch.Command) ([]message, error) {
	device := a.controller.DeviceID
	var out []message
	add := func(topic string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", topic, err)
		}
		out = append(out, message{topic: topic, payload: b})
		return nil
	}

	for _, k := range sector.Kinds() {
		for _, sp := range cmd.Setpoints[k] {
			var err error
			switch k {
			case sector.Temperature, sector.Humidity, sector.CO2:
				err = add(a.client.Topic(device, "number", sp.SectorID, "command"), sp.Value)
			case sector.Light:
				err = add(a.client.Topic(device, "light", sp.SectorID, "command"), light(sp.Value))
			case sector.Watering:
				if sp.Value <= 0 {
					continue
				}
				err = add(a.client.Topic(device, "valve", sp.SectorID, "command"), valveCommand{Duration: sp.Value})
			}
			if err != nil {
				return nil, err
			}
		}
	}
	for _, u := range cmd.Utils {
		state := "OFF"
		if u.State {
			state = "ON"
		}
		if err := add(a.client.Topic(device, "pin", u.Pin, "command"), pinCommand{State: state, Duration: u.Duration}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// light maps an intensity percentage onto ESPHome's 0-255 brightness.
func light(percent int) lightCommand {
	if percent <= 0 {
		return lightCommand{State: "OFF"}
	}
	if percent > 100 {
		percent = 100
	}
	return lightCommand{State: "ON", Brightness: percent * 255 / 100}
}
