package climate

import (
	"context"
	"fmt"
	"strconv"

	"github.com/prite36/growth-chamber-control/internal/dispatch"
	"github.com/prite36/growth-chamber-control/internal/models"
	"github.com/prite36/growth-chamber-control/internal/mqtt"
	"github.com/prite36/growth-chamber-control/internal/sector"
)

// Transport is the part of the MQTT client the thermostat uses.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Topic(deviceID string, parts ...string) string
}

// Thermostat is a climate-family controller. Temperature and humidity map to
// the ESPHome climate entity; CO2 goes to a plain number entity.
type Thermostat struct {
	controller models.Controller
	transport  Transport
	states     mqtt.StateSource
}

var _ dispatch.Actuator = (*Thermostat)(nil)

func NewThermostat(c *mqtt.Client, controller models.Controller) *Thermostat {
	c.AddDevice(controller.DeviceID)
	return &Thermostat{controller: controller, transport: c, states: c.Registry()}
}

func (t *Thermostat) Name() string   { return t.controller.Name }
func (t *Thermostat) Family() string { return models.FamilyClimate }

func (t *Thermostat) Controls(k sector.Kind) bool {
	switch k {
	case sector.Temperature, sector.Humidity, sector.CO2:
		return t.controller.Controls(k)
	}
	return false
}

func (t *Thermostat) Apply(ctx context.Context, cmd dispatch.Command) error {
	device := t.controller.DeviceID
	if st := t.states.State(device); st != mqtt.StateOnline {
		return fmt.Errorf("%w: %s is %s", mqtt.ErrDeviceNotOnline, device, st)
	}
	for _, sp := range cmd.Setpoints[sector.Temperature] {
		if err := t.publish(ctx, t.transport.Topic(device, "climate", sp.SectorID, "target_temperature", "command"), sp.Value); err != nil {
			return err
		}
	}
	for _, sp := range cmd.Setpoints[sector.Humidity] {
		if err := t.publish(ctx, t.transport.Topic(device, "climate", sp.SectorID, "target_humidity", "command"), sp.Value); err != nil {
			return err
		}
	}
	for _, sp := range cmd.Setpoints[sector.CO2] {
		if err := t.publish(ctx, t.transport.Topic(device, "number", sp.SectorID, "command"), sp.Value); err != nil {
			return err
		}
	}
	return nil
}

func (t *Thermostat) publish(ctx context.Context, topic string, v int) error {
	return t.transport.Publish(ctx, topic, []byte(strconv.Itoa(v)))
}
