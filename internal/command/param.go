package command

import (
	"errors"
	"fmt"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/ardupilotmega"

	"github.com/dronix/groundstation/internal/link"
)

// ErrParamTimeout is returned when the vehicle does not echo a parameter
// within the parameter timeout.
var ErrParamTimeout = errors.New("parameter response timed out")

// Param is a named autopilot parameter.
type Param struct {
	Name  string  `json:"param_id"`
	Value float64 `json:"value"`
	Type  int     `json:"type"`
}

// awaitParam registers for the PARAM_VALUE echo matching name, then calls
// send. The vehicle confirms both reads and writes with the same message.
func (c *Commands) awaitParam(name string, send func() error) (Param, error) {
	values, cancel := c.link.Subscribe(func(f link.Frame) bool {
		pv, ok := f.Message.(*ardupilotmega.MessageParamValue)
		return ok && pv.ParamId == name
	})
	defer cancel()

	if err := send(); err != nil {
		return Param{}, err
	}

	select {
	case f := <-values:
		pv := f.Message.(*ardupilotmega.MessageParamValue)
		return Param{
			Name:  pv.ParamId,
			Value: float64(pv.ParamValue),
			Type:  int(pv.ParamType),
		}, nil
	case <-time.After(c.paramTimeout):
		return Param{}, fmt.Errorf("%w: %s", ErrParamTimeout, name)
	}
}

// SetParam writes an autopilot parameter and waits for the vehicle to echo
// the stored value.
func (c *Commands) SetParam(name string, value float64) (Param, error) {
	sys, comp := c.link.Target()

	p, err := c.awaitParam(name, func() error {
		return c.link.Send(&ardupilotmega.MessageParamSet{
			TargetSystem:    sys,
			TargetComponent: comp,
			ParamId:         name,
			ParamValue:      float32(value),
			ParamType:       ardupilotmega.MAV_PARAM_TYPE_REAL32,
		})
	})
	if err != nil {
		c.logger.Error("set param failed", "param", name, "error", err)
		return Param{}, err
	}

	c.logger.Info("param set", "param", p.Name, "value", p.Value)
	return p, nil
}

// GetParam reads an autopilot parameter by name.
func (c *Commands) GetParam(name string) (Param, error) {
	sys, comp := c.link.Target()

	p, err := c.awaitParam(name, func() error {
		return c.link.Send(&ardupilotmega.MessageParamRequestRead{
			TargetSystem:    sys,
			TargetComponent: comp,
			ParamId:         name,
			ParamIndex:      -1,
		})
	})
	if err != nil {
		c.logger.Error("get param failed", "param", name, "error", err)
		return Param{}, err
	}

	return p, nil
}
