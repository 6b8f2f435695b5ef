package modbus

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/mitchellh/mapstructure"
)

const (
	registerTemperature = 0x0000
	registerHumidity    = 0x0001
	registerBattery     = 0x0002
	registerPulses      = 0x0010

	// SensorRecordSize is the number of bytes a reading occupies in a metric group region.
	SensorRecordSize = 10
)

// SensorReading holds one poll of an environmental bench sensor.
type SensorReading struct {
	Temperature float64 `mapstructure:"temperature"` // degrees C
	Humidity    float64 `mapstructure:"humidity"`    // %RH
	Battery     float64 `mapstructure:"battery"`     // volts
	Pulses      uint32  `mapstructure:"pulses"`      // pulse counter since power on
}

// Record packs the reading into the compact form stored in a metric group region:
// int16 centi-degrees, uint16 centi-percent, uint16 millivolts, uint32 pulses, all little-endian.
func (r SensorReading) Record() []byte {
	b := make([]byte, SensorRecordSize)
	binary.LittleEndian.PutUint16(b[0:2], uint16(int16(math.Round(r.Temperature*100))))
	binary.LittleEndian.PutUint16(b[2:4], uint16(math.Round(r.Humidity*100)))
	binary.LittleEndian.PutUint16(b[4:6], uint16(math.Round(r.Battery*1000)))
	binary.LittleEndian.PutUint32(b[6:10], r.Pulses)
	return b
}

func scaleDiv(divisor float64) valueScalingFunc {
	return func(_ Scaler, val interface{}) interface{} {
		switch v := val.(type) {
		case int16:
			return float64(v) / divisor
		case uint16:
			return float64(v) / divisor
		}
		return val
	}
}

var sensorBlocks = []MetricBlock{
	{
		Name:         "environment",
		StartAddr:    registerTemperature,
		NumRegisters: 3,
		Metrics: map[string]Metric{
			"temperature": {StartAddr: registerTemperature, DataType: Int16Type, ScalingFunc: scaleDiv(10)},
			"humidity":    {StartAddr: registerHumidity, DataType: Uint16Type, ScalingFunc: scaleDiv(10)},
			"battery":     {StartAddr: registerBattery, DataType: Uint16Type, ScalingFunc: scaleDiv(1000)},
		},
	},
	{
		Name:         "counters",
		StartAddr:    registerPulses,
		NumRegisters: 2,
		Metrics: map[string]Metric{
			"pulses": {StartAddr: registerPulses, DataType: Uint32Type},
		},
	},
}

// Sensor polls an environmental sensor attached over Modbus TCP, standing in for the sensor drivers of a board.
type Sensor struct {
	client *Client
}

func NewSensor(client *Client) *Sensor {
	return &Sensor{client: client}
}

// Poll reads every register block of the sensor.
func (s *Sensor) Poll() (SensorReading, error) {
	metrics, err := s.client.PollBlocks(s, sensorBlocks)
	if err != nil {
		return SensorReading{}, fmt.Errorf("poll sensor: %w", err)
	}
	return metricsToReading(metrics)
}

// metricsToReading converts the given map of metrics into a concrete `SensorReading` instance.
func metricsToReading(metrics map[string]interface{}) (SensorReading, error) {
	var reading SensorReading
	err := mapstructure.Decode(metrics, &reading)
	if err != nil {
		return SensorReading{}, fmt.Errorf("decode metric map: %w", err)
	}
	return reading, nil
}
