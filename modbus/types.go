package modbus

import (
	"encoding/binary"
	"math"
)

// Type represents the different types of data that can be queried over modbus.
type Type struct {
	name          string                   // the name of the data type
	dataLength    uint16                   // the number of underlying bytes to represent the data type
	fromBytesFunc func([]byte) interface{} // function to convert the bytes to the concrete data type
}

func (t Type) String() string { return t.name }

// FloatType represents the 32 bit float data type.
var FloatType = Type{
	name:       "float",
	dataLength: 4,
	fromBytesFunc: func(bytes []byte) interface{} {
		return float64(math.Float32frombits(binary.BigEndian.Uint32(bytes)))
	},
}

// Int16Type represents the 16 bit signed integer data type on Modbus.
var Int16Type = Type{
	name:       "int16",
	dataLength: 2,
	fromBytesFunc: func(bytes []byte) interface{} {
		return int16(binary.BigEndian.Uint16(bytes))
	},
}

// Uint16Type represents the 16 bit unsigned integer data type on Modbus.
var Uint16Type = Type{
	name:       "uint16",
	dataLength: 2,
	fromBytesFunc: func(bytes []byte) interface{} {
		return binary.BigEndian.Uint16(bytes)
	},
}

// Uint32Type represents the 32 bit unsigned integer data type on Modbus.
var Uint32Type = Type{
	name:       "uint32",
	dataLength: 4,
	fromBytesFunc: func(bytes []byte) interface{} {
		return binary.BigEndian.Uint32(bytes)
	},
}

// Scaler can be any object used to help scale modbus values, for example a sensor holding calibration state.
type Scaler interface{}

// valueScalingFunc is a prototype for a function that scales a modbus value.
type valueScalingFunc func(Scaler, interface{}) interface{}

// Metric holds a value on the modbus slave at the given address.
type Metric struct {
	StartAddr   uint16
	DataType    Type
	ScalingFunc valueScalingFunc // scales the received value to get its 'true' value
}

// MetricBlock represents a contiguous block of modbus registers that are read in one chunk.
type MetricBlock struct {
	Name         string            // name of the block used for context/logging
	StartAddr    uint16            // the first register address of the block
	NumRegisters uint16            // the number of registers in this block (each register is two bytes)
	Metrics      map[string]Metric // details of all the metrics of interest in this block, keyed by unique name
}
