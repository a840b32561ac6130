package pzem004

type Readings struct {
	// AC voltage in volts
	Voltage float64
	// AC current in amps
	Current float64
	// Active power in watts
	Power uint32
	// Energy accumulated by the meter, in Wh
	AccumulatedEnergy uint32
}

type MeterReader interface {
	IsReady() (bool, error)
	ReadVoltage() (float64, error)
	ReadCurrent() (float64, error)
	ReadPower() (uint32, error)
	ReadAccumulatedEnergy() (uint32, error)
	ReadAll() (*Readings, error)
	Close() error
}
