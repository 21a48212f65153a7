package analyzer

var kindRanges = map[Kind]Ranges{
	KindHP4294A: {
		MinFreq: 1, MaxFreq: 40_000_000,
		MinVolt: 0.001, MaxVolt: 5,
		MinPoints: 2, MaxPoints: 802,
		MaxPointAverage: 256,
		MinBandwidth:    1, MaxBandwidth: 5,
	},
	KindNovocontrol: {
		MinFreq: 1, MaxFreq: 40_000_000,
		MinVolt: 0.001, MaxVolt: 5,
		MinPoints: 1, MaxPoints: 1500,
		MaxPointAverage: 256,
	},
	KindEmStatPico: {
		MinFreq: 1, MaxFreq: 200_000,
		MinVolt: 1e-6, MaxVolt: 0.2,
		MinPoints: 1, MaxPoints: 500,
		MaxPointAverage: 10,
	},
	KindSimulator: {
		MinFreq: 1, MaxFreq: 40_000_000,
		MinVolt: 0.001, MaxVolt: 5,
		MinPoints: 1, MaxPoints: 1500,
		MaxPointAverage: 256,
	},
}

var kindDefaults = map[Kind]Params{
	KindHP4294A:     {StartFreq: 100, StopFreq: 40_000_000, Voltage: 0.05, Points: 200, PointAverage: 1, WireMode: FourWire, Bandwidth: 2},
	KindNovocontrol: {StartFreq: 100, StopFreq: 4_000_000, Voltage: 0.05, Points: 100, PointAverage: 1, WireMode: FourWire},
	KindEmStatPico:  {StartFreq: 100, StopFreq: 200_000, Voltage: 0.05, Points: 200, PointAverage: 1, WireMode: FourWire},
	KindSimulator:   {StartFreq: 100, StopFreq: 4_000_000, Voltage: 0.05, Points: 100, PointAverage: 1, WireMode: FourWire},
}

// RangesFor returns the limits of kind.
func RangesFor(kind Kind) Ranges {
	return kindRanges[kind]
}

// DefaultParams returns the power-on configuration of kind.
func DefaultParams(kind Kind) Params {
	return kindDefaults[kind]
}
