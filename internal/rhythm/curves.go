package rhythm

import "github.com/xiy/petpulse/pkg/types"

// Hourly activity weights in [0, 1], indexed by local hour.
var curves = map[types.Chronotype][24]float64{
	types.ChronotypeEarlyBird: {
		0, 0, 0, 0, 0.05, 0.4, // 00-05
		0.9, 1.0, 1.0, 1.0, 0.9, 0.7, // 06-11
		0.6, 0.5, 0.5, 0.5, 0.5, 0.4, // 12-17
		0.4, 0.3, 0.2, 0.1, 0, 0, // 18-23
	},
	types.ChronotypeNormal: {
		0.1, 0.05, 0, 0, 0, 0, // 00-05
		0.05, 0.2, 0.4, 0.6, 0.8, 1.0, // 06-11
		1.0, 0.8, 0.6, 0.6, 0.7, 0.8, // 12-17
		1.0, 1.0, 0.8, 0.6, 0.4, 0.2, // 18-23
	},
	types.ChronotypeNightOwl: {
		0.9, 0.7, 0.4, 0, 0, 0, // 00-05
		0, 0, 0.1, 0.3, 0.5, 0.7, // 06-11
		0.7, 0.7, 0.8, 0.9, 1.0, 1.0, // 12-17
		1.0, 1.0, 1.0, 1.0, 1.0, 1.0, // 18-23
	},
}

// ActivityWeight returns how active a chronotype is at a local hour.
// Unknown chronotypes use the normal curve.
func ActivityWeight(c types.Chronotype, hour int) float64 {
	curve, ok := curves[c]
	if !ok {
		curve = curves[types.ChronotypeNormal]
	}
	return curve[((hour%24)+24)%24]
}
