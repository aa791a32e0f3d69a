package features

// Feature Extraction
//
// Extract reduces one run's 12-channel sensor trace plus its setup
// parameters to a fixed-length vector:
//
//   - Per-channel summary statistics: mean, standard deviation, min, max,
//     and the slope of a least-squares line over elapsed seconds (trend).
//   - Setup scalars: target thickness, spray distance, robot speed.
//   - Cross-channel stability indices: coefficient of variation of the
//     deposition rate, plasma power/temperature correlation, energy
//     density, gas ratios, substrate temperature rise, plasma stability.
//
// The same function runs at training time and at inference time, so the
// vector layout is governed by the versioned schema in schema.go. A trace
// with an unexpected sample count fails with a SchemaMismatchError instead
// of producing a silently padded vector.

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"coating-metrology/simulation"
)

// Extract computes the schema-v1 feature vector for a run. It is a pure
// function of the run's setup parameters and sensor trace.
func Extract(run *simulation.Run) (Vector, error) {
	trace := run.Trace
	if len(trace) != simulation.SamplesPerRun {
		return Vector{}, &SchemaMismatchError{
			Expected: simulation.SamplesPerRun,
			Got:      len(trace),
			Detail:   "trace sample count",
		}
	}

	values := make([]float64, 0, Count())
	times := trace.ElapsedSeconds()

	for _, channel := range simulation.ChannelNames {
		series, ok := trace.Channel(channel)
		if !ok {
			return Vector{}, &SchemaMismatchError{
				Expected: len(simulation.ChannelNames),
				Got:      0,
				Detail:   "unknown channel " + channel,
			}
		}
		values = append(values,
			stat.Mean(series, nil),
			stat.StdDev(series, nil),
			floats.Min(series),
			floats.Max(series),
			trendSlope(times, series),
		)
	}

	values = append(values,
		run.Setup.TargetThicknessUm,
		run.Setup.SprayDistanceMm,
		run.Setup.RobotSpeedMmS,
	)

	cross, err := crossChannelFeatures(trace)
	if err != nil {
		return Vector{}, err
	}
	values = append(values, cross...)

	return Vector{SchemaVersion: SchemaVersion, Values: values}, nil
}

// trendSlope fits y = alpha + beta*t and returns beta.
func trendSlope(times, series []float64) float64 {
	if len(series) < 2 {
		return 0
	}
	_, beta := stat.LinearRegression(times, series, nil, false)
	return beta
}

func crossChannelFeatures(trace simulation.SensorTrace) ([]float64, error) {
	deposition, _ := trace.Channel("deposition_rate_um_s")
	power, _ := trace.Channel("plasma_power_kw")
	temp, _ := trace.Channel("plasma_temp_c")
	primaryGas, _ := trace.Channel("primary_gas_flow_slpm")
	secondaryGas, _ := trace.Channel("secondary_gas_flow_slpm")
	powderFeed, _ := trace.Channel("powder_feed_rate_g_min")
	carrierGas, _ := trace.Channel("carrier_gas_flow_slpm")
	substrate, _ := trace.Channel("substrate_temp_c")

	depositionMean := stat.Mean(deposition, nil)
	powerMean := stat.Mean(power, nil)

	return []float64{
		// deposition_rate_cv: instability of the deposition process
		safeDiv(stat.StdDev(deposition, nil), depositionMean),
		// power_temp_correlation: plasma coupling health
		stat.Correlation(power, temp, nil),
		// energy_density: power per unit of total gas flow
		safeDiv(powerMean, stat.Mean(primaryGas, nil)+stat.Mean(secondaryGas, nil)),
		// gas_ratio: argon to hydrogen
		safeDiv(stat.Mean(primaryGas, nil), stat.Mean(secondaryGas, nil)),
		// powder_to_carrier_ratio
		safeDiv(stat.Mean(powderFeed, nil), stat.Mean(carrierGas, nil)),
		// substrate_temp_rise over the run
		substrate[len(substrate)-1] - substrate[0],
		// plasma_stability: 1 - power CV
		1 - safeDiv(stat.StdDev(power, nil), powerMean),
	}, nil
}

func safeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
