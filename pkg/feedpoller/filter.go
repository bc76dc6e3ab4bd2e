package feedpoller

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/travigo/sytral-relay/pkg/ctdf"
)

// FilterEnv is what a filter expression can see, eg. `Line in ["C3", "T1"]`
type FilterEnv struct {
	Line       string
	VehicleRef string
	Direction  string
	Latitude   float64
	Longitude  float64
}

type Filter struct {
	program *vm.Program
}

// NewFilter compiles the expression. An empty expression keeps every vehicle.
func NewFilter(expression string) (*Filter, error) {
	if expression == "" {
		return &Filter{}, nil
	}

	program, err := expr.Compile(expression, expr.Env(FilterEnv{}), expr.AsBool())
	if err != nil {
		return nil, err
	}

	return &Filter{program: program}, nil
}

func (f *Filter) Apply(batch ctdf.VehicleBatch) (ctdf.VehicleBatch, error) {
	if f == nil || f.program == nil {
		return batch, nil
	}

	filtered := ctdf.VehicleBatch{}
	for _, vehicle := range batch {
		output, err := expr.Run(f.program, envFor(vehicle))
		if err != nil {
			return nil, err
		}

		if output.(bool) {
			filtered = append(filtered, vehicle)
		}
	}

	return filtered, nil
}

func envFor(vehicle ctdf.Vehicle) FilterEnv {
	env := FilterEnv{
		Latitude:  vehicle.Latitude,
		Longitude: vehicle.Longitude,
	}
	if vehicle.Line != nil {
		env.Line = *vehicle.Line
	}
	if vehicle.VehicleRef != nil {
		env.VehicleRef = *vehicle.VehicleRef
	}
	if vehicle.Direction != nil {
		env.Direction = *vehicle.Direction
	}

	return env
}
