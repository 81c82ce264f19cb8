package pattern

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/fieldflywheel/ingest-flywheel/internal/model"
)

// compiledRole caches a PatternRole's optional requirement expressions,
// compiled once per ActivePatterns load rather than per candidate point.
// Adapted from the teacher's tagger.ruleInfo/prepareRule: compile-once,
// run-many against a map[string]any environment.
type compiledRole struct {
	role         model.PatternRole
	requirements []*vm.Program
}

func compileRole(role model.PatternRole) (*compiledRole, error) {
	cr := &compiledRole{role: role}
	for _, r := range role.Requirements {
		prog, err := expr.Compile(r, expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile requirement %q for role %s: %w", r, role.Name, err)
		}
		cr.requirements = append(cr.requirements, prog)
	}
	return cr, nil
}

// satisfies reports whether point/behavior together pass every compiled
// requirement. A role with no requirements always passes, matching §4.G's
// scoring being the sole gate in that case.
func (cr *compiledRole) satisfies(point model.Point, behavior *model.PointBehavior) (bool, error) {
	if len(cr.requirements) == 0 {
		return true, nil
	}

	env := map[string]any{
		"point": map[string]any{
			"name":        point.Name,
			"address":     point.Address,
			"unit":        point.Unit,
			"description": point.Description,
		},
	}
	if behavior != nil {
		env["behavior"] = map[string]any{
			"mean":               behavior.Mean,
			"stddev":             behavior.StdDev,
			"min":                behavior.Min,
			"max":                behavior.Max,
			"sample_count":       behavior.SampleCount,
			"update_rate_hz":     behavior.UpdateRateHz,
			"good_quality_ratio": behavior.GoodQualityRatio,
		}
	}

	for _, prog := range cr.requirements {
		out, err := expr.Run(prog, env)
		if err != nil {
			return false, fmt.Errorf("run requirement for role %s: %w", cr.role.Name, err)
		}
		ok, isBool := out.(bool)
		if !isBool || !ok {
			return false, nil
		}
	}
	return true, nil
}
