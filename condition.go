package stamp

import (
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/k1LoW/stamp/config"
	"github.com/k1LoW/stamp/template"
)

// conditionStore builds the variables visible to defaults[].if and postCommand expressions.
func conditionStore(base, logo *Image, output string, format Format) map[string]any {
	return map[string]any{
		"base":   imageVars(base),
		"logo":   imageVars(logo),
		"output": output,
		"format": string(format),
		"env":    template.EnvironToMap(),
	}
}

func imageVars(i *Image) map[string]any {
	if i == nil {
		return map[string]any{}
	}
	return map[string]any{
		"path":   i.Source(),
		"width":  i.Width(),
		"height": i.Height(),
		"format": string(i.Format()),
	}
}

// checkCondition compiles the condition's expression so that typos surface when options are applied.
func checkCondition(d config.DefaultCondition) error {
	if d.If == "" {
		return fmt.Errorf("defaults: condition has an empty if")
	}
	store := conditionStore(nil, nil, "", "")
	if err := template.Check(d.If, store); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	if d.Filter != "" {
		if _, err := ParseFilter(d.Filter); err != nil {
			return fmt.Errorf("defaults: %w", err)
		}
	}
	return nil
}

// resolve decides the placement and filter for one Apply call.
// Configured values come first, then every matching condition in order, then explicit overrides.
func (s *Stamp) resolve(store map[string]any) (Placement, imaging.ResampleFilter, *Error) {
	p := s.placement
	filterName := s.filter
	for _, d := range s.defaults {
		ok, err := template.EvalBool(d.If, store)
		if err != nil {
			return Placement{}, imaging.ResampleFilter{}, newError(KindInvalidArgument, "", fmt.Errorf("defaults: %w", err))
		}
		if !ok {
			continue
		}
		s.logger.Debug("condition matched", "if", d.If)
		if d.Scale != nil {
			p.Scale = *d.Scale
		}
		if d.X != nil {
			p.X = *d.X
		}
		if d.Y != nil {
			p.Y = *d.Y
		}
		if d.Filter != "" {
			filterName = d.Filter
		}
	}
	if s.override.scale != nil {
		p.Scale = *s.override.scale
	}
	if s.override.x != nil {
		p.X = *s.override.x
	}
	if s.override.y != nil {
		p.Y = *s.override.y
	}
	if s.override.filter != "" {
		filterName = s.override.filter
	}
	if err := p.Validate(); err != nil {
		return Placement{}, imaging.ResampleFilter{}, asError(err, "")
	}
	filter, err := ParseFilter(filterName)
	if err != nil {
		return Placement{}, imaging.ResampleFilter{}, newError(KindInvalidArgument, "", err)
	}
	return p, filter, nil
}
