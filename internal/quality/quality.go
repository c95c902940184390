// Package quality scores a submission payload against its form schema.
package quality

import (
	"github.com/macleangm-debug/FieldForce/internal/models"
)

const (
	MaxScore          = 100.0
	MissingPenalty    = 10.0
	OutOfRangePenalty = 5.0
)

const (
	FlagMissingRequired = "missing_required"
	FlagBelowMin        = "below_min"
	FlagAboveMax        = "above_max"
)

type Result struct {
	Score float64  `json:"quality_score"`
	Flags []string `json:"quality_flags"`
}

// Score is pure and deterministic. Fields are checked in schema order; when a
// name is declared twice only the first declaration counts. Payload keys the
// schema does not declare are ignored.
func Score(data models.Data, fields []models.FieldSpec) Result {
	res := Result{Score: MaxScore, Flags: []string{}}
	seen := make(map[string]struct{}, len(fields))

	for _, f := range fields {
		if _, dup := seen[f.Name]; dup {
			continue
		}
		seen[f.Name] = struct{}{}

		v, present := data[f.Name]
		rules := f.Validation

		if rules.Required && (!present || v.IsEmpty()) {
			res.Score -= MissingPenalty
			res.Flags = append(res.Flags, FlagMissingRequired+":"+f.Name)
			continue
		}

		n, numeric := v.AsNumber()
		if !numeric {
			continue
		}
		if rules.MinValue != nil && n < *rules.MinValue {
			res.Score -= OutOfRangePenalty
			res.Flags = append(res.Flags, FlagBelowMin+":"+f.Name)
		}
		if rules.MaxValue != nil && n > *rules.MaxValue {
			res.Score -= OutOfRangePenalty
			res.Flags = append(res.Flags, FlagAboveMax+":"+f.Name)
		}
	}

	if res.Score < 0 {
		res.Score = 0
	}
	return res
}
