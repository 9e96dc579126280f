package synth

// CovariateSelection decides which frame columns become covariates.
// The zero value selects every remaining column.
type CovariateSelection struct {
	names    []string
	explicit bool
}

// AllRemaining selects every column except id, time and outcome, in frame order
func AllRemaining() CovariateSelection {
	return CovariateSelection{}
}

// Columns selects the named columns, in the given order
func Columns(names ...string) CovariateSelection {
	return CovariateSelection{names: append([]string{}, names...), explicit: true}
}

// IsExplicit reports whether the selection enumerates its columns
func (s CovariateSelection) IsExplicit() bool {
	return s.explicit
}

// Names returns the explicitly selected names, or nil for AllRemaining
func (s CovariateSelection) Names() []string {
	if !s.explicit {
		return nil
	}
	return append([]string{}, s.names...)
}

// String returns the string representation of the selection mode
func (s CovariateSelection) String() string {
	if s.explicit {
		return "explicit"
	}
	return "all_remaining"
}

// PanelSpec names the structural columns of a Frame and the treatment assignment.
type PanelSpec struct {
	ID              string             `json:"id" validate:"required"`
	Time            string             `json:"time" validate:"required"`
	Outcome         string             `json:"outcome" validate:"required"`
	TreatmentPeriod float64            `json:"treatment_period"`
	TreatedUnit     string             `json:"treated_unit" validate:"required"`
	Covariates      CovariateSelection `json:"-"`
}

// resolveCovariates returns the covariate columns for the frame.
func (s PanelSpec) resolveCovariates(f *Frame) ([]string, error) {
	structural := map[string]bool{s.ID: true, s.Time: true, s.Outcome: true}

	if !s.Covariates.explicit {
		var covariates []string
		for _, name := range f.Names() {
			if !structural[name] {
				covariates = append(covariates, name)
			}
		}
		return covariates, nil
	}

	seen := make(map[string]bool, len(s.Covariates.names))
	covariates := make([]string, 0, len(s.Covariates.names))
	for _, name := range s.Covariates.names {
		switch {
		case structural[name]:
			return nil, newMalformedPanel("covariates", "structural column selected as covariate", name, Dimensions{})
		case !f.Has(name):
			return nil, newMalformedPanel("covariates", "covariate column not found", name, Dimensions{})
		case seen[name]:
			return nil, newMalformedPanel("covariates", "covariate selected twice", name, Dimensions{})
		}
		seen[name] = true
		covariates = append(covariates, name)
	}
	return covariates, nil
}
