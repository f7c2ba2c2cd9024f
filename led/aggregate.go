package led

import "math"

// Root is the combined state of a set of units: on if any unit is on, and
// for each value the maximum over the units that are on.
type Root struct {
	IsOn       bool
	Brightness float64
	Red        float64
	Green      float64
	Blue       float64
}

// Aggregate folds the given units into a Root. An off unit contributes
// nothing to the maxima.
func Aggregate(units []*Unit) Root {
	var r Root
	for _, u := range units {
		if !u.IsOn() {
			continue
		}
		r.IsOn = true
		r.Brightness = math.Max(r.Brightness, u.Brightness())
		r.Red = math.Max(r.Red, u.Red())
		r.Green = math.Max(r.Green, u.Green())
		r.Blue = math.Max(r.Blue, u.Blue())
	}
	return r
}

// Report is the JSON state published for a route.
type Report struct {
	State      string `json:"state"`
	Brightness int    `json:"brightness"`
	Color      Color  `json:"color"`
}

// Report renders r with the configured on/off strings.
func (r Root) Report(s *Settings) Report {
	return Report{
		State:      s.StateString(r.IsOn),
		Brightness: int(math.Round(r.Brightness)),
		Color: Color{
			R: int(math.Round(r.Red)),
			G: int(math.Round(r.Green)),
			B: int(math.Round(r.Blue)),
		},
	}
}
