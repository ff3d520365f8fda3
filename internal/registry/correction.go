package registry

// Correction is an empirical linearity correction applied after zero and
// scale calibration. The hardware's analog front end is not perfectly
// linear across its range; these curves were fitted against reference
// weights.
type Correction interface {
	Correct(grams float64) float64
}

// Identity applies no correction.
type Identity struct{}

func (Identity) Correct(grams float64) float64 { return grams }

// Linear applies slope*g + intercept.
type Linear struct {
	Slope     float64 `yaml:"slope" json:"slope"`
	Intercept float64 `yaml:"intercept" json:"intercept"`
}

func (l Linear) Correct(grams float64) float64 {
	return l.Slope*grams + l.Intercept
}

// Quadratic applies a*g² + b*g + c.
type Quadratic struct {
	A float64 `yaml:"a" json:"a"`
	B float64 `yaml:"b" json:"b"`
	C float64 `yaml:"c" json:"c"`
}

func (q Quadratic) Correct(grams float64) float64 {
	return q.A*grams*grams + q.B*grams + q.C
}

// Fitted constants from the bench calibration runs.
var (
	FittedLinear    = Linear{Slope: 0.990527, Intercept: -2.990644}
	FittedQuadratic = Quadratic{A: 0.001261538, B: 0.715034, C: 5.158309}
)
