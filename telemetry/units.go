package telemetry

// Dose unit systems.
const (
	SystemSievert  = "Sv"
	SystemRoentgen = "R"
)

// Default unit selection.
const (
	DefaultSystem = SystemSievert
	DefaultPrefix = "micro"
)

var prefixFactor = map[string]float64{
	"whole": 1,
	"deci":  10,
	"centi": 100,
	"milli": 1e3,
	"micro": 1e6,
	"nano":  1e9,
}

var prefixSymbol = map[string]string{
	"whole": "",
	"deci":  "d",
	"centi": "c",
	"milli": "m",
	"micro": "µ",
	"nano":  "n",
}

// Units is the configured dose unit, e.g. µSv.
type Units struct {
	System string
	Prefix string
}

// NewUnits returns Units for system and prefix. Unknown values fall back to
// DefaultSystem and DefaultPrefix independently.
func NewUnits(system, prefix string) Units {
	if system != SystemSievert && system != SystemRoentgen {
		system = DefaultSystem
	}
	if _, ok := prefixFactor[prefix]; !ok {
		prefix = DefaultPrefix
	}

	return Units{System: system, Prefix: prefix}
}

// ValidPrefix reports whether prefix is a known SI prefix name.
func ValidPrefix(prefix string) bool {
	_, ok := prefixFactor[prefix]
	return ok
}

// Factor is the multiplier applied to raw device values, which are reported in whole units.
func (u Units) Factor() float64 {
	if f, ok := prefixFactor[u.Prefix]; ok {
		return f
	}

	return prefixFactor[DefaultPrefix]
}

// DoseUnit returns the unit of cumulative dose, e.g. "µSv".
func (u Units) DoseUnit() string {
	return prefixSymbol[u.Prefix] + u.System
}

// RateUnit returns the unit of dose rate, e.g. "µSv/h".
func (u Units) RateUnit() string {
	return u.DoseUnit() + "/h"
}
