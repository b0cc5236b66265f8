// Package speed turns raw maxspeed tags into integer mph values and falls back
// to a per-highway-class table when the tag is missing or unusable.
package speed

import (
	"math"
	"strconv"
	"strings"
)

// KmhToMph is the conversion factor applied to km/h and unit-less values
const KmhToMph = 0.621371

// DefaultClasses is the inference table used when a way has no usable maxspeed
var DefaultClasses = map[string]int{
	"motorway":     70,
	"trunk":        60,
	"primary":      50,
	"secondary":    40,
	"tertiary":     30,
	"unclassified": 30,
	"residential":  30,
	"service":      10,
}

// ParseTag parses a raw maxspeed value into mph.
// Values without a unit are treated as km/h.
func ParseTag(raw string) (int, bool) {
	r := strings.ToLower(strings.TrimSpace(raw))
	if r == "" || r == "none" {
		return 0, false
	}

	v, err := strconv.ParseFloat(numericPart(r), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}

	if !strings.Contains(r, "mph") {
		v *= KmhToMph
	}
	v = math.Round(v)
	if v <= 0 || v > math.MaxInt32 {
		return 0, false
	}
	return int(v), true
}

// numericPart keeps only digits and dots
func numericPart(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		if (c >= '0' && c <= '9') || c == '.' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// InferFromClass looks up the default speed for a highway class
func InferFromClass(class string) (int, bool) {
	mph, ok := DefaultClasses[strings.ToLower(class)]
	return mph, ok
}

// Resolver applies the full resolution chain: tag, script, class table
type Resolver struct {
	classes map[string]int
	script  *Script
}

// NewResolver creates a resolver using the default class table
func NewResolver() *Resolver {
	classes := make(map[string]int, len(DefaultClasses))
	for k, v := range DefaultClasses {
		classes[k] = v
	}
	return &Resolver{classes: classes}
}

// WithProfile merges profile class entries over the current table
func (r *Resolver) WithProfile(p *Profile) *Resolver {
	if p == nil {
		return r
	}
	for k, v := range p.Classes {
		k = strings.ToLower(strings.TrimSpace(k))
		if v <= 0 {
			delete(r.classes, k)
			continue
		}
		r.classes[k] = v
	}
	return r
}

// WithScript installs a Lua inference hook
func (r *Resolver) WithScript(s *Script) *Resolver {
	r.script = s
	return r
}

// Resolve returns the speed limit in mph, or nil when it cannot be determined
func (r *Resolver) Resolve(maxspeed, highway *string) *int {
	if maxspeed != nil {
		if mph, ok := ParseTag(*maxspeed); ok && mph > 0 {
			return &mph
		}
	}

	if r.script != nil {
		if mph, ok := r.script.Infer(deref(highway), deref(maxspeed)); ok && mph > 0 {
			return &mph
		}
	}

	if highway != nil {
		if mph, ok := r.classes[strings.ToLower(*highway)]; ok && mph > 0 {
			return &mph
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
