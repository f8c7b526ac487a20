// Package features defines the passenger feature contract shared by the
// training pipeline and the inference service: the ordered list of model
// inputs, the categorical encodings and the accepted value ranges.
//
// Every row the model ever sees, at fit time or at serving time, is produced
// by Encode, so the column order and the sex mapping live in exactly one place.
package features

import (
	"fmt"
	"math"
	"strings"
)

// Column names as they appear in the raw dataset and in request payloads.
const (
	Pclass   = "Pclass"
	Sex      = "Sex"
	Age      = "Age"
	SibSp    = "SibSp"
	Fare     = "Fare"
	Survived = "Survived"
)

// Sex values accepted by the contract (compared case-insensitively).
const (
	SexMale   = "male"
	SexFemale = "female"
)

// Validation bounds.
const (
	MinPclass = 1
	MaxPclass = 3
	MinAge    = 0.0
	MaxAge    = 120.0
)

// Class indices and their human readable labels.
const (
	ClassDidNotSurvive = 0
	ClassSurvived      = 1

	LabelDidNotSurvive = "Did Not Survive"
	LabelSurvived      = "Survived"
)

var order = []string{Pclass, Sex, Age, SibSp, Fare}

// Names returns the model input columns in contract order.
// The returned slice is a copy.
func Names() []string {
	out := make([]string, len(order))
	copy(out, order)
	return out
}

// Count is the number of model inputs.
func Count() int { return len(order) }

// Labels returns the class labels indexed by class.
func Labels() []string {
	return []string{LabelDidNotSurvive, LabelSurvived}
}

// LabelFor maps a class index to its label.
func LabelFor(class int) string {
	if class == ClassSurvived {
		return LabelSurvived
	}
	return LabelDidNotSurvive
}

// MatchesOrder reports whether names equals the contract order exactly.
func MatchesOrder(names []string) bool {
	if len(names) != len(order) {
		return false
	}
	for i := range order {
		if names[i] != order[i] {
			return false
		}
	}
	return true
}

// Record is a single passenger as seen by the model, before encoding.
type Record struct {
	Pclass int     `json:"Pclass"`
	Sex    string  `json:"Sex"`
	Age    float64 `json:"Age"`
	SibSp  int     `json:"SibSp"`
	Fare   float64 `json:"Fare"`
}

// RangeError reports a field that violates the contract.
type RangeError struct {
	Field  string
	Reason string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Normalize returns a copy of r with Sex trimmed and lower-cased.
func (r Record) Normalize() Record {
	r.Sex = strings.ToLower(strings.TrimSpace(r.Sex))
	return r
}

// Validate checks every field against the contract bounds and returns the
// first violation as a *RangeError.
func (r Record) Validate() error {
	if r.Pclass < MinPclass || r.Pclass > MaxPclass {
		return &RangeError{Field: Pclass, Reason: "must be 1, 2, or 3"}
	}
	if _, err := EncodeSex(r.Sex); err != nil {
		return err
	}
	if math.IsNaN(r.Age) || r.Age < MinAge || r.Age > MaxAge {
		return &RangeError{Field: Age, Reason: "must be between 0 and 120"}
	}
	if r.SibSp < 0 {
		return &RangeError{Field: SibSp, Reason: "cannot be negative"}
	}
	if math.IsNaN(r.Fare) || math.IsInf(r.Fare, 0) || r.Fare < 0 {
		return &RangeError{Field: Fare, Reason: "cannot be negative"}
	}
	return nil
}

// EncodeSex maps male to 1 and female to 0.
func EncodeSex(v string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case SexMale:
		return 1, nil
	case SexFemale:
		return 0, nil
	default:
		return 0, &RangeError{Field: Sex, Reason: `must be "male" or "female"`}
	}
}

// Encode validates r and returns its numeric row in contract order.
func Encode(r Record) ([]float64, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	sex, _ := EncodeSex(r.Sex)
	return []float64{float64(r.Pclass), sex, r.Age, float64(r.SibSp), r.Fare}, nil
}
