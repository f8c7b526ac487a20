package inference

import (
	"encoding/json"
	"math"
	"strconv"

	"titanic-predictor/internal/features"
)

// Request is a prediction request as a client sends it. Pointer fields tell
// a missing field apart from a zero value. Pclass and SibSp accept any JSON
// number with no fractional part, so 3 and 3.0 are the same class.
type Request struct {
	Pclass *json.Number `json:"Pclass"`
	Sex    *string      `json:"Sex"`
	Age    *float64     `json:"Age"`
	SibSp  *json.Number `json:"SibSp"`
	Fare   *float64     `json:"Fare"`
}

// NewRequest returns a request with every field of rec present.
func NewRequest(rec features.Record) Request {
	pclass := json.Number(strconv.Itoa(rec.Pclass))
	sibsp := json.Number(strconv.Itoa(rec.SibSp))
	return Request{
		Pclass: &pclass,
		Sex:    &rec.Sex,
		Age:    &rec.Age,
		SibSp:  &sibsp,
		Fare:   &rec.Fare,
	}
}

// Record checks that every field is present and returns the passenger. The
// first missing field in contract order is reported. Ranges are not checked
// here.
func (r Request) Record() (features.Record, error) {
	switch {
	case r.Pclass == nil:
		return features.Record{}, MissingField(features.Pclass)
	case r.Sex == nil:
		return features.Record{}, MissingField(features.Sex)
	case r.Age == nil:
		return features.Record{}, MissingField(features.Age)
	case r.SibSp == nil:
		return features.Record{}, MissingField(features.SibSp)
	case r.Fare == nil:
		return features.Record{}, MissingField(features.Fare)
	}
	pclass, err := wholeNumber(features.Pclass, *r.Pclass)
	if err != nil {
		return features.Record{}, err
	}
	sibsp, err := wholeNumber(features.SibSp, *r.SibSp)
	if err != nil {
		return features.Record{}, err
	}
	return features.Record{Pclass: pclass, Sex: *r.Sex, Age: *r.Age, SibSp: sibsp, Fare: *r.Fare}, nil
}

func wholeNumber(field string, n json.Number) (int, error) {
	if v, err := n.Int64(); err == nil && v >= math.MinInt32 && v <= math.MaxInt32 {
		return int(v), nil
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, &InvalidInputError{Field: field, Reason: "must be a whole number"}
	}
	return int(f), nil
}
