package features

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamesOrder(t *testing.T) {
	assert.Equal(t, []string{"Pclass", "Sex", "Age", "SibSp", "Fare"}, Names())
	assert.Equal(t, 5, Count())

	names := Names()
	names[0] = "changed"
	assert.Equal(t, "Pclass", Names()[0], "Names must return a copy")
}

func TestMatchesOrder(t *testing.T) {
	assert.True(t, MatchesOrder(Names()))
	assert.False(t, MatchesOrder([]string{"Sex", "Pclass", "Age", "SibSp", "Fare"}))
	assert.False(t, MatchesOrder([]string{"Pclass", "Sex", "Age", "SibSp"}))
}

func TestEncodeSex(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"male", 1, false},
		{"MALE", 1, false},
		{" Female ", 0, false},
		{"female", 0, false},
		{"other", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := EncodeSex(tt.in)
			if tt.wantErr {
				var rangeErr *RangeError
				require.True(t, errors.As(err, &rangeErr))
				assert.Equal(t, Sex, rangeErr.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeOrder(t *testing.T) {
	row, err := Encode(Record{Pclass: 3, Sex: "male", Age: 25, SibSp: 1, Fare: 7.25})
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 1, 25, 1, 7.25}, row)

	row, err = Encode(Record{Pclass: 1, Sex: "Female", Age: 35, SibSp: 0, Fare: 72})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 35, 0, 72}, row)
}

func TestValidateBoundaries(t *testing.T) {
	base := Record{Pclass: 2, Sex: "male", Age: 30, SibSp: 0, Fare: 10}

	tests := []struct {
		name   string
		mutate func(r *Record)
		field  string
	}{
		{"pclass zero", func(r *Record) { r.Pclass = 0 }, Pclass},
		{"pclass four", func(r *Record) { r.Pclass = 4 }, Pclass},
		{"sex other", func(r *Record) { r.Sex = "other" }, Sex},
		{"age negative", func(r *Record) { r.Age = -1 }, Age},
		{"age too old", func(r *Record) { r.Age = 121 }, Age},
		{"sibsp negative", func(r *Record) { r.SibSp = -1 }, SibSp},
		{"fare negative", func(r *Record) { r.Fare = -0.01 }, Fare},
		{"pclass one", func(r *Record) { r.Pclass = 1 }, ""},
		{"pclass three", func(r *Record) { r.Pclass = 3 }, ""},
		{"age zero", func(r *Record) { r.Age = 0 }, ""},
		{"age max", func(r *Record) { r.Age = 120 }, ""},
		{"fare zero", func(r *Record) { r.Fare = 0.0 }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base
			tt.mutate(&r)
			err := r.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var rangeErr *RangeError
			require.True(t, errors.As(err, &rangeErr), "expected RangeError, got %v", err)
			assert.Equal(t, tt.field, rangeErr.Field)
		})
	}
}

func TestNormalize(t *testing.T) {
	r := Record{Sex: "  MaLe "}.Normalize()
	assert.Equal(t, "male", r.Sex)
}

func TestLabelFor(t *testing.T) {
	assert.Equal(t, LabelSurvived, LabelFor(ClassSurvived))
	assert.Equal(t, LabelDidNotSurvive, LabelFor(ClassDidNotSurvive))
	assert.Equal(t, []string{LabelDidNotSurvive, LabelSurvived}, Labels())
}
