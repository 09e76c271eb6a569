package gpusort

import (
	"errors"
	"math"
	"testing"
)

func TestValidate(t *testing.T) {
	inf := float32(math.Inf(1))
	tests := []struct {
		name  string
		data  []float32
		index int
	}{
		{"empty", nil, -1},
		{"single", []float32{1}, -1},
		{"ascending", []float32{-1, 0, 0, 2.5, inf}, -1},
		{"all equal", []float32{3, 3, 3, 3}, -1},
		{"first pair", []float32{2, 1, 3}, 0},
		{"last pair", []float32{1, 2, 4, 3}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.data)
			if tt.index < 0 {
				if err != nil || !IsSorted(tt.data) {
					t.Errorf("Validate = %v, want nil", err)
				}
				return
			}

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate = %v, want *ValidationError", err)
			}
			if !errors.Is(err, ErrValidation) {
				t.Error("error should wrap ErrValidation")
			}
			if verr.Index != tt.index || verr.Left != tt.data[tt.index] || verr.Right != tt.data[tt.index+1] {
				t.Errorf("got %+v, want index %d", verr, tt.index)
			}
			if IsSorted(tt.data) {
				t.Error("IsSorted = true")
			}
		})
	}
}
