package gpusort

// IsSorted reports whether data is in non-decreasing order.
func IsSorted(data []float32) bool {
	return Validate(data) == nil
}

// Validate scans data once and returns a *ValidationError for the first
// index i with data[i] > data[i+1], or nil.
func Validate(data []float32) error {
	for i := 0; i+1 < len(data); i++ {
		if data[i] > data[i+1] {
			return &ValidationError{Index: i, Left: data[i], Right: data[i+1]}
		}
	}
	return nil
}
