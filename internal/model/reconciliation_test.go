package model_test

import (
	"testing"

	"github.com/piq110/capcore-backend-sub001/internal/model"
)

func TestSeverityFromQuantities(t *testing.T) {
	tests := []struct {
		name string
		a, b int
		want model.Severity
	}{
		{"equal", 100, 100, model.SeverityLow},
		{"sub one percent", 1000, 995, model.SeverityLow},
		{"one percent", 100, 99, model.SeverityMedium},
		{"four percent", 100, 96, model.SeverityMedium},
		{"five percent", 100, 95, model.SeverityHigh},
		{"nine percent", 100, 91, model.SeverityHigh},
		{"ten percent", 100, 90, model.SeverityCritical},
		{"half gone", 100, 50, model.SeverityCritical},
		{"nonzero vs zero", 5, 0, model.SeverityCritical},
		{"zero vs nonzero", 0, 5, model.SeverityCritical},
		{"tiny absolute difference", 3, 2, model.SeverityCritical}, // 33%
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := model.SeverityFromQuantities(tt.a, tt.b); got != tt.want {
				t.Errorf("SeverityFromQuantities(%d, %d) = %s, want %s", tt.a, tt.b, got, tt.want)
			}
			// grading is symmetric
			if got := model.SeverityFromQuantities(tt.b, tt.a); got != tt.want {
				t.Errorf("SeverityFromQuantities(%d, %d) = %s, want %s", tt.b, tt.a, got, tt.want)
			}
		})
	}
}
