package alerts

import (
	"testing"

	apperrors "stockalert/internal/errors"
	"stockalert/internal/models"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name      string
		value     float64
		threshold float64
		want      bool
	}{
		{"above threshold", 151, 150, false},
		{"equal to threshold", 150, 150, true},
		{"below threshold", 149.5, 150, true},
		{"currency just above", 1.0501, 1.05, false},
		{"currency below", 1.049, 1.05, true},
		{"zero threshold", 0, 0, true},
		{"negative value", -1, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := models.Observation{Key: aapl, Value: tt.value}
			alert := models.Alert{Key: aapl, Threshold: tt.threshold, State: models.AlertArmed}
			if got := Evaluate(obs, alert); got != tt.want {
				t.Errorf("Evaluate(%v <= %v) = %v, want %v", tt.value, tt.threshold, got, tt.want)
			}
		})
	}
}

func TestParseThreshold(t *testing.T) {
	tests := []struct {
		input   string
		want    float64
		wantErr bool
	}{
		{"150", 150, false},
		{"150.25", 150.25, false},
		{"  1.05 ", 1.05, false},
		{"1,250.50", 1250.5, false},
		{"0", 0, false},
		{"-3", -3, false},
		{"", 0, true},
		{"   ", 0, true},
		{"abc", 0, true},
		{"12abc", 0, true},
		{"NaN", 0, true},
		{"Inf", 0, true},
		{"-Inf", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseThreshold(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseThreshold(%q) = %v, want error", tt.input, got)
				}
				if !apperrors.Is(err, apperrors.ErrInvalidThreshold) {
					t.Errorf("error %v should wrap ErrInvalidThreshold", err)
				}
				var verr *apperrors.ValidationError
				if !apperrors.As(err, &verr) || verr.Field != "threshold" {
					t.Errorf("error %v should be a threshold ValidationError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseThreshold(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseThreshold(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
