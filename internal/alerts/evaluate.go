package alerts

import (
	"math"
	"strconv"
	"strings"

	apperrors "stockalert/internal/errors"
	"stockalert/internal/models"
)

// Evaluate reports whether the alert's floor has been breached. The
// comparison is exact; callers must not invoke it without an observation.
func Evaluate(obs models.Observation, alert models.Alert) bool {
	return obs.Value <= alert.Threshold
}

// ParseThreshold converts user input into a threshold. Non-numeric and
// non-finite input is rejected before anything reaches the registry.
func ParseThreshold(input string) (float64, error) {
	s := strings.TrimSpace(strings.ReplaceAll(input, ",", ""))
	if s == "" {
		return 0, invalidThreshold(input, "threshold is required")
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, invalidThreshold(input, "threshold must be numeric")
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, invalidThreshold(input, "threshold must be finite")
	}
	return v, nil
}

func invalidThreshold(input, msg string) error {
	verr := apperrors.NewValidationError("threshold", input, msg)
	verr.Err = apperrors.ErrInvalidThreshold
	return verr
}
