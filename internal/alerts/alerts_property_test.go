package alerts

import (
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"stockalert/internal/models"
)

// Property: Evaluate fires exactly when the value is at or below the
// threshold, for any pair of finite values.
func TestProperty_EvaluateMatchesFloorComparison(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("breach iff value <= threshold", prop.ForAll(
		func(value, threshold float64) bool {
			obs := models.Observation{Key: aapl, Value: value}
			alert := models.Alert{Key: aapl, Threshold: threshold, State: models.AlertArmed}
			return Evaluate(obs, alert) == (value <= threshold)
		},
		gen.Float64Range(-1e6, 1e6),
		gen.Float64Range(-1e6, 1e6),
	))

	properties.Property("value equal to threshold always breaches", prop.ForAll(
		func(v float64) bool {
			obs := models.Observation{Key: usd, Value: v}
			alert := models.Alert{Key: usd, Threshold: v, State: models.AlertArmed}
			return Evaluate(obs, alert)
		},
		gen.Float64Range(-1e6, 1e6),
	))

	properties.TestingRun(t)
}

// Property: any finite number formatted as text parses back to itself.
func TestProperty_ParseThresholdRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("formatted float parses to the same value", prop.ForAll(
		func(v float64) bool {
			got, err := ParseThreshold(strconv.FormatFloat(v, 'f', -1, 64))
			return err == nil && got == v
		},
		gen.Float64Range(-1e9, 1e9),
	))

	properties.Property("alphabetic input is rejected", prop.ForAll(
		func(s string) bool {
			_, err := ParseThreshold("x" + s)
			return err != nil
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// Property: after any sequence of arm, remove and mark operations the
// registry holds at most one alert per key, and each armed alert triggers at
// most once.
func TestProperty_RegistryOneAlertPerKey(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	ids := []string{"AAPL", "MSFT", "USD", "EUR"}

	// Each op is encoded as 0=arm, 1=remove, 2=mark.
	opGen := gen.SliceOfN(40, gen.IntRange(0, 2))
	keyGen := gen.SliceOfN(40, gen.IntRange(0, len(ids)*2-1))

	properties.Property("registry invariants hold", prop.ForAll(
		func(ops []int, keys []int) bool {
			r := NewRegistry()
			fired := make(map[string]int)

			for i, op := range ops {
				k := keys[i]
				kind := models.KindStock
				if k >= len(ids) {
					kind = models.KindCurrency
				}
				key := models.NewKey(kind, ids[k%len(ids)])

				switch op {
				case 0:
					r.Arm(key, float64(i))
				case 1:
					r.Remove(key)
				case 2:
					if a, ok := r.Get(key); ok {
						if _, won := r.MarkTriggered(key, a.ID); won {
							fired[a.ID]++
						}
					}
				}
			}

			for id, n := range fired {
				if n != 1 {
					t.Logf("alert %s fired %d times", id, n)
					return false
				}
			}

			seen := make(map[models.EntityKey]bool)
			for _, a := range r.List() {
				if seen[a.Key] {
					t.Logf("duplicate key %s", a.Key)
					return false
				}
				seen[a.Key] = true
			}
			return len(seen) == r.Len()
		},
		opGen,
		keyGen,
	))

	properties.TestingRun(t)
}

func ExampleParseThreshold() {
	v, err := ParseThreshold("1,250.50")
	fmt.Println(v, err)
	// Output: 1250.5 <nil>
}
