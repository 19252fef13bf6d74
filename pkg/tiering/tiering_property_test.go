//go:build property
// +build property

package tiering_test

import (
	"context"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/spendlens/core/pkg/ai"
	"github.com/spendlens/core/pkg/config"
)

// Property: for every resolve, the tier written to the usage log equals
// the tier returned to the caller, cache_hit marks exactly tier 1, and
// a non-empty input never resolves to an empty value.
func TestLoggedTierMirrorsResolution(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("usage row mirrors the resolution", prop.ForAll(
		func(raw string, seedCache, withModel bool) bool {
			f := newFixture(config.DefaultTuning())
			ctx := context.Background()

			if seedCache {
				if err := f.cache.Save(ctx, raw, "Canonical"); err != nil {
					return false
				}
			}
			if withModel {
				chat := &fakeChat{content: `{"normalized": "Canonical"}`}
				f.resolver.SetAI(ai.NewCompleter(chat, "m"))
			}

			res, err := f.resolver.Normalize(ctx, "u1", raw)
			if strings.TrimSpace(raw) == "" {
				return err != nil && len(f.meter.Rows()) == 0
			}
			if err != nil {
				return false
			}

			rows := f.meter.Rows()
			if len(rows) != 1 {
				return false
			}
			row := rows[0]
			return row.Tier == res.Tier &&
				row.CacheHit == res.CacheHit &&
				row.CacheHit == (res.Tier == 1) &&
				res.Value != ""
		},
		gen.AlphaString(),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
