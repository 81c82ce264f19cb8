package pattern

import (
	"math"
	"regexp"
	"strings"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/fieldflywheel/ingest-flywheel/pkg/units"
)

// roleScore is the three-component score for one (point, role) candidate
// pairing, per §4.G.
type roleScore struct {
	naming float64
	rng    float64
	rate   float64
}

func (s roleScore) total() float64 {
	return (s.naming + s.rng + s.rate) / 3
}

// scoreCandidate computes naming/range/rate for point against role, using
// point's behavior summary where available (nil is tolerated: range and
// rate then contribute zero, naming is unaffected).
func scoreCandidate(point model.Point, behavior *model.PointBehavior, role model.PatternRole) roleScore {
	return roleScore{
		naming: namingScore(point, role),
		rng:    rangeScore(point, behavior, role),
		rate:   rateScore(behavior, role),
	}
}

// namingScore: 1.0 on a full regex match against name+address+description;
// otherwise a partial keyword-fraction score x0.6; 0.5 if the role has no
// regexes at all (§4.G).
func namingScore(point model.Point, role model.PatternRole) float64 {
	if len(role.NamingRegexes) == 0 {
		return 0.5
	}

	text := strings.ToLower(point.Name + " " + point.Address + " " + point.Description)

	for _, pattern := range role.NamingRegexes {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			continue
		}
		if re.MatchString(text) {
			return 1.0
		}
	}

	tokens := roleTokens(role)
	if len(tokens) == 0 {
		return 0.5
	}
	matched := 0
	for _, tok := range tokens {
		if strings.Contains(text, tok) {
			matched++
		}
	}
	return (float64(matched) / float64(len(tokens))) * 0.6
}

// roleTokens splits a role's regexes into bare keyword fragments for the
// partial-match fallback, stripping common regex metacharacters.
func roleTokens(role model.PatternRole) []string {
	stripper := regexp.MustCompile(`[^a-z0-9]+`)
	seen := make(map[string]struct{})
	var tokens []string
	for _, pattern := range role.NamingRegexes {
		for _, tok := range stripper.Split(strings.ToLower(pattern), -1) {
			if tok == "" {
				continue
			}
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// rangeScore: 1 - min(1, |1 - actual_range/typical_range|), halved if the
// observed min/max escape the widened envelope (typical*0.5 .. typical*2.0),
// plus a 0.2 bonus if units normalize equal (§4.G).
func rangeScore(point model.Point, behavior *model.PointBehavior, role model.PatternRole) float64 {
	if behavior == nil || role.TypicalMin == nil || role.TypicalMax == nil {
		return 0
	}
	typicalRange := *role.TypicalMax - *role.TypicalMin
	if typicalRange == 0 {
		return 0
	}
	actualRange := behavior.Max - behavior.Min

	score := 1 - math.Min(1, math.Abs(1-actualRange/typicalRange))

	widenedMin, widenedMax := *role.TypicalMin*0.5, *role.TypicalMax*2.0
	if behavior.Min < widenedMin || behavior.Max > widenedMax {
		score /= 2
	}

	if role.TypicalUnit != "" && units.Normalize(point.Unit).Equal(units.Normalize(role.TypicalUnit)) {
		score += 0.2
	}

	return score
}

// rateScore: 1 - min(1, |1 - actual/typical| / 5) when both declare a rate
// (§4.G); zero otherwise.
func rateScore(behavior *model.PointBehavior, role model.PatternRole) float64 {
	if behavior == nil || role.TypicalRateMs == nil || *role.TypicalRateMs == 0 || behavior.MedianUpdateMs == 0 {
		return 0
	}
	ratio := behavior.MedianUpdateMs / *role.TypicalRateMs
	return 1 - math.Min(1, math.Abs(1-ratio)/5)
}
