package pattern

import (
	"testing"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePointSource struct{ points map[uuid.UUID]*model.Point }

func (f *fakePointSource) PointsByIDs(ids []uuid.UUID) ([]*model.Point, error) {
	out := make([]*model.Point, 0, len(ids))
	for _, id := range ids {
		if p, ok := f.points[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakePatternSource struct{ patterns []*model.Pattern }

func (f *fakePatternSource) ActivePatterns() ([]*model.Pattern, error) { return f.patterns, nil }

type fakeBehaviorSource struct{ behaviors map[uuid.UUID]*model.PointBehavior }

func (f *fakeBehaviorSource) Get(id uuid.UUID) (*model.PointBehavior, bool) {
	b, ok := f.behaviors[id]
	return b, ok
}

func defaultConfig() Config {
	return Config{WNaming: 0.4, WCorrelation: 0.3, WRange: 0.2, WRate: 0.1, MinRoleScore: 0.3, MinOverall: 0.1, MaxPerCluster: 3}
}

func TestNamingScoreExactRegexMatch(t *testing.T) {
	role := model.PatternRole{NamingRegexes: []string{"supply.?temp"}}
	point := model.Point{Name: "AHU-1 Supply Temp", Address: "ahu1/supplytemp"}
	assert.Equal(t, 1.0, namingScore(point, role))
}

func TestNamingScoreNoRegexesDefaultsHalf(t *testing.T) {
	role := model.PatternRole{}
	point := model.Point{Name: "anything"}
	assert.Equal(t, 0.5, namingScore(point, role))
}

func TestRangeScoreWithUnitBonus(t *testing.T) {
	min, max := 0.0, 100.0
	role := model.PatternRole{TypicalMin: &min, TypicalMax: &max, TypicalUnit: "degC"}
	behavior := &model.PointBehavior{Min: 10, Max: 90}
	point := model.Point{Unit: "degC"}

	score := rangeScore(point, behavior, role)
	assert.InDelta(t, 1.0, score, 1e-9) // base 1-|1-80/100| = 0.8 plus 0.2 unit bonus
}

func TestMatchClusterProducesSuggestionAboveThreshold(t *testing.T) {
	p1, p2 := uuid.New(), uuid.New()
	roleSupply := model.PatternRole{ID: uuid.New(), Name: "supply", NamingRegexes: []string{"supply"}}
	roleReturn := model.PatternRole{ID: uuid.New(), Name: "return", NamingRegexes: []string{"return"}}
	patternID := uuid.New()

	pat := &model.Pattern{ID: patternID, Name: "AHU loop", Confidence: 0.8, Active: true, Roles: []model.PatternRole{roleSupply, roleReturn}}

	points := map[uuid.UUID]*model.Point{
		p1: {ID: p1, Name: "Supply Air Temp"},
		p2: {ID: p2, Name: "Return Air Temp"},
	}

	cluster := model.Cluster{ID: uuid.New(), MemberIDs: []uuid.UUID{p1, p2}, AverageCohesion: 0.9}

	m := New(&fakePointSource{points: points}, &fakePatternSource{patterns: []*model.Pattern{pat}}, &fakeBehaviorSource{behaviors: map[uuid.UUID]*model.PointBehavior{}}, defaultConfig())

	suggestions, err := m.MatchCluster(cluster)
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, patternID, suggestions[0].PatternID)
	assert.Len(t, suggestions[0].RoleAssignments, 2)
}

func TestMatchClusterRespectsMaxPerCluster(t *testing.T) {
	p1 := uuid.New()
	points := map[uuid.UUID]*model.Point{p1: {ID: p1, Name: "Supply Temp"}}
	cluster := model.Cluster{ID: uuid.New(), MemberIDs: []uuid.UUID{p1}, AverageCohesion: 0.9}

	var patterns []*model.Pattern
	for i := 0; i < 5; i++ {
		patterns = append(patterns, &model.Pattern{
			ID: uuid.New(), Name: "p", Confidence: 0.9, Active: true,
			Roles: []model.PatternRole{{ID: uuid.New(), Name: "supply", NamingRegexes: []string{"supply"}}},
		})
	}

	cfg := defaultConfig()
	cfg.MaxPerCluster = 2
	m := New(&fakePointSource{points: points}, &fakePatternSource{patterns: patterns}, &fakeBehaviorSource{behaviors: map[uuid.UUID]*model.PointBehavior{}}, cfg)

	suggestions, err := m.MatchCluster(cluster)
	require.NoError(t, err)
	assert.Len(t, suggestions, 2)
}

func TestRequirementGatesAssignment(t *testing.T) {
	p1 := uuid.New()
	points := map[uuid.UUID]*model.Point{p1: {ID: p1, Name: "Supply Temp", Unit: "degF"}}
	cluster := model.Cluster{ID: uuid.New(), MemberIDs: []uuid.UUID{p1}, AverageCohesion: 0.9}

	pat := &model.Pattern{
		ID: uuid.New(), Name: "strict", Confidence: 0.9, Active: true,
		Roles: []model.PatternRole{{
			ID: uuid.New(), Name: "supply", NamingRegexes: []string{"supply"},
			Requirements: []string{`point.unit == "degC"`},
		}},
	}

	m := New(&fakePointSource{points: points}, &fakePatternSource{patterns: []*model.Pattern{pat}}, &fakeBehaviorSource{behaviors: map[uuid.UUID]*model.PointBehavior{}}, defaultConfig())
	suggestions, err := m.MatchCluster(cluster)
	require.NoError(t, err)
	assert.Empty(t, suggestions, "requirement on unit should exclude the only candidate point")
}
