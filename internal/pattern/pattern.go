// Package pattern is the Pattern Matcher (§4.G): for each detected
// cluster, scores every active Pattern's roles against the cluster's
// member points and emits top-scoring Suggestions.
package pattern

import (
	"fmt"
	"sort"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/fieldflywheel/ingest-flywheel/pkg/log"
	"github.com/google/uuid"
)

// PointSource is the subset of *repository.Repository the matcher needs
// to resolve a cluster's member points.
type PointSource interface {
	PointsByIDs(ids []uuid.UUID) ([]*model.Point, error)
}

// PatternSource is the subset of *repository.Repository the matcher needs
// to load the active pattern catalogue.
type PatternSource interface {
	ActivePatterns() ([]*model.Pattern, error)
}

// BehaviorSource looks up the cached PointBehavior for a point, returning
// (nil, false) if none has been published yet. Decoupled from the
// behavior cache's concrete storage so the matcher stays testable.
type BehaviorSource interface {
	Get(pointID uuid.UUID) (*model.PointBehavior, bool)
}

// Config mirrors config.MatchingConfig.
type Config struct {
	WNaming       float64
	WCorrelation  float64
	WRange        float64
	WRate         float64
	MinRoleScore  float64
	MinOverall    float64
	MaxPerCluster int
}

// Matcher scores clusters against the active pattern catalogue.
type Matcher struct {
	points    PointSource
	patterns  PatternSource
	behaviors BehaviorSource
	cfg       Config
}

func New(points PointSource, patterns PatternSource, behaviors BehaviorSource, cfg Config) *Matcher {
	return &Matcher{points: points, patterns: patterns, behaviors: behaviors, cfg: cfg}
}

// MatchCluster returns the top `max_per_cluster` suggestions scoring
// `overall >= min_overall`, highest first (§4.G).
func (m *Matcher) MatchCluster(cluster model.Cluster) ([]model.Suggestion, error) {
	points, err := m.points.PointsByIDs(cluster.MemberIDs)
	if err != nil {
		return nil, fmt.Errorf("pattern: resolve cluster %s members: %w", cluster.ID, err)
	}
	if len(points) == 0 {
		return nil, nil
	}

	behaviors := make(map[uuid.UUID]*model.PointBehavior, len(points))
	for _, p := range points {
		if b, ok := m.behaviors.Get(p.ID); ok {
			behaviors[p.ID] = b
		}
	}

	patterns, err := m.patterns.ActivePatterns()
	if err != nil {
		return nil, fmt.Errorf("pattern: load active patterns: %w", err)
	}

	var suggestions []model.Suggestion
	for _, p := range patterns {
		s, ok, err := m.matchPattern(cluster, points, behaviors, p)
		if err != nil {
			log.Warnf("pattern: matching pattern %s against cluster %s failed: %v", p.Name, cluster.ID, err)
			continue
		}
		if ok {
			suggestions = append(suggestions, s)
		}
	}

	sort.Slice(suggestions, func(i, j int) bool { return suggestions[i].Overall > suggestions[j].Overall })
	if m.cfg.MaxPerCluster > 0 && len(suggestions) > m.cfg.MaxPerCluster {
		suggestions = suggestions[:m.cfg.MaxPerCluster]
	}
	return suggestions, nil
}

func (m *Matcher) matchPattern(cluster model.Cluster, points []*model.Point, behaviors map[uuid.UUID]*model.PointBehavior, p *model.Pattern) (model.Suggestion, bool, error) {
	compiled := make([]*compiledRole, 0, len(p.Roles))
	for _, role := range p.Roles {
		cr, err := compileRole(role)
		if err != nil {
			return model.Suggestion{}, false, err
		}
		compiled = append(compiled, cr)
	}

	type candidate struct {
		pointIdx, roleIdx int
		score             roleScore
	}

	var candidates []candidate
	for ri, cr := range compiled {
		for pi, pt := range points {
			behavior := behaviors[pt.ID]
			ok, err := cr.satisfies(*pt, behavior)
			if err != nil {
				return model.Suggestion{}, false, err
			}
			if !ok {
				continue
			}
			s := scoreCandidate(*pt, behavior, cr.role)
			if s.total() < m.cfg.MinRoleScore {
				continue
			}
			candidates = append(candidates, candidate{pointIdx: pi, roleIdx: ri, score: s})
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score.total() > candidates[j].score.total() })

	assignedPoint := make(map[int]bool, len(points))
	assignedRole := make(map[int]bool, len(compiled))
	var assignments []model.RoleAssignment
	var namingSum, rangeSum, rateSum float64

	for _, c := range candidates {
		if assignedPoint[c.pointIdx] || assignedRole[c.roleIdx] {
			continue
		}
		assignedPoint[c.pointIdx] = true
		assignedRole[c.roleIdx] = true

		role := compiled[c.roleIdx].role
		pt := points[c.pointIdx]
		assignments = append(assignments, model.RoleAssignment{
			PointID: pt.ID, RoleID: role.ID, RoleName: role.Name, Score: c.score.total(),
		})
		namingSum += c.score.naming
		rangeSum += c.score.rng
		rateSum += c.score.rate
	}

	if len(assignments) == 0 {
		return model.Suggestion{}, false, nil
	}

	n := float64(len(assignments))
	namingScore, rangeScore, rateScore := namingSum/n, rangeSum/n, rateSum/n
	correlationScore := cluster.AverageCohesion

	roleMatchRatio := 0.0
	if len(compiled) > 0 {
		roleMatchRatio = n / float64(len(compiled))
	}

	overall := (m.cfg.WNaming*namingScore + m.cfg.WCorrelation*correlationScore +
		m.cfg.WRange*rangeScore + m.cfg.WRate*rateScore) *
		(0.5 + 0.5*roleMatchRatio) * p.Confidence

	if overall < m.cfg.MinOverall {
		return model.Suggestion{}, false, nil
	}

	matched := make([]uuid.UUID, len(assignments))
	for i, a := range assignments {
		matched[i] = a.PointID
	}

	return model.Suggestion{
		ID:               uuid.New(),
		ClusterID:        cluster.ID,
		PatternID:        p.ID,
		Overall:          overall,
		NamingScore:      namingScore,
		CorrelationScore: correlationScore,
		RangeScore:       rangeScore,
		RateScore:        rateScore,
		MatchedPoints:    matched,
		RoleAssignments:  assignments,
		Evidence:         buildEvidence(p, assignments, correlationScore),
		Status:           model.SuggestionPending,
	}, true, nil
}

func buildEvidence(p *model.Pattern, assignments []model.RoleAssignment, cohesion float64) []string {
	evidence := make([]string, 0, len(assignments)+1)
	for _, a := range assignments {
		evidence = append(evidence, fmt.Sprintf("role %q assigned to point %s (score %.2f)", a.RoleName, a.PointID, a.Score))
	}
	evidence = append(evidence, fmt.Sprintf("pattern %q cluster cohesion %.2f", p.Name, cohesion))
	return evidence
}
