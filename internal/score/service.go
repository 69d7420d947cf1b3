package score

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/victornm/stopgame/internal/clock"
	"github.com/victornm/stopgame/internal/domain"
	"github.com/victornm/stopgame/internal/event"
	"github.com/victornm/stopgame/internal/telemetry"
)

type Config struct {
	EventBus *event.Bus
	Clock    clock.Clock
}

type Service struct {
	eb    *event.Bus
	clock clock.Clock
}

func NewService(c Config) *Service {
	if c.Clock == nil {
		c.Clock = clock.Real()
	}

	return &Service{
		eb:    c.EventBus,
		clock: c.Clock,
	}
}

// Normalize returns the comparison key of an answer: trimmed, without diacritics and case folded.
func Normalize(answer string) string {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return ""
	}

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, answer)
	if err != nil {
		stripped = answer
	}

	return cases.Fold().String(stripped)
}

// CalculateScores scores the recorded answers of the current round, adds each round score to the
// player's total and appends a snapshot to the room history. r must be locked by the caller.
//
// Results are sorted by round score in descending order, ties keeping the join order.
func (s *Service) CalculateScores(ctx context.Context, r *domain.Room) []domain.RoundResult {
	counts := make(map[string]map[string]int, len(r.Categories))
	for _, c := range r.Categories {
		counts[c] = make(map[string]int)
	}

	for pid, answers := range r.Answers {
		for _, c := range r.Categories {
			key := Normalize(answers[c])
			if key == "" || r.IsInvalidated(pid, c) {
				continue
			}
			counts[c][key]++
		}
	}

	players := r.Players()
	results := make([]domain.RoundResult, 0, len(players))
	for _, p := range players {
		answers := r.Answers[p.ID]
		res := domain.RoundResult{
			PlayerID:    p.ID,
			PlayerName:  p.Name,
			PlayerColor: p.Color,
			Answers:     make(domain.Answers, len(r.Categories)),
			Scores:      make(map[string]domain.CategoryScore, len(r.Categories)),
		}

		for _, c := range r.Categories {
			res.Answers[c] = answers[c]

			sc := scoreAnswer(answers[c], r.IsInvalidated(p.ID, c), counts[c])
			res.Scores[c] = sc
			res.RoundScore += sc.Points
		}

		p.AddScore(res.RoundScore)
		res.TotalScore = p.TotalScore
		results = append(results, res)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RoundScore > results[j].RoundScore
	})

	now := s.clock.Now()
	snapshot := domain.RoundSnapshot{
		Round:       r.Round,
		Letter:      r.Letter,
		Results:     results,
		Validations: r.ValidationStats(),
		Timestamp:   now,
	}
	r.History = append(r.History, snapshot)
	if r.Game != nil {
		r.Game.AddRound(snapshot)
	}

	telemetry.RoundsScored.Inc()
	slog.InfoContext(ctx, "score: round scored", "room", r.Code, "round", r.Round, "letter", r.Letter)

	if s.eb != nil {
		scores := make([]domain.Score, 0, len(players))
		for _, p := range players {
			scores = append(scores, domain.Score{
				RoomCode:   r.Code,
				PlayerID:   p.ID,
				PlayerName: p.Name,
				TotalScore: p.TotalScore,
				UpdateTime: now,
			})
		}
		s.eb.Publish(ctx, domain.EventScoreUpdated{RoomCode: r.Code, Scores: scores})
	}

	return results
}

func scoreAnswer(answer string, invalidated bool, counts map[string]int) domain.CategoryScore {
	key := Normalize(answer)

	switch {
	case key == "":
		return domain.CategoryScore{Points: domain.PointsEmpty, Status: domain.ScoreEmpty}
	case invalidated:
		return domain.CategoryScore{Points: 0, Status: domain.ScoreInvalidated}
	case counts[key] == 1:
		return domain.CategoryScore{Points: domain.PointsUnique, Status: domain.ScoreUnique}
	default:
		return domain.CategoryScore{Points: domain.PointsRepeated, Status: domain.ScoreRepeated}
	}
}

// Standings returns the players sorted by total score in descending order, with their average points per round.
// r must be locked by the caller.
func Standings(r *domain.Room) []domain.Standing {
	rounds := int64(len(r.History))

	players := r.Players()
	out := make([]domain.Standing, 0, len(players))
	for _, p := range players {
		avg := decimal.Zero
		if rounds > 0 {
			avg = decimal.NewFromInt(int64(p.TotalScore)).Div(decimal.NewFromInt(rounds)).Round(2)
		}

		out = append(out, domain.Standing{
			PlayerID: p.ID,
			Name:     p.Name,
			Color:    p.Color,
			Score:    p.TotalScore,
			Average:  avg,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})

	return out
}
