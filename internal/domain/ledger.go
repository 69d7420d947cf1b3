package domain

import (
	"sort"
	"strings"
)

// Vote is a stance on another player's answer. VoteNone withdraws a previous stance.
type Vote string

const (
	VoteApprove Vote = "approve"
	VoteReject  Vote = "reject"
	VoteNone    Vote = ""
)

func ParseVote(s string) (Vote, error) {
	switch v := Vote(strings.ToLower(strings.TrimSpace(s))); v {
	case VoteApprove, VoteReject, VoteNone:
		return v, nil
	default:
		return "", invalid(ReasonInvalidVote, "unknown vote: %q", s)
	}
}

// AnswerKey identifies one answer of the current round.
type AnswerKey struct {
	PlayerID string
	Category string
}

// ValidationStats is the public summary of the votes on one answer.
type ValidationStats struct {
	Approved      int      `json:"approved"`
	Rejected      int      `json:"rejected"`
	IsInvalidated bool     `json:"isInvalidated"`
	ApprovedBy    []string `json:"approvedBy"`
	RejectedBy    []string `json:"rejectedBy"`
}

type tally struct {
	approved map[string]struct{}
	rejected map[string]struct{}
}

func newTally() *tally {
	return &tally{
		approved: make(map[string]struct{}),
		rejected: make(map[string]struct{}),
	}
}

// Ledger records approve/reject votes on answers during discussion.
// An answer is invalidated when its rejections exceed MajorityThreshold of the room size.
type Ledger struct {
	tallies     map[AnswerKey]*tally
	invalidated map[AnswerKey]struct{}
}

func NewLedger() *Ledger {
	return &Ledger{
		tallies:     make(map[AnswerKey]*tally),
		invalidated: make(map[AnswerKey]struct{}),
	}
}

// MajorityThreshold is the number of rejections an answer must strictly exceed to be invalidated.
// The owner of the answer does not vote on it.
func MajorityThreshold(playerCount int) int {
	if playerCount < 1 {
		return 0
	}
	return (playerCount - 1) / 2
}

// Track opens an empty tally for k.
func (l *Ledger) Track(k AnswerKey) {
	if _, ok := l.tallies[k]; !ok {
		l.tallies[k] = newTally()
	}
}

// Vote replaces voter's stance on k and recomputes the invalidation of k.
func (l *Ledger) Vote(k AnswerKey, voter string, v Vote, playerCount int) ValidationStats {
	t, ok := l.tallies[k]
	if !ok {
		t = newTally()
		l.tallies[k] = t
	}

	delete(t.approved, voter)
	delete(t.rejected, voter)

	switch v {
	case VoteApprove:
		t.approved[voter] = struct{}{}
	case VoteReject:
		t.rejected[voter] = struct{}{}
	}

	l.recompute(k, playerCount)

	return l.Stats(k)
}

func (l *Ledger) recompute(k AnswerKey, playerCount int) {
	t, ok := l.tallies[k]
	if !ok {
		return
	}

	if len(t.rejected) > MajorityThreshold(playerCount) {
		l.invalidated[k] = struct{}{}
	} else {
		delete(l.invalidated, k)
	}
}

// RecomputeAll re-evaluates every tracked answer against the threshold of playerCount.
func (l *Ledger) RecomputeAll(playerCount int) {
	for k := range l.tallies {
		l.recompute(k, playerCount)
	}
}

func (l *Ledger) IsInvalidated(k AnswerKey) bool {
	_, ok := l.invalidated[k]
	return ok
}

func (l *Ledger) Stats(k AnswerKey) ValidationStats {
	t, ok := l.tallies[k]
	if !ok {
		return ValidationStats{ApprovedBy: []string{}, RejectedBy: []string{}}
	}

	return ValidationStats{
		Approved:      len(t.approved),
		Rejected:      len(t.rejected),
		IsInvalidated: l.IsInvalidated(k),
		ApprovedBy:    sortedKeys(t.approved),
		RejectedBy:    sortedKeys(t.rejected),
	}
}

// InvalidatedCount returns the number of invalidated answers per player.
func (l *Ledger) InvalidatedCount() map[string]int {
	out := make(map[string]int)
	for k := range l.invalidated {
		out[k.PlayerID]++
	}
	return out
}

// Len returns the number of tracked answers.
func (l *Ledger) Len() int {
	return len(l.tallies)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
