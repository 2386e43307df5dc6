// Package sanity checks candidate measurements for logical consistency with
// the current table snapshot.
package sanity

import (
	"fmt"
	"math"

	"github.com/okian/tablewatch/internal/domain/model"
)

// Rule names reported in violations.
const (
	RuleMissingPayload  = "payload_missing"
	RuleNegativeAmount  = "amount_negative"
	RulePotShrink       = "pot_shrink"
	RuleBoardOverflow   = "board_overflow"
	RuleBoardSize       = "board_size"
	RuleBoardRewrite    = "board_rewrite"
	RuleHandOverflow    = "hand_overflow"
	RuleInvalidCard     = "card_invalid"
	RuleDuplicateCard   = "card_duplicate"
	RuleCardConflict    = "card_conflict"
	RuleSeatRange       = "seat_range"
	RuleTableCapacity   = "table_capacity"
	RuleStackMismatch   = "stack_mismatch"
	RuleActionOverStack = "action_exceeds_stack"
	RuleInactiveActor   = "action_inactive_player"
)

// Defaults.
const (
	DefaultTableCapacity  = 9
	DefaultStackTolerance = 0.01
)

// Option configures a Checker.
type Option func(*Checker)

// WithTableCapacity sets the number of seats.
func WithTableCapacity(n int) Option {
	return func(c *Checker) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithStackTolerance sets the absolute tolerance used when reconciling
// chip amounts.
func WithStackTolerance(tol float64) Option {
	return func(c *Checker) {
		if tol >= 0 {
			c.tolerance = tol
		}
	}
}

// Checker is immutable and safe for concurrent use.
type Checker struct {
	capacity  int
	tolerance float64
}

// New creates a Checker.
func New(opts ...Option) *Checker {
	c := &Checker{capacity: DefaultTableCapacity, tolerance: DefaultStackTolerance}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TableCapacity returns the configured number of seats.
func (c *Checker) TableCapacity() int { return c.capacity }

// Validate returns every rule m breaks against prior. It has no side effects
// and an empty result means the update is consistent.
func (c *Checker) Validate(m model.Measurement, prior model.Snapshot) []model.Violation {
	v := &collector{field: m.Field()}
	if m.NewHand {
		prior = prior.StartHand()
	}

	switch p := m.Payload.(type) {
	case model.Pot:
		c.checkPot(v, p, prior, m.NewHand)
	case model.Board:
		c.checkBoard(v, p, prior)
	case model.HeroCards:
		c.checkHero(v, p, prior)
	case model.Player:
		c.checkPlayer(v, p, prior, m)
	case model.Button:
		c.checkSeat(v, p.Seat)
	case model.Action:
		c.checkAction(v, p, prior)
	default:
		v.add(RuleMissingPayload, model.SeverityError, "measurement carries no payload")
	}
	return v.out
}

type collector struct {
	field model.FieldType
	out   []model.Violation
}

func (c *collector) add(rule string, sev model.Severity, format string, args ...any) {
	c.out = append(c.out, model.Violation{
		Field:    c.field,
		Rule:     rule,
		Severity: sev,
		Message:  fmt.Sprintf(format, args...),
	})
}

func badAmount(v float64) bool { return math.IsNaN(v) || math.IsInf(v, 0) || v < 0 }

func (c *Checker) checkPot(v *collector, p model.Pot, prior model.Snapshot, newHand bool) {
	if badAmount(p.Amount) {
		v.add(RuleNegativeAmount, model.SeverityError, "pot %v is not a valid amount", p.Amount)
		return
	}
	if !newHand && p.Amount < prior.Pot-c.tolerance {
		v.add(RulePotShrink, model.SeverityError, "pot shrank from %v to %v without a new hand", prior.Pot, p.Amount)
	}
}

// checkCards reports invalid symbols and repeats within one set of cards and
// returns the canonical symbols that parsed.
func checkCards(v *collector, symbols []string) []string {
	valid := make([]string, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		card, err := model.ParseCard(s)
		if err != nil {
			v.add(RuleInvalidCard, model.SeverityError, "unrecognised card symbol %q", s)
			continue
		}
		sym := card.String()
		if seen[sym] {
			v.add(RuleDuplicateCard, model.SeverityCritical, "card %s appears twice", sym)
			continue
		}
		seen[sym] = true
		valid = append(valid, sym)
	}
	return valid
}

func checkOverlap(v *collector, cards, other []string, where string) {
	in := make(map[string]bool, len(other))
	for _, s := range other {
		in[s] = true
	}
	for _, s := range cards {
		if in[s] {
			v.add(RuleCardConflict, model.SeverityCritical, "card %s is already in the %s", s, where)
		}
	}
}

func (c *Checker) checkBoard(v *collector, b model.Board, prior model.Snapshot) {
	if len(b.Cards) > model.MaxBoardCards {
		v.add(RuleBoardOverflow, model.SeverityCritical, "board has %d cards, at most %d allowed", len(b.Cards), model.MaxBoardCards)
	}
	if n := len(b.Cards); n == 1 || n == 2 {
		v.add(RuleBoardSize, model.SeverityWarning, "board of %d cards is incomplete", n)
	}
	cards := checkCards(v, b.Cards)
	checkOverlap(v, cards, prior.HeroCards, "hero hand")

	canonical := model.CanonicalCards(b.Cards)
	if len(canonical) < len(prior.BoardCards) {
		v.add(RuleBoardRewrite, model.SeverityError, "board shrank from %d to %d cards without a new hand", len(prior.BoardCards), len(canonical))
		return
	}
	for i, s := range prior.BoardCards {
		if canonical[i] != s {
			v.add(RuleBoardRewrite, model.SeverityError, "board card %d changed from %s to %s without a new hand", i+1, s, canonical[i])
			return
		}
	}
}

func (c *Checker) checkHero(v *collector, h model.HeroCards, prior model.Snapshot) {
	if len(h.Cards) > model.MaxHeroCards {
		v.add(RuleHandOverflow, model.SeverityCritical, "hero hand has %d cards, at most %d allowed", len(h.Cards), model.MaxHeroCards)
	}
	cards := checkCards(v, h.Cards)
	checkOverlap(v, cards, prior.BoardCards, "board")
}

func (c *Checker) checkSeat(v *collector, seat int) bool {
	if seat < 1 || seat > c.capacity {
		v.add(RuleSeatRange, model.SeverityError, "seat %d outside 1..%d", seat, c.capacity)
		return false
	}
	return true
}

func (c *Checker) checkPlayer(v *collector, p model.Player, prior model.Snapshot, m model.Measurement) {
	seatOK := c.checkSeat(v, p.Seat)
	if badAmount(p.Stack) {
		v.add(RuleNegativeAmount, model.SeverityError, "stack %v is not a valid amount", p.Stack)
		return
	}
	if !seatOK {
		return
	}

	m.NewHand = false
	if after := prior.With(m); after.ActivePlayers() > c.capacity {
		v.add(RuleTableCapacity, model.SeverityError, "%d active players exceed table capacity %d", after.ActivePlayers(), c.capacity)
	}

	old, ok := prior.PlayerBySeat(p.Seat)
	if !ok {
		return
	}
	delta := p.Stack - old.Stack
	switch {
	case delta < -c.tolerance:
		bet, hasBet := prior.RecentBets[p.Seat]
		if !hasBet || math.Abs(-delta-bet) > c.tolerance {
			v.add(RuleStackMismatch, model.SeverityWarning,
				"seat %d stack fell by %v but the last observed bet was %v", p.Seat, -delta, bet)
		}
	case delta > c.tolerance:
		if !c.explainsGain(delta, prior) {
			v.add(RuleStackMismatch, model.SeverityWarning,
				"seat %d stack grew by %v which matches neither the pot nor a recent bet", p.Seat, delta)
		}
	}
}

// explainsGain reports whether a stack increase equals the pot or a
// returned bet.
func (c *Checker) explainsGain(delta float64, prior model.Snapshot) bool {
	if math.Abs(delta-prior.Pot) <= c.tolerance {
		return true
	}
	for _, bet := range prior.RecentBets {
		if math.Abs(delta-bet) <= c.tolerance {
			return true
		}
	}
	return false
}

func (c *Checker) checkAction(v *collector, a model.Action, prior model.Snapshot) {
	c.checkSeat(v, a.Seat)
	if badAmount(a.Amount) {
		v.add(RuleNegativeAmount, model.SeverityError, "action amount %v is not a valid amount", a.Amount)
		return
	}
	p, ok := prior.PlayerBySeat(a.Seat)
	if !ok {
		return
	}
	if !p.Active {
		v.add(RuleInactiveActor, model.SeverityWarning, "seat %d acted while inactive", a.Seat)
	}
	if a.Kind.Commits() && a.Amount > p.Stack+c.tolerance {
		v.add(RuleActionOverStack, model.SeverityWarning, "seat %d committed %v with a stack of %v", a.Seat, a.Amount, p.Stack)
	}
}
