package model

import (
	"strconv"
	"strings"
)

// Payload is the strongly typed value carried by a Measurement. The set of
// implementations is closed: Pot, Board, HeroCards, Player, Button, Action.
type Payload interface {
	// Field returns the field type this payload belongs to.
	Field() FieldType
	// Identity is the discriminating key used for event deduplication.
	Identity() string

	sealed()
}

// Pot is the total pot amount.
type Pot struct {
	Amount float64 `json:"amount"`
}

// Board holds the community cards, in deal order.
type Board struct {
	Cards []string `json:"cards"`
}

// HeroCards holds the hero's hole cards.
type HeroCards struct {
	Cards []string `json:"cards"`
}

// Player is one seat at the table.
type Player struct {
	Seat   int     `json:"seat"`
	Name   string  `json:"name"`
	Stack  float64 `json:"stack"`
	Active bool    `json:"active"`
}

// Button is the dealer button position.
type Button struct {
	Seat int `json:"seat"`
}

// ActionKind is a betting action.
type ActionKind string

// Betting actions.
const (
	ActionFold  ActionKind = "fold"
	ActionCheck ActionKind = "check"
	ActionCall  ActionKind = "call"
	ActionBet   ActionKind = "bet"
	ActionRaise ActionKind = "raise"
	ActionAllIn ActionKind = "allin"
)

// Commits reports whether the action puts chips into the pot.
func (k ActionKind) Commits() bool {
	switch k {
	case ActionCall, ActionBet, ActionRaise, ActionAllIn:
		return true
	}
	return false
}

// Action is an observed betting action of one seat.
type Action struct {
	Seat   int        `json:"seat"`
	Kind   ActionKind `json:"kind"`
	Amount float64    `json:"amount"`
}

func (Pot) Field() FieldType       { return FieldPot }
func (Board) Field() FieldType     { return FieldBoard }
func (HeroCards) Field() FieldType { return FieldCard }
func (Player) Field() FieldType    { return FieldPlayer }
func (Button) Field() FieldType    { return FieldButton }
func (Action) Field() FieldType    { return FieldAction }

func (p Pot) Identity() string       { return formatAmount(p.Amount) }
func (b Board) Identity() string     { return strings.Join(CanonicalCards(b.Cards), ",") }
func (h HeroCards) Identity() string { return strings.Join(CanonicalCards(h.Cards), ",") }
func (b Button) Identity() string    { return strconv.Itoa(b.Seat) }

func (p Player) Identity() string {
	return strconv.Itoa(p.Seat) + ":" + formatAmount(p.Stack) + ":" + strconv.FormatBool(p.Active)
}

func (a Action) Identity() string {
	return strconv.Itoa(a.Seat) + ":" + string(a.Kind) + ":" + formatAmount(a.Amount)
}

func (Pot) sealed()       {}
func (Board) sealed()     {}
func (HeroCards) sealed() {}
func (Player) sealed()    {}
func (Button) sealed()    {}
func (Action) sealed()    {}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
