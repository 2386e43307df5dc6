// Package texture classifies community boards: pairing, suit distribution,
// straight and flush potential, and an overall wet/dry reading.
package texture

import (
	"errors"
	"fmt"

	"github.com/okian/tablewatch/internal/domain/model"
)

// Errors returned by Analyze.
var (
	ErrTooManyCards  = errors.New("board has too many cards")
	ErrDuplicateCard = errors.New("board repeats a card")
)

// Pairing describes rank repetition on the board.
type Pairing string

// Pairing values.
const (
	Unpaired  Pairing = "unpaired"
	Paired    Pairing = "paired"
	TwoPaired Pairing = "two_paired"
	Trips     Pairing = "trips"
	FullHouse Pairing = "full_house"
	Quads     Pairing = "quads"
)

// Suitedness describes how the suits are spread.
type Suitedness string

// Suitedness values.
const (
	Rainbow  Suitedness = "rainbow"
	TwoTone  Suitedness = "two_tone"
	Suited   Suitedness = "suited"
	Monotone Suitedness = "monotone"
)

// Wetness summarises how many strong draws the board allows.
type Wetness string

// Wetness values.
const (
	Dry     Wetness = "dry"
	SemiWet Wetness = "semi_wet"
	Wet     Wetness = "wet"
)

// Descriptor is the classification of one board.
type Descriptor struct {
	Cards            int        `json:"cards"`
	Pairing          Pairing    `json:"pairing"`
	Suitedness       Suitedness `json:"suitedness"`
	HighCard         string     `json:"high_card,omitempty"`
	FlushPossible    bool       `json:"flush_possible"`
	FlushDraw        bool       `json:"flush_draw"`
	StraightPossible bool       `json:"straight_possible"`
	StraightDraw     bool       `json:"straight_draw"`
	Wetness          Wetness    `json:"wetness"`
}

// Analyze classifies up to five board symbols. The result does not depend
// on the order of the symbols.
func Analyze(symbols []string) (Descriptor, error) {
	if len(symbols) > model.MaxBoardCards {
		return Descriptor{}, fmt.Errorf("%w: %d", ErrTooManyCards, len(symbols))
	}
	cards, err := model.ParseCards(symbols)
	if err != nil {
		return Descriptor{}, err
	}

	seen := make(map[model.Card]bool, len(cards))
	var rankCount [int(model.RankAce) + 1]int
	suitCount := make(map[model.Suit]int, len(model.Suits))
	var high model.Rank
	for _, c := range cards {
		if seen[c] {
			return Descriptor{}, fmt.Errorf("%w: %s", ErrDuplicateCard, c)
		}
		seen[c] = true
		rankCount[c.Rank]++
		suitCount[c.Suit]++
		if c.Rank > high {
			high = c.Rank
		}
	}

	d := Descriptor{Cards: len(cards), Pairing: pairing(rankCount[:])}
	if len(cards) == 0 {
		d.Suitedness = Rainbow
		d.Wetness = Dry
		return d, nil
	}
	d.HighCard = model.Card{Rank: high, Suit: 's'}.String()[:1]

	maxSuit := 0
	for _, n := range suitCount {
		maxSuit = max(maxSuit, n)
	}
	d.Suitedness = suitedness(maxSuit, len(cards))
	d.FlushPossible = maxSuit >= 3
	d.FlushDraw = !d.FlushPossible && maxSuit == 2 && len(cards) < model.MaxBoardCards

	best := bestStraightWindow(rankCount[:])
	d.StraightPossible = best >= 3
	d.StraightDraw = !d.StraightPossible && best == 2 && len(cards) < model.MaxBoardCards

	d.Wetness = wetness(d)
	return d, nil
}

func pairing(rankCount []int) Pairing {
	pairs, trips, quads := 0, 0, 0
	for _, n := range rankCount {
		switch {
		case n >= 4:
			quads++
		case n == 3:
			trips++
		case n == 2:
			pairs++
		}
	}
	switch {
	case quads > 0:
		return Quads
	case trips > 0 && pairs > 0:
		return FullHouse
	case trips > 0:
		return Trips
	case pairs >= 2:
		return TwoPaired
	case pairs == 1:
		return Paired
	}
	return Unpaired
}

func suitedness(maxSuit, n int) Suitedness {
	switch {
	case maxSuit >= 3 && maxSuit == n:
		return Monotone
	case maxSuit >= 3:
		return Suited
	case maxSuit == 2:
		return TwoTone
	}
	return Rainbow
}

// bestStraightWindow returns the largest number of distinct board ranks
// inside any five-rank straight window, counting the ace as both high and
// low.
func bestStraightWindow(rankCount []int) int {
	present := func(r int) bool {
		if r == 1 {
			return rankCount[model.RankAce] > 0
		}
		return rankCount[r] > 0
	}
	best := 0
	for lo := 1; lo <= int(model.RankAce)-4; lo++ {
		n := 0
		for r := lo; r < lo+5; r++ {
			if present(r) {
				n++
			}
		}
		best = max(best, n)
	}
	return best
}

func wetness(d Descriptor) Wetness {
	score := 0
	if d.FlushPossible {
		score += 2
	} else if d.FlushDraw {
		score++
	}
	if d.StraightPossible {
		score += 2
	} else if d.StraightDraw {
		score++
	}
	switch {
	case score >= 3:
		return Wet
	case score >= 1:
		return SemiWet
	}
	return Dry
}
