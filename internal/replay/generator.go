package replay

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/okian/tablewatch/internal/domain/model"
)

// Read confidence ranges.
const (
	readConfidenceMin   = 0.75
	readConfidenceRange = 0.24
	noiseConfidenceMin  = 0.2
	noiseConfidenceMax  = 0.45
	foldProbability     = 0.25
	checkProbability    = 0.3
	maxBetMultiple      = 3
	readDurationMinMS   = 5
	readDurationRangeMS = 30
	maxSeats            = 9
	minSeats            = 2
	deckSize            = 52
	heroCards           = 2
)

// Recognition methods stamped on generated reads.
const (
	methodOCR        = "ocr"
	methodTemplate   = "template"
	methodColor      = "color"
	methodClassifier = "classifier"
)

func (c GenerateConfig) normalized() GenerateConfig {
	def := DefaultGenerateConfig()
	if c.Hands <= 0 {
		c.Hands = def.Hands
	}
	if c.Seats < minSeats || c.Seats > maxSeats {
		c.Seats = def.Seats
	}
	if c.Stack <= 0 {
		c.Stack = def.Stack
	}
	if c.BigBlind <= 0 {
		c.BigBlind = def.BigBlind
	}
	if c.NoiseRate < 0 {
		c.NoiseRate = 0
	}
	if c.Start.IsZero() {
		c.Start = def.Start
	}
	if c.FrameInterval <= 0 {
		c.FrameInterval = def.FrameInterval
	}
	return c
}

// generator plays a simplified table and records what a screen reader
// would observe. Every clean read is consistent with the previous state.
type generator struct {
	cfg    GenerateConfig
	rng    *rand.Rand
	out    []model.Measurement
	frame  uint64
	stacks []float64
	pot    float64
}

// Generate returns a deterministic synthetic session of cfg.Hands hands.
// The same config always yields the same stream.
func Generate(cfg GenerateConfig) []model.Measurement {
	cfg = cfg.normalized()
	g := &generator{
		cfg:    cfg,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		stacks: make([]float64, cfg.Seats+1),
	}
	for seat := 1; seat <= cfg.Seats; seat++ {
		g.stacks[seat] = cfg.Stack
	}
	for h := 0; h < cfg.Hands; h++ {
		g.hand(h)
	}
	return g.out
}

func (g *generator) nextFrame() {
	g.frame++
}

func (g *generator) read(p model.Payload, method string) {
	m := model.Measurement{
		Payload:    p,
		Confidence: readConfidenceMin + readConfidenceRange*g.rng.Float64(),
		Method:     method,
		Duration:   time.Duration(readDurationMinMS+g.rng.IntN(readDurationRangeMS)) * time.Millisecond,
		FrameID:    g.frame,
		Timestamp:  g.cfg.Start.Add(time.Duration(g.frame-1) * g.cfg.FrameInterval),
	}
	g.emit(m)
}

func (g *generator) emit(m model.Measurement) { //nolint:gocritic // hugeParam: measurements are values
	g.out = append(g.out, m)
	if g.noisy() {
		m.Confidence = noiseConfidenceMin + (noiseConfidenceMax-noiseConfidenceMin)*g.rng.Float64()
		m.NewHand = false
		g.out = append(g.out, m)
	}
}

func (g *generator) noisy() bool {
	return g.cfg.NoiseRate > 0 && g.rng.Float64() < g.cfg.NoiseRate
}

func (g *generator) deck() []string {
	perm := g.rng.Perm(deckSize)
	cards := make([]string, deckSize)
	for i, n := range perm {
		cards[i] = model.Card{Rank: model.RankTwo + model.Rank(n/len(model.Suits)), Suit: model.Suits[n%len(model.Suits)]}.String()
	}
	return cards
}

func (g *generator) player(seat int, active bool) model.Player {
	return model.Player{Seat: seat, Name: fmt.Sprintf("player%d", seat), Stack: g.stacks[seat], Active: active}
}

func (g *generator) hand(n int) {
	g.pot = 0
	g.nextFrame()
	start := len(g.out)
	g.read(model.Pot{Amount: 0}, methodOCR)
	g.out[start].NewHand = true
	g.read(model.Button{Seat: n%g.cfg.Seats + 1}, methodColor)

	inHand := make([]int, 0, g.cfg.Seats)
	g.nextFrame()
	for seat := 1; seat <= g.cfg.Seats; seat++ {
		active := g.stacks[seat] > 0
		g.read(g.player(seat, active), methodOCR)
		if active {
			inHand = append(inHand, seat)
		}
	}

	deck := g.deck()
	g.nextFrame()
	g.read(model.HeroCards{Cards: deck[:heroCards]}, methodTemplate)
	board := deck[heroCards : heroCards+model.MaxBoardCards]

	for _, shown := range []int{0, 3, 4, 5} {
		if shown > 0 {
			g.nextFrame()
			cards := append([]string(nil), board[:shown]...)
			g.read(model.Board{Cards: cards}, methodTemplate)
			if g.noisy() {
				misread := append([]string(nil), cards...)
				misread[len(misread)-1] = misread[0]
				g.out = append(g.out, model.Measurement{
					Payload:    model.Board{Cards: misread},
					Confidence: readConfidenceMin + readConfidenceRange*g.rng.Float64(),
					Method:     methodTemplate,
					FrameID:    g.frame,
					Timestamp:  g.cfg.Start.Add(time.Duration(g.frame-1) * g.cfg.FrameInterval),
				})
			}
		}
		inHand = g.bettingRound(inHand, shown == 0)
	}

	if len(inHand) == 0 {
		return
	}
	winner := inHand[g.rng.IntN(len(inHand))]
	g.stacks[winner] += g.pot
	g.nextFrame()
	g.read(g.player(winner, true), methodOCR)
}

// bettingRound plays one street and returns the seats still in the hand.
func (g *generator) bettingRound(inHand []int, preflop bool) []int {
	canAct := make([]int, 0, len(inHand))
	for _, seat := range inHand {
		if g.stacks[seat] > 0 {
			canAct = append(canAct, seat)
		}
	}
	if len(canAct) < minSeats {
		return inHand
	}

	if !preflop && g.rng.Float64() < checkProbability {
		for _, seat := range canAct {
			g.nextFrame()
			g.read(model.Action{Seat: seat, Kind: model.ActionCheck}, methodClassifier)
		}
		return inHand
	}

	first := g.rng.IntN(len(canAct))
	bet := g.cfg.BigBlind * float64(1+g.rng.IntN(maxBetMultiple))
	folded := make(map[int]bool)
	remaining := len(inHand)
	for i := range canAct {
		seat := canAct[(first+i)%len(canAct)]
		if i > 0 && remaining > minSeats && g.rng.Float64() < foldProbability {
			g.nextFrame()
			g.read(model.Action{Seat: seat, Kind: model.ActionFold}, methodClassifier)
			folded[seat] = true
			remaining--
			continue
		}
		kind := model.ActionCall
		if i == 0 {
			kind = model.ActionBet
		}
		g.commit(seat, kind, bet)
	}

	out := make([]int, 0, len(inHand))
	for _, seat := range inHand {
		if !folded[seat] {
			out = append(out, seat)
		}
	}
	return out
}

// commit records a chip-committing action together with the stack and pot
// reads it causes, all in one frame.
func (g *generator) commit(seat int, kind model.ActionKind, amount float64) {
	amount = min(amount, g.stacks[seat])
	if amount == g.stacks[seat] {
		kind = model.ActionAllIn
	}
	g.nextFrame()
	g.read(model.Action{Seat: seat, Kind: kind, Amount: amount}, methodClassifier)
	g.stacks[seat] -= amount
	g.pot += amount
	g.read(g.player(seat, true), methodOCR)
	g.read(model.Pot{Amount: g.pot}, methodOCR)
}
