package replay

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/okian/tablewatch/internal/domain/model"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// ValidFormats lists the accepted output formats.
var ValidFormats = []string{FormatText, FormatJSON}

// WriteSummary renders s in the given format.
func WriteSummary(w io.Writer, s *Summary, format string) error {
	if format == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	return writeSummaryText(w, s)
}

func writeSummaryText(w io.Writer, s *Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "session\t%s\n", s.SessionID)
	fmt.Fprintf(tw, "measurements\t%d\n", s.Measurements)
	fmt.Fprintf(tw, "frames\t%d\n", s.Frames)
	fmt.Fprintf(tw, "hands\t%d\n", s.Hands)
	fmt.Fprintf(tw, "elapsed\t%s\n", s.Elapsed)
	if s.Errors > 0 {
		fmt.Fprintf(tw, "errors\t%d\n", s.Errors)
	}

	fmt.Fprintln(tw, "\noutcome\tcount")
	for _, k := range sortedKeys(s.Outcomes) {
		fmt.Fprintf(tw, "%s\t%d\n", k, s.Outcomes[k])
	}

	fmt.Fprintf(tw, "\nevents\t%d in %d batches (%d suppressed, %d dropped)\n", s.Events, s.Batches, s.Suppressed, s.Dropped)
	for _, k := range sortedKeys(s.EventsByKind) {
		fmt.Fprintf(tw, "  %s\t%d\n", k, s.EventsByKind[k])
	}
	for _, l := range []model.ConfidenceLevel{model.LevelHigh, model.LevelMedium, model.LevelLow} {
		if n := s.EventsByLevel[l]; n > 0 {
			fmt.Fprintf(tw, "  %s\t%d\n", l, n)
		}
	}

	if len(s.Detections) > 0 {
		fmt.Fprintln(tw, "\ntype\tcount\tsuccess\tcache hits\tconf avg\tduration avg (ms)")
		for _, r := range s.Detections {
			fmt.Fprintf(tw, "%s\t%d\t%.1f%%\t%d\t%.3f\t%.1f\n",
				r.Type, r.Count, r.SuccessRate()*100, r.CacheHits, r.ConfidenceAvg, r.DurationAvgMS)
		}
	}

	if len(s.FrameRates) > 0 {
		fmt.Fprintln(tw, "\nstream\tsamples\tfps avg\tfps now")
		for _, f := range s.FrameRates {
			fmt.Fprintf(tw, "%s\t%d\t%.1f\t%.1f\n", f.Key, f.Samples, f.Average, f.Instantaneous)
		}
	}

	snap := s.Snapshot
	fmt.Fprintln(tw, "\ntable")
	fmt.Fprintf(tw, "  pot\t%.2f\n", snap.Pot)
	fmt.Fprintf(tw, "  board\t%s\n", strings.Join(snap.BoardCards, " "))
	fmt.Fprintf(tw, "  hero\t%s\n", strings.Join(snap.HeroCards, " "))
	fmt.Fprintf(tw, "  button\t%d\n", snap.ButtonSeat)
	for _, p := range snap.Players {
		state := "in"
		if !p.Active {
			state = "out"
		}
		fmt.Fprintf(tw, "  seat %d\t%s %.2f %s\n", p.Seat, p.Name, p.Stack, state)
	}
	return tw.Flush()
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
