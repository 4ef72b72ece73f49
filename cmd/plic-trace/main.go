package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tinyrange/plic/internal/trace"
)

type kindSummary struct {
	Name  string
	Flags trace.EventFlags
	Count int
	First int64
	Last  int64
}

func (s *kindSummary) String() string {
	return fmt.Sprintf("% 12s flags=% 10s count=% 8d span=% 14s",
		s.Name, s.Flags, s.Count, time.Duration(s.Last-s.First))
}

func (s *kindSummary) Add(ev trace.Event) {
	s.Count++
	if s.First == 0 || ev.Time < s.First {
		s.First = ev.Time
	}
	if ev.Time > s.Last {
		s.Last = ev.Time
	}
}

func run() error {
	stats := flag.Bool("stats", false, "print per-kind totals instead of individual events")
	kind := flag.String("kind", "", "only show events of this kind")
	source := flag.Int("source", -1, "only show events for this source")
	hart := flag.Int("hart", -1, "only show events for this hart or context")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `plic-trace - inspect controller event traces

USAGE:
  plic-trace [flags] <filename>

FLAGS:
  -stats         Print per-kind totals instead of individual events
  -kind NAME     Only show events of one kind (claim, dispatch, complete,
                 spurious, raise, lower, pulse, enable, disable, priority,
                 threshold)
  -source N      Only show events touching source N
  -hart N        Only show events for hart/context N

OUTPUT FORMAT:
  Each event is printed as: OFFSET KIND hart=H source=S value=V
  Offsets are relative to the first record in the file.

EXAMPLES:
  plic-trace events.trace                          Show every recorded event
  plic-trace -stats events.trace                   Summarize by kind
  plic-trace -kind claim events.trace              Claims only
  plic-trace -kind dispatch -hart 1 events.trace   Hart 1 dispatches
  plic-trace -source 10 events.trace               Everything touching source 10
`)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		return fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()

	keep := func(name string, ev trace.Event) bool {
		if *kind != "" && name != *kind {
			return false
		}
		if *source >= 0 && ev.Source != uint32(*source) {
			return false
		}
		if *hart >= 0 && ev.Hart != uint32(*hart) {
			return false
		}
		return true
	}

	if *stats {
		summaries := map[string]*kindSummary{}
		displayOrder := []string{}
		if err := trace.ReadAllRecords(f, func(name string, flags trace.EventFlags, ev trace.Event) error {
			if !keep(name, ev) {
				return nil
			}
			summary, ok := summaries[name]
			if !ok {
				displayOrder = append(displayOrder, name)
				summary = &kindSummary{Name: name, Flags: flags}
				summaries[name] = summary
			}
			summary.Add(ev)
			return nil
		}); err != nil {
			return fmt.Errorf("read trace file: %w", err)
		}
		for _, name := range displayOrder {
			fmt.Printf("%s\n", summaries[name].String())
		}
		return nil
	}

	var base int64
	if err := trace.ReadAllRecords(f, func(name string, flags trace.EventFlags, ev trace.Event) error {
		if base == 0 {
			base = ev.Time
		}
		if !keep(name, ev) {
			return nil
		}
		fmt.Printf("% 12s % 10s hart=% 3d source=% 4d value=0x%x\n",
			time.Duration(ev.Time-base), name, ev.Hart, ev.Source, ev.Value)
		return nil
	}); err != nil {
		return fmt.Errorf("read trace file: %w", err)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
