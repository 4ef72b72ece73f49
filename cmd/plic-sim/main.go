package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/schollz/progressbar/v3"
	plic "github.com/tinyrange/plic"
	"golang.org/x/term"
)

// demoScenario runs when no -scenario file is given: serial traffic,
// two pulsed sources, and a timer arm.
const demoScenario = `
name: demo
steps: 24
sources:
  - irq: 5
    priority: 3
  - irq: 6
    priority: 1
events:
  - at: 0
    uart: "plic: hello from the gateway\n"
  - at: 2
    pulse: 5
  - at: 2
    pulse: 6
  - at: 4
    timer: 6
  - at: 8
    uart: "plic: second burst\n"
  - at: 9
    pulse: 6
`

func parseMode(mode string) (plic.Mode, error) {
	switch mode {
	case "machine", "m":
		return plic.ModeMachine, nil
	case "supervisor", "s":
		return plic.ModeSupervisor, nil
	default:
		return plic.ModeMachine, fmt.Errorf("unsupported mode: %s", mode)
	}
}

func loadProfile(board, dtb, name string, harts int, mode plic.Mode) (*plic.Profile, error) {
	switch {
	case board != "":
		return plic.LoadProfile(board)
	case dtb != "":
		blob, err := os.ReadFile(dtb)
		if err != nil {
			return nil, fmt.Errorf("read dtb: %w", err)
		}
		return plic.FromDeviceTree(blob, mode)
	}

	switch name {
	case "qemu-virt":
		return plic.QemuVirt(harts, mode), nil
	case "hifive1":
		return plic.HiFive1(), nil
	default:
		return nil, fmt.Errorf("unknown profile %q (have qemu-virt, hifive1)", name)
	}
}

func run() error {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	profileName := fs.String("profile", "qemu-virt", "built-in board profile (qemu-virt or hifive1)")
	modeName := fs.String("mode", "machine", "privilege mode context to drive (machine or supervisor)")
	harts := fs.Int("harts", 1, "hart count for the qemu-virt profile")
	board := fs.String("board", "", "board description YAML, overrides -profile")
	dtb := fs.String("dtb", "", "device tree blob to probe for the board, overrides -profile")

	scenarioFile := fs.String("scenario", "", "scenario YAML to run; a built-in demo runs when empty")
	steps := fs.Int("steps", 0, "override the scenario's step count")
	n := fs.Int("n", 1, "number of times to run the scenario")

	traceFile := fs.String("trace", "", "record an event trace for later analysis with plic-trace")
	monitor := fs.Bool("monitor", false, "redraw machine state in place while running")
	delay := fs.Duration("delay", 100*time.Millisecond, "per-step delay in monitor mode")
	verbose := fs.Bool("verbose", false, "enable debug logging")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("failed to parse args: %w", err)
	}

	if *verbose {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	mode, err := parseMode(*modeName)
	if err != nil {
		return err
	}

	prof, err := loadProfile(*board, *dtb, *profileName, *harts, mode)
	if err != nil {
		return err
	}

	var scenario *plic.Scenario
	if *scenarioFile != "" {
		scenario, err = plic.LoadScenario(*scenarioFile)
	} else {
		scenario, err = plic.ParseScenario([]byte(demoScenario))
	}
	if err != nil {
		return err
	}
	if *steps > 0 {
		scenario.Steps = *steps
	}

	if *traceFile != "" {
		f, err := os.Create(*traceFile)
		if err != nil {
			return fmt.Errorf("create trace file: %w", err)
		}
		defer f.Close()

		closer, err := plic.StartTrace(f)
		if err != nil {
			return fmt.Errorf("start trace: %w", err)
		}
		defer closer.Close()
	}

	cfg := plic.MachineConfig{
		Profile:    prof,
		Console:    os.Stdout,
		Sources:    scenario.Sources,
		Thresholds: scenario.Thresholds,
	}

	ctx := context.Background()

	if *n > 1 {
		if *monitor {
			return fmt.Errorf("-monitor needs a single run, not -n %d", *n)
		}
		return soak(ctx, cfg, scenario, *n)
	}

	machine, err := plic.NewMachine(cfg)
	if err != nil {
		return err
	}

	var report *plic.Report
	if *monitor && term.IsTerminal(int(os.Stdout.Fd())) {
		report, err = monitorRun(ctx, machine, scenario, *delay)
	} else {
		report, err = machine.Run(ctx, scenario.Steps, scenario.Events)
	}
	if err != nil {
		return err
	}

	printReport(prof, report)
	return nil
}

// soak runs the scenario n times on fresh machines, checking that the
// outcome never drifts.
func soak(ctx context.Context, cfg plic.MachineConfig, scenario *plic.Scenario, n int) error {
	pb := progressbar.Default(int64(n))
	defer pb.Close()

	var first, last *plic.Report
	for i := 0; i < n; i++ {
		machine, err := plic.NewMachine(cfg)
		if err != nil {
			return err
		}

		report, err := machine.Run(ctx, scenario.Steps, scenario.Events)
		if err != nil {
			return fmt.Errorf("run %d failed: %w", i, err)
		}

		if first == nil {
			first = report
		} else if report.TotalDispatches() != first.TotalDispatches() {
			return fmt.Errorf("run %d dispatched %d interrupts, run 0 dispatched %d",
				i, report.TotalDispatches(), first.TotalDispatches())
		}
		last = report

		pb.Add(1)
	}

	fmt.Printf("%d identical runs\n", n)
	printReport(cfg.Profile, last)
	return nil
}

// monitorRun steps the machine one step at a time and redraws a small
// status block in place.
func monitorRun(ctx context.Context, machine *plic.Machine, scenario *plic.Scenario, delay time.Duration) (*plic.Report, error) {
	byStep := map[int][]plic.Event{}
	for _, ev := range scenario.Events {
		at := ev.At
		ev.At = 0
		byStep[at] = append(byStep[at], ev)
	}

	drawn := 0
	for step := 0; step < scenario.Steps; step++ {
		if _, err := machine.Run(ctx, 1, byStep[step]); err != nil {
			return nil, err
		}

		if drawn > 0 {
			fmt.Print(ansi.CursorUp(drawn))
		}
		lines := renderState(machine, machine.Report(), step, scenario.Steps)
		for _, line := range lines {
			fmt.Print(ansi.EraseEntireLine)
			fmt.Println(line)
		}
		drawn = len(lines)

		time.Sleep(delay)
	}

	return machine.Report(), nil
}

func renderState(machine *plic.Machine, report *plic.Report, step, total int) []string {
	lines := []string{
		fmt.Sprintf("step %3d/%d  claims=%d spurious=%d completes=%d",
			step+1, total, report.Stats.Claims, report.Stats.SpuriousClaims, report.Stats.Completes),
	}

	for h := 0; h < machine.Harts(); h++ {
		var dispatched uint64
		for _, count := range report.Dispatches[uint64(h)] {
			dispatched += count
		}
		level := "low "
		if machine.HartLineHigh(h) {
			level = "high"
		}
		lines = append(lines, fmt.Sprintf("hart %d: line=%s dispatches=%d", h, level, dispatched))
	}

	rx := report.Received
	if len(rx) > 32 {
		rx = rx[len(rx)-32:]
	}
	lines = append(lines, fmt.Sprintf("uart rx: %q", rx))
	return lines
}

func printReport(prof *plic.Profile, report *plic.Report) {
	fmt.Printf("ran %d steps: %d dispatches, claims=%d completes=%d spurious=%d invalid=%d\n",
		report.Steps, report.TotalDispatches(),
		report.Stats.Claims, report.Stats.Completes,
		report.Stats.SpuriousClaims, report.Stats.InvalidCompletes)

	harts := make([]uint64, 0, len(report.Dispatches))
	for id := range report.Dispatches {
		harts = append(harts, id)
	}
	sort.Slice(harts, func(i, j int) bool { return harts[i] < harts[j] })

	for _, id := range harts {
		per := report.Dispatches[id]
		irqs := make([]uint32, 0, len(per))
		for irq := range per {
			irqs = append(irqs, irq)
		}
		sort.Slice(irqs, func(i, j int) bool { return irqs[i] < irqs[j] })

		fmt.Printf("  hart %d:", id)
		for _, irq := range irqs {
			label := ""
			switch {
			case prof.UARTBase != 0 && irq == prof.UARTIRQ:
				label = " (uart)"
			case prof.TimerBase != 0 && irq == prof.TimerIRQ:
				label = " (timer)"
			}
			fmt.Printf(" irq %d%s x%d", irq, label, per[irq])
		}
		fmt.Println()
	}

	if len(report.Received) > 0 {
		fmt.Printf("  received: %q\n", report.Received)
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run simulation: %v\n", err)
		os.Exit(1)
	}
}
