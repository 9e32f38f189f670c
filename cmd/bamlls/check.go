package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"bamlls/internal/compiler"
	"bamlls/internal/diag"
	"bamlls/internal/diagfmt"
	"bamlls/internal/observ"
	"bamlls/internal/project"
	"bamlls/internal/source"
	"bamlls/internal/ui"
)

var checkUI = uiModeAuto

var checkCmd = &cobra.Command{
	Use:          "check [paths...]",
	Short:        "Compile every project root under the given paths and report diagnostics",
	SilenceUsage: true,
	RunE:         runCheck,
}

func init() {
	checkCmd.Flags().String("format", "pretty", "output format (pretty|json)")
	checkCmd.Flags().Var(&checkUI, "ui", "progress UI (auto|on|off)")
	checkCmd.Flags().Int("jobs", runtime.NumCPU(), "roots compiled in parallel")
	checkCmd.Flags().Bool("timings", false, "print phase timings to stderr")
}

// rootResult is the outcome of compiling one root.
type rootResult struct {
	root    string
	files   []compiler.File
	result  compiler.Result
	readErr error
}

func runCheck(cmd *cobra.Command, args []string) error {
	if err := applyColorMode(cmd); err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	format = strings.ToLower(format)
	if format != "pretty" && format != "json" {
		return fmt.Errorf("unsupported format %q (must be pretty or json)", format)
	}
	jobs, _ := cmd.Flags().GetInt("jobs")
	var timer *observ.Timer
	if on, _ := cmd.Flags().GetBool("timings"); on {
		timer = observ.NewTimer()
		defer func() { fmt.Fprint(cmd.ErrOrStderr(), timer.Summary()) }()
	}

	logger, _ := newLogger(cfg)
	adapter, err := newAdapter(cfg, logger)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		args = []string{"."}
	}
	done := timer.Track("discover roots")
	roots, err := findRoots(cfg.Project.Marker, args)
	if err != nil {
		return err
	}
	done(fmt.Sprintf("%d roots", len(roots)))

	checker := &rootChecker{adapter: adapter, exts: cfg.Project.Extensions, jobs: jobs, timer: timer}
	var results []rootResult
	if format == "pretty" && checkUI.enabled() {
		results, err = checker.runWithUI(cmd.Context(), "checking", roots)
	} else {
		results, err = checker.run(cmd.Context(), roots, nil)
	}
	if err != nil {
		return err
	}

	done = timer.Track("report")
	defer done("")
	bag, sources := collect(results)
	out := cmd.OutOrStdout()
	base, _ := os.Getwd()
	if format == "json" {
		if err := diagfmt.JSON(out, bag, diagfmt.JSONOpts{IncludePositions: true, BaseDir: base}); err != nil {
			return err
		}
	} else {
		diagfmt.Pretty(out, bag, sources, diagfmt.PrettyOpts{Color: !color.NoColor, Context: 1, BaseDir: base})
		printSummary(cmd, results)
	}

	if n := countErrors(bag); n > 0 {
		return fmt.Errorf("%d error(s) in %d root(s)", n, len(roots))
	}
	return nil
}

type rootChecker struct {
	adapter *compiler.Adapter
	exts    []string
	jobs    int
	timer   *observ.Timer
}

// run compiles roots in parallel. Results keep the order of roots.
func (c *rootChecker) run(ctx context.Context, roots []string, events chan<- ui.Event) ([]rootResult, error) {
	results := make([]rootResult, len(roots))
	g, gctx := errgroup.WithContext(ctx)
	if c.jobs > 0 {
		g.SetLimit(c.jobs)
	}
	for i, root := range roots {
		i, root := i, root
		g.Go(func() error {
			results[i] = c.check(gctx, root, events)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *rootChecker) check(ctx context.Context, root string, events chan<- ui.Event) rootResult {
	res := rootResult{root: root}
	paths, err := project.DiscoverFiles(root, c.exts)
	if err != nil {
		res.readErr = err
		emit(events, ui.Event{Root: root, Status: ui.StatusFailed})
		return res
	}
	for _, p := range paths {
		text, err := os.ReadFile(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			res.readErr = err
			emit(events, ui.Event{Root: root, Status: ui.StatusFailed})
			return res
		}
		res.files = append(res.files, compiler.File{Path: p, Text: string(text)})
	}
	if len(res.files) == 0 {
		emit(events, ui.Event{Root: root, Status: ui.StatusEmpty})
		return res
	}
	emit(events, ui.Event{Root: root, Status: ui.StatusCompiling, Files: len(res.files)})
	done := c.timer.Track("compile " + root)
	res.result = c.adapter.Compile(ctx, root, res.files)
	note := fmt.Sprintf("%d files", len(res.files))
	if res.result.Cached {
		note += ", cached"
	}
	done(note)
	emit(events, ui.Event{Root: root, Status: statusOf(res.result)})
	return res
}

// runWithUI drives the progress model while the roots compile.
func (c *rootChecker) runWithUI(ctx context.Context, title string, roots []string) ([]rootResult, error) {
	type outcome struct {
		results []rootResult
		err     error
	}
	events := make(chan ui.Event, 256)
	outcomeCh := make(chan outcome, 1)

	go func() {
		res, err := c.run(ctx, roots, events)
		outcomeCh <- outcome{results: res, err: err}
		close(events)
	}()

	model := ui.NewProgressModel(title, roots, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	_, uiErr := program.Run()
	out := <-outcomeCh
	if uiErr != nil {
		return out.results, uiErr
	}
	return out.results, out.err
}

func emit(events chan<- ui.Event, ev ui.Event) {
	if events != nil {
		events <- ev
	}
}

func statusOf(res compiler.Result) ui.Status {
	switch {
	case diag.HasErrors(res.Diagnostics):
		return ui.StatusFailed
	case len(res.Diagnostics) > 0:
		return ui.StatusWarnings
	default:
		return ui.StatusOK
	}
}

// findRoots resolves each path to the root that contains it or, for a
// directory outside any root, to every root below it.
func findRoots(marker string, paths []string) ([]string, error) {
	seen := make(map[string]struct{})
	var roots []string
	add := func(root string) {
		if _, ok := seen[root]; !ok {
			seen[root] = struct{}{}
			roots = append(roots, root)
		}
	}
	for _, p := range paths {
		root, ok, err := project.FindRoot(marker, p)
		if err != nil {
			return nil, err
		}
		if ok {
			add(root)
			continue
		}
		below, err := rootsBelow(marker, p)
		if err != nil {
			return nil, err
		}
		if len(below) == 0 {
			return nil, fmt.Errorf("no %s directory found for %s", marker, p)
		}
		for _, r := range below {
			add(r)
		}
	}
	sort.Strings(roots)
	return roots, nil
}

func rootsBelow(marker, dir string) ([]string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	var roots []string
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == abs {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != abs && (strings.HasPrefix(name, ".") || name == "node_modules") {
			return filepath.SkipDir
		}
		if name == marker {
			roots = append(roots, path)
			return filepath.SkipDir
		}
		return nil
	})
	return roots, err
}

// collect merges every root's diagnostics into one sorted bag. Read
// failures are reported against the root itself.
func collect(results []rootResult) (*diag.Bag, map[string]string) {
	bag := diag.NewBag(0)
	sources := make(map[string]string)
	for _, r := range results {
		if r.readErr != nil {
			bag.Add(diag.Errorf(r.root, source.Span{}, "read-failed", r.readErr.Error()))
			continue
		}
		for _, f := range r.files {
			sources[f.Path] = f.Text
		}
		for _, d := range r.result.Diagnostics {
			bag.Add(d)
		}
	}
	bag.Sort()
	return bag, sources
}

func countErrors(bag *diag.Bag) int {
	n := 0
	for _, d := range bag.Items() {
		if d.Severity == diag.SevError {
			n++
		}
	}
	return n
}

func printSummary(cmd *cobra.Command, results []rootResult) {
	ok := color.New(color.FgGreen, color.Bold)
	bad := color.New(color.FgRed, color.Bold)
	for _, r := range results {
		status := statusOf(r.result)
		switch {
		case r.readErr != nil:
			status = ui.StatusFailed
		case len(r.files) == 0:
			status = ui.StatusEmpty
		}
		mark := ok.Sprint(status.String())
		if status == ui.StatusFailed || status == ui.StatusEmpty {
			mark = bad.Sprint(status.String())
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s (%d files)\n", r.root, mark, len(r.files))
	}
}
