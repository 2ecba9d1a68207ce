package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"golang.org/x/term"

	"github.com/strato3003/jimny/pkg/assign"
	"github.com/strato3003/jimny/pkg/compare"
	"github.com/strato3003/jimny/pkg/config"
	"github.com/strato3003/jimny/pkg/editor"
	"github.com/strato3003/jimny/pkg/export"
	"github.com/strato3003/jimny/pkg/models"
	"github.com/strato3003/jimny/pkg/publish"
	"github.com/strato3003/jimny/pkg/reader"
	"github.com/strato3003/jimny/pkg/refine"
	"github.com/strato3003/jimny/pkg/renderer"
	"github.com/strato3003/jimny/pkg/scanner"
	"github.com/strato3003/jimny/pkg/scorer"
	"github.com/strato3003/jimny/pkg/series"
	"github.com/strato3003/jimny/pkg/shape"
	"github.com/strato3003/jimny/pkg/store"
	"github.com/strato3003/jimny/pkg/synth"
	"github.com/strato3003/jimny/pkg/web"
)

const usage = `Usage: jimny <command> [flags]

Commands:
  infer        infer the field mapping of a session (default)
  scan         survey the raw 16-bit windows of a session
  compare      evaluate a mapping file against a session, or diff two mappings
  investigate  run, exclude fields interactively and rerun
  runs         list stored runs, or show one with -id
  serve        serve the run history as JSON
  synth        write a simulated session

Run 'jimny <command> -h' for the flags of a command.
`

func main() {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		pterm.DisableStyling()
	}

	args := os.Args[1:]
	cmd := "infer"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "infer":
		err = runInfer(args)
	case "scan":
		err = runScan(args)
	case "compare":
		err = runCompare(args)
	case "investigate":
		err = runInvestigate(args)
	case "runs":
		err = runRuns(args)
	case "serve":
		err = runServe(args)
	case "synth":
		err = runSynth(args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Print(usage)
		pterm.Error.Printf("Unknown command: %s\n", cmd)
		os.Exit(2)
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		pterm.Error.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

// stringList is a repeatable string flag
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// common holds the flags every data command shares
type common struct {
	configPath string
	data       string
	limit      int
	encoding   string
	logLevel   string
	logJSON    bool
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&c.data, "data", "", "JSONL session file")
	fs.IntVar(&c.limit, "limit", 0, "use only the first N records")
	fs.StringVar(&c.encoding, "encoding", "", "raw page encoding: ascii-hex or hex")
	fs.StringVar(&c.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	fs.BoolVar(&c.logJSON, "log-json", false, "log as JSON")
}

// load reads the configuration and applies the flags that were set
func (c *common) load(fs *flag.FlagSet) (*config.Config, error) {
	cfg := config.Default()
	if c.configPath != "" {
		var err error
		if cfg, err = config.Load(c.configPath); err != nil {
			return nil, err
		}
	}

	set := visited(fs)
	if set["limit"] {
		cfg.Input.Limit = c.limit
	}
	if set["encoding"] {
		cfg.Input.RawEncoding = c.encoding
	}
	if set["log-level"] {
		cfg.Logging.Level = c.logLevel
	}
	if c.logJSON {
		cfg.Logging.Format = "json"
	}
	return cfg, nil
}

func visited(fs *flag.FlagSet) map[string]bool {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// engine is everything a run needs, built once per dataset
type engine struct {
	cfg      *config.Config
	logger   *pterm.Logger
	ds       *models.Dataset
	scorer   *scorer.Scorer
	resolver *assign.Resolver
}

func loadDataset(cfg *config.Config, path string, logger *pterm.Logger) (*models.Dataset, error) {
	if path == "" {
		return nil, errors.New("no session file given, use -data")
	}
	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Loading %s...", filepath.Base(path)))
	ds, err := reader.ReadDataset(path, reader.Options{
		Encoding: cfg.Encoding(),
		Limit:    cfg.Input.Limit,
		Channels: cfg.ChannelList(),
		Fields:   cfg.FieldList(),
		Logger:   logger,
	})
	if err != nil {
		spinner.Fail("Failed to load session")
		return nil, err
	}
	spinner.Success(fmt.Sprintf("Loaded %d observations", ds.Len()))
	renderer.RenderDatasetSummary(path, ds)
	return ds, nil
}

func newEngine(cfg *config.Config, ds *models.Dataset, useOverrides bool) (*engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rules, err := cfg.Rules()
	if err != nil {
		return nil, err
	}
	var overrides []models.PriorityOverride
	if useOverrides {
		if overrides, err = cfg.PriorityOverrides(); err != nil {
			return nil, err
		}
	}

	idx := series.NewIndex(ds, series.NewNormalizer(rules), cfg.Engine.MaxOffset)
	sc := scorer.New(idx, cfg.ScorerOptions())
	r := assign.NewResolver(sc, shape.NewRanker(idx, cfg.Engine.Workers), overrides, cfg.AssignOptions())
	return &engine{cfg: cfg, logger: cfg.Logger(), ds: ds, scorer: sc, resolver: r}, nil
}

func (e *engine) run(exclusions []models.Exclusion) *refine.Result {
	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Resolving with the %s policy...", e.cfg.Engine.Policy))
	res := refine.New(e.resolver, e.scorer, e.ds.Fields, e.cfg.RefineOptions(), exclusions).
		WithLogger(e.logger).
		Run()
	spinner.Success(fmt.Sprintf("Refinement %s after %d iteration(s)", res.Outcome, res.Iterations))
	return res
}

func runInfer(args []string) error {
	fs := flag.NewFlagSet("infer", flag.ContinueOnError)
	var c common
	c.register(fs)
	policy := fs.String("policy", "", "resolution policy: no-conflict, by-shape or hybrid")
	iterations := fs.Int("iterations", 0, "refinement iteration budget")
	threshold := fs.Float64("threshold", 0, "stop once the worst error is below this")
	maxOffset := fs.Int("max-offset", 0, "highest byte offset scanned (exclusive)")
	top := fs.Int("top", 0, "candidates kept per field")
	noLinear := fs.Bool("no-linear", false, "disable linear fitting")
	noOverrides := fs.Bool("no-overrides", false, "ignore priority overrides")
	var excludes stringList
	fs.Var(&excludes, "exclude", "exclude field:channel:offset (repeatable)")
	out := fs.String("out", "", "write the mapping JSON here")
	csvPath := fs.String("csv", "", "write the error table CSV here")
	dbPath := fs.String("db", "", "record the run in this SQLite database")
	broker := fs.String("mqtt", "", "publish the mapping to this MQTT broker")
	topic := fs.String("mqtt-topic", "", "MQTT topic prefix")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := c.load(fs)
	if err != nil {
		return err
	}
	set := visited(fs)
	if set["policy"] {
		cfg.Engine.Policy = *policy
	}
	if set["iterations"] {
		cfg.Engine.Iterations = *iterations
	}
	if set["threshold"] {
		cfg.Engine.Threshold = *threshold
	}
	if set["max-offset"] {
		cfg.Engine.MaxOffset = *maxOffset
	}
	if set["top"] {
		cfg.Engine.TopN = *top
	}
	if *noLinear {
		cfg.Engine.LinearFit = false
	}
	cfg.Exclude = append(cfg.Exclude, excludes...)
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}
	if *broker != "" {
		cfg.MQTT.Broker = *broker
	}
	if *topic != "" {
		cfg.MQTT.Topic = *topic
	}

	pterm.DefaultHeader.WithFullWidth().Println("Field Mapping Inference")
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.Print()

	ds, err := loadDataset(cfg, c.data, cfg.Logger())
	if err != nil {
		return err
	}
	e, err := newEngine(cfg, ds, !*noOverrides)
	if err != nil {
		return err
	}
	exclusions, err := cfg.Exclusions()
	if err != nil {
		return err
	}

	res := e.run(exclusions)
	pterm.Println()
	renderer.RenderResult(res)

	title := fmt.Sprintf("%s, %s policy, %s", filepath.Base(c.data), cfg.Engine.Policy, res.Outcome)
	if err := export.ExportResult(*out, *csvPath, res.Assignment, res.Table, title); err != nil {
		return err
	}
	if cfg.Store.Path != "" {
		if err := recordRun(cfg, c.data, ds, res); err != nil {
			return err
		}
	}
	if cfg.MQTT.Broker != "" {
		if err := publishMapping(cfg, res.Assignment, e.logger); err != nil {
			return err
		}
	}
	return nil
}

func recordRun(cfg *config.Config, source string, ds *models.Dataset, res *refine.Result) error {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	snapshot := *cfg
	snapshot.MQTT.Password = ""
	run, err := store.NewRun(source, ds, cfg.Engine.Policy, res, &snapshot)
	if err != nil {
		return err
	}
	id, err := st.Save(context.Background(), run)
	if err != nil {
		return err
	}
	pterm.Success.Printf("Run recorded as %s in %s\n", id, cfg.Store.Path)
	return nil
}

func publishMapping(cfg *config.Config, a *models.Assignment, logger *pterm.Logger) error {
	client, err := publish.Connect(publish.Options{
		Broker:   cfg.MQTT.Broker,
		Topic:    cfg.MQTT.Topic,
		ClientID: cfg.MQTT.ClientID,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		QoS:      byte(cfg.MQTT.QoS),
	}, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.PublishMapping(a); err != nil {
		return err
	}
	pterm.Success.Printf("Mapping published under %s\n", cfg.MQTT.Topic)
	return nil
}

func runScan(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	var c common
	c.register(fs)
	maxOffset := fs.Int("max-offset", 0, "highest byte offset scanned (exclusive)")
	minRange := fs.Float64("min-range", 1, "hide windows whose range is below this")
	byVariance := fs.Bool("by-variance", false, "order by variance instead of position")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := c.load(fs)
	if err != nil {
		return err
	}
	if visited(fs)["max-offset"] {
		cfg.Engine.MaxOffset = *maxOffset
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ds, err := loadDataset(cfg, c.data, cfg.Logger())
	if err != nil {
		return err
	}
	stats := scanner.Survey(series.NewIndex(ds, nil, cfg.Engine.MaxOffset))
	if *byVariance {
		stats = scanner.ByVariance(stats)
	}
	pterm.Println()
	scanner.DisplayResults(stats, *minRange)
	return nil
}

func runCompare(args []string) error {
	fs := flag.NewFlagSet("compare", flag.ContinueOnError)
	var c common
	c.register(fs)
	mappingPath := fs.String("mapping", "", "mapping JSON to evaluate")
	against := fs.String("against", "", "second mapping JSON to diff with")
	csvPath := fs.String("csv", "", "write the error table CSV here")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *mappingPath == "" {
		return errors.New("no mapping given, use -mapping")
	}

	cfg, err := c.load(fs)
	if err != nil {
		return err
	}
	fields, channels := cfg.FieldList(), cfg.ChannelList()
	a, err := export.ReadMapping(*mappingPath, fields, channels)
	if err != nil {
		return err
	}

	if *against != "" {
		b, err := export.ReadMapping(*against, fields, channels)
		if err != nil {
			return err
		}
		if c.data != "" {
			ds, err := loadDataset(cfg, c.data, cfg.Logger())
			if err != nil {
				return err
			}
			e, err := newEngine(cfg, ds, false)
			if err != nil {
				return err
			}
			a = compare.Evaluate(e.scorer, a).Assignment()
			b = compare.Evaluate(e.scorer, b).Assignment()
		}
		compare.DisplayDiff(fmt.Sprintf("%s vs %s", filepath.Base(*mappingPath), filepath.Base(*against)), compare.Diff(a, b))
		return nil
	}

	ds, err := loadDataset(cfg, c.data, cfg.Logger())
	if err != nil {
		return err
	}
	e, err := newEngine(cfg, ds, false)
	if err != nil {
		return err
	}
	table := compare.Evaluate(e.scorer, a)
	pterm.Println()
	renderer.RenderErrorTable(filepath.Base(*mappingPath), table)
	return export.ExportResult("", *csvPath, a, table, filepath.Base(*mappingPath))
}

func runInvestigate(args []string) error {
	fs := flag.NewFlagSet("investigate", flag.ContinueOnError)
	var c common
	c.register(fs)
	policy := fs.String("policy", "", "resolution policy: no-conflict, by-shape or hybrid")
	out := fs.String("out", "", "offer to save the new mapping here")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := c.load(fs)
	if err != nil {
		return err
	}
	if visited(fs)["policy"] {
		cfg.Engine.Policy = *policy
	}
	ds, err := loadDataset(cfg, c.data, cfg.Logger())
	if err != nil {
		return err
	}
	e, err := newEngine(cfg, ds, true)
	if err != nil {
		return err
	}
	initial, err := cfg.Exclusions()
	if err != nil {
		return err
	}

	before := e.run(initial)
	renderer.RenderErrorTable("Current Mapping", before.Table)

	prompter := editor.Terminal{}
	picked, err := editor.PickExclusions(prompter, before.Table)
	if errors.Is(err, editor.ErrCancelled) {
		pterm.Info.Println("Nothing excluded.")
		return nil
	}
	if err != nil {
		return err
	}

	after := e.run(append(before.Exclusions, picked...))
	pterm.Println()
	renderer.RenderResult(after)
	compare.DisplayDiff("Before vs After", compare.Diff(before.Assignment, after.Assignment))

	if *out != "" {
		written, err := editor.SaveMapping(prompter, *out, after.Assignment)
		if err != nil {
			return err
		}
		if written {
			pterm.Success.Printf("Mapping written to %s\n", *out)
		}
	}
	return nil
}

func runRuns(args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	dbPath := fs.String("db", "", "SQLite run history")
	id := fs.String("id", "", "show this run")
	limit := fs.Int("n", 20, "number of runs listed, 0 for all")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" {
		return errors.New("no database given, use -db")
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	if *id != "" {
		run, err := st.Get(ctx, *id)
		if err != nil {
			return err
		}
		renderer.RenderRun(run)
		return nil
	}
	runs, err := st.List(ctx, *limit)
	if err != nil {
		return err
	}
	renderer.RenderRuns(runs)
	return nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	dbPath := fs.String("db", "", "SQLite run history")
	port := fs.Int("port", 8080, "HTTP port")
	open := fs.Bool("open", false, "open the browser")
	logLevel := fs.String("log-level", "info", "log level")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" {
		return errors.New("no database given, use -db")
	}
	level, err := config.ParseLevel(*logLevel)
	if err != nil {
		return err
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return web.NewServer(st, *port, *open, pterm.DefaultLogger.WithLevel(level)).Start(ctx)
}

func runSynth(args []string) error {
	fs := flag.NewFlagSet("synth", flag.ContinueOnError)
	out := fs.String("out", "session.jsonl", "output JSONL file")
	seed := fs.Uint64("seed", 1, "random seed")
	n := fs.Int("n", 600, "number of observations")
	encoding := fs.String("encoding", string(reader.ASCIIHex), "raw page encoding: ascii-hex or hex")
	if err := fs.Parse(args); err != nil {
		return err
	}
	enc, err := reader.ParseEncoding(*encoding)
	if err != nil {
		return err
	}
	if *n < 1 {
		return fmt.Errorf("-n must be positive, got %d", *n)
	}

	cfg := synth.DefaultConfig()
	cfg.Seed, cfg.Observations = *seed, *n
	start := time.Now()
	ds := synth.Generate(cfg)
	if err := reader.WriteFile(*out, ds, enc); err != nil {
		return err
	}
	pterm.Success.Printf("Wrote %d observations to %s in %s\n", ds.Len(), *out, time.Since(start).Round(time.Millisecond))
	return nil
}
