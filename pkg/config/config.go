package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"gopkg.in/yaml.v3"

	"github.com/strato3003/jimny/pkg/assign"
	"github.com/strato3003/jimny/pkg/models"
	"github.com/strato3003/jimny/pkg/reader"
	"github.com/strato3003/jimny/pkg/refine"
	"github.com/strato3003/jimny/pkg/scorer"
	"github.com/strato3003/jimny/pkg/series"
)

// ErrInvalid marks a configuration that cannot drive a run
var ErrInvalid = errors.New("invalid configuration")

// Config represents the complete engine configuration
type Config struct {
	Engine    EngineConfig      `yaml:"engine"`
	Input     InputConfig       `yaml:"input"`
	Channels  []string          `yaml:"channels"`
	Fields    []string          `yaml:"fields"`
	Formulas  []FormulaConfig   `yaml:"formulas"`
	Normalize []NormalizeConfig `yaml:"normalize"`
	Overrides []OverrideConfig  `yaml:"overrides"`
	Exclude   []string          `yaml:"exclude"`
	Store     StoreConfig       `yaml:"store"`
	MQTT      MQTTConfig        `yaml:"mqtt"`
	Logging   LoggingConfig     `yaml:"logging"`
}

// EngineConfig contains the search and refinement settings
type EngineConfig struct {
	MaxOffset       int     `yaml:"max_offset"`
	Iterations      int     `yaml:"iterations"`
	Threshold       float64 `yaml:"threshold"`
	LinearFit       bool    `yaml:"linear_fit"`
	Policy          string  `yaml:"policy"`
	TopN            int     `yaml:"top_n"`
	ShapeTopN       int     `yaml:"shape_top_n"`
	FallbackTopN    int     `yaml:"fallback_top_n"`
	FreezeThreshold float64 `yaml:"freeze_threshold"`
	Workers         int     `yaml:"workers"`
}

// InputConfig contains JSONL loading settings
type InputConfig struct {
	RawEncoding string `yaml:"raw_encoding"`
	Limit       int    `yaml:"limit"`
}

// FormulaConfig is one entry of the formula table
type FormulaConfig struct {
	Label string  `yaml:"label"`
	Mult  float64 `yaml:"mult"`
	Div   float64 `yaml:"div"`
	Add   float64 `yaml:"add"`
}

// NormalizeConfig is a reference correction rule
type NormalizeConfig struct {
	Field   string  `yaml:"field"`
	Above   float64 `yaml:"above"`
	Below   float64 `yaml:"below"`
	Divisor float64 `yaml:"divisor"`
}

// OverrideConfig pins a field to a slot and a formula label
type OverrideConfig struct {
	Field   string `yaml:"field"`
	Channel string `yaml:"channel"`
	Offset  int    `yaml:"offset"`
	Formula string `yaml:"formula"`
}

// StoreConfig contains run history settings
type StoreConfig struct {
	Path string `yaml:"path"`
}

// MQTTConfig contains mapping publication settings
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      int    `yaml:"qos"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration for the SZ Viewer session
func Default() *Config {
	cfg := &Config{
		Engine: EngineConfig{
			MaxOffset:    60,
			Iterations:   10,
			Threshold:    0.001,
			LinearFit:    true,
			Policy:       assign.Hybrid.String(),
			TopN:         20,
			ShapeTopN:    80,
			FallbackTopN: 30,
		},
		Input:   InputConfig{RawEncoding: string(reader.ASCIIHex)},
		MQTT:    MQTTConfig{Topic: "jimny/decoder", ClientID: "jimny-infer", QoS: 1},
		Logging: LoggingConfig{Level: "info", Format: "colorful"},
	}
	for _, c := range models.DefaultChannels {
		cfg.Channels = append(cfg.Channels, string(c))
	}
	for _, f := range models.DefaultFields {
		cfg.Fields = append(cfg.Fields, string(f))
	}
	for _, f := range models.DefaultFormulas {
		cfg.Formulas = append(cfg.Formulas, FormulaConfig{Label: f.Label, Mult: f.Mult, Div: f.Div, Add: f.Add})
	}
	for _, r := range series.PercentRules(models.DefaultPercentFields) {
		cfg.Normalize = append(cfg.Normalize, NormalizeConfig{Field: string(r.Field), Above: r.Above, Below: r.Below, Divisor: r.Divisor})
	}
	for _, o := range models.DefaultOverrides {
		cfg.Overrides = append(cfg.Overrides, OverrideConfig{
			Field:   string(o.Field),
			Channel: string(o.Slot.Channel),
			Offset:  o.Slot.Offset,
			Formula: o.Formula.Label,
		})
	}
	return cfg
}

// Load reads a YAML file over the defaults and validates the result.
// Lists given in the file replace the default lists.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks budgets, names and cross references
func (c *Config) Validate() error {
	e := c.Engine
	switch {
	case e.MaxOffset < 2 || e.MaxOffset%2 != 0:
		return invalid("engine.max_offset must be a positive even number, got %d", e.MaxOffset)
	case e.Iterations < 1:
		return invalid("engine.iterations must be at least 1, got %d", e.Iterations)
	case e.TopN < 1 || e.ShapeTopN < 1 || e.FallbackTopN < 1:
		return invalid("engine top_n, shape_top_n and fallback_top_n must be positive")
	case e.FreezeThreshold < 0:
		return invalid("engine.freeze_threshold must not be negative")
	case e.Workers < 0:
		return invalid("engine.workers must not be negative")
	case len(c.Channels) == 0:
		return invalid("no channels configured")
	case len(c.Fields) == 0:
		return invalid("no fields configured")
	case len(c.Formulas) == 0 && !e.LinearFit:
		return invalid("no formulas configured and linear fitting is off")
	}
	if _, err := assign.ParsePolicy(e.Policy); err != nil {
		return invalid("engine.policy: %v", err)
	}
	if _, err := reader.ParseEncoding(c.Input.RawEncoding); err != nil {
		return invalid("input.raw_encoding: %v", err)
	}
	if c.Input.Limit < 0 {
		return invalid("input.limit must not be negative")
	}
	if err := unique("channels", c.Channels); err != nil {
		return err
	}
	if err := unique("fields", c.Fields); err != nil {
		return err
	}
	labels := make([]string, 0, len(c.Formulas))
	for _, f := range c.Formulas {
		if f.Label == "" || f.Mult == 0 {
			return invalid("formula %q needs a label and a non-zero mult", f.Label)
		}
		labels = append(labels, f.Label)
	}
	if err := unique("formula labels", labels); err != nil {
		return err
	}
	if _, err := c.Rules(); err != nil {
		return err
	}
	if _, err := c.PriorityOverrides(); err != nil {
		return err
	}
	if _, err := c.Exclusions(); err != nil {
		return err
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return invalid("logging.level: %v", err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "colorful", "json":
	default:
		return invalid("logging.format must be colorful or json, got %q", c.Logging.Format)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return invalid("mqtt.qos must be 0, 1 or 2")
	}
	return nil
}

func unique(what string, names []string) error {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			return invalid("duplicate entry %q in %s", n, what)
		}
		seen[n] = true
	}
	return nil
}

// ChannelList returns the configured channels in scan order
func (c *Config) ChannelList() []models.Channel {
	out := make([]models.Channel, len(c.Channels))
	for i, s := range c.Channels {
		out[i] = models.Channel(s)
	}
	return out
}

// FieldList returns the configured fields in report order
func (c *Config) FieldList() []models.Field {
	out := make([]models.Field, len(c.Fields))
	for i, s := range c.Fields {
		out[i] = models.Field(s)
	}
	return out
}

// FormulaTable returns the formula table in configured order
func (c *Config) FormulaTable() []models.Formula {
	out := make([]models.Formula, len(c.Formulas))
	for i, f := range c.Formulas {
		out[i] = models.Formula{Label: f.Label, Mult: f.Mult, Div: f.Div, Add: f.Add}
	}
	return out
}

// Rules returns the reference normalization rules
func (c *Config) Rules() ([]series.Rule, error) {
	fields := c.FieldList()
	out := make([]series.Rule, 0, len(c.Normalize))
	for _, n := range c.Normalize {
		f, err := models.ResolveField(n.Field, fields)
		if err != nil {
			return nil, invalid("normalize: %v", err)
		}
		if n.Divisor == 0 || n.Below <= n.Above {
			return nil, invalid("normalize %s: need a divisor and below > above", n.Field)
		}
		out = append(out, series.Rule{Field: f, Above: n.Above, Below: n.Below, Divisor: n.Divisor})
	}
	return out, nil
}

// PriorityOverrides resolves the override table against fields, channels
// and formula labels
func (c *Config) PriorityOverrides() ([]models.PriorityOverride, error) {
	fields, channels, formulas := c.FieldList(), c.ChannelList(), c.FormulaTable()
	out := make([]models.PriorityOverride, 0, len(c.Overrides))
	for _, o := range c.Overrides {
		f, err := models.ResolveField(o.Field, fields)
		if err != nil {
			return nil, invalid("overrides: %v", err)
		}
		ch, err := models.ResolveChannel(o.Channel, channels)
		if err != nil {
			return nil, invalid("overrides %s: %v", o.Field, err)
		}
		formula, err := models.ResolveFormula(o.Formula, formulas)
		if err != nil {
			return nil, invalid("overrides %s: %v", o.Field, err)
		}
		if o.Offset < 0 || o.Offset%2 != 0 {
			return nil, invalid("overrides %s: offset %d is not an even byte offset", o.Field, o.Offset)
		}
		out = append(out, models.PriorityOverride{Field: f, Slot: models.Slot{Channel: ch, Offset: o.Offset}, Formula: formula})
	}
	return out, nil
}

// Exclusions parses the configured "field:channel:offset" entries
func (c *Config) Exclusions() ([]models.Exclusion, error) {
	return ParseExclusions(c.Exclude, c.FieldList(), c.ChannelList())
}

// ParseExclusions parses exclusion entries, as given in the file or on the
// command line
func ParseExclusions(entries []string, fields []models.Field, channels []models.Channel) ([]models.Exclusion, error) {
	out := make([]models.Exclusion, 0, len(entries))
	for _, s := range entries {
		e, err := models.ParseExclusion(s, fields, channels)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Policy returns the configured resolution policy
func (c *Config) Policy() assign.Policy {
	p, err := assign.ParsePolicy(c.Engine.Policy)
	if err != nil {
		return assign.Hybrid
	}
	return p
}

// Encoding returns the configured raw page encoding
func (c *Config) Encoding() reader.Encoding {
	e, err := reader.ParseEncoding(c.Input.RawEncoding)
	if err != nil {
		return reader.ASCIIHex
	}
	return e
}

// ScorerOptions builds the candidate scorer settings
func (c *Config) ScorerOptions() scorer.Options {
	return scorer.Options{
		Formulas:  c.FormulaTable(),
		LinearFit: c.Engine.LinearFit,
		TopN:      c.Engine.TopN,
		Workers:   c.Engine.Workers,
	}
}

// AssignOptions builds the resolver settings
func (c *Config) AssignOptions() assign.Options {
	return assign.Options{
		Policy:          c.Policy(),
		TopN:            c.Engine.TopN,
		ShapeTopN:       c.Engine.ShapeTopN,
		FallbackTopN:    c.Engine.FallbackTopN,
		FreezeThreshold: c.Engine.FreezeThreshold,
	}
}

// RefineOptions builds the refinement budget
func (c *Config) RefineOptions() refine.Options {
	return refine.Options{Iterations: c.Engine.Iterations, Threshold: c.Engine.Threshold}
}

// ParseLevel maps a level name to a pterm log level
func ParseLevel(s string) (pterm.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return pterm.LogLevelTrace, nil
	case "debug":
		return pterm.LogLevelDebug, nil
	case "", "info":
		return pterm.LogLevelInfo, nil
	case "warn", "warning":
		return pterm.LogLevelWarn, nil
	case "error":
		return pterm.LogLevelError, nil
	case "off", "disabled":
		return pterm.LogLevelDisabled, nil
	}
	return pterm.LogLevelInfo, fmt.Errorf("unknown level %q", s)
}

// Logger builds the pterm logger described by the logging section
func (c *Config) Logger() *pterm.Logger {
	level, _ := ParseLevel(c.Logging.Level)
	logger := pterm.DefaultLogger.WithLevel(level)
	if strings.EqualFold(c.Logging.Format, "json") {
		logger = logger.WithFormatter(pterm.LogFormatterJSON)
	}
	return logger
}

// Print displays the configuration
func (c *Config) Print() {
	e := c.Engine
	workerDesc := "auto"
	if e.Workers > 0 {
		workerDesc = fmt.Sprintf("%d", e.Workers)
	}
	pterm.Info.Printf("Engine: policy %s, max offset %d, %d iterations, threshold %g (workers=%s)\n",
		e.Policy, e.MaxOffset, e.Iterations, e.Threshold, workerDesc)
	pterm.Info.Printf("Candidates: top %d, shape top %d, fallback top %d, linear fit %t\n",
		e.TopN, e.ShapeTopN, e.FallbackTopN, e.LinearFit)
	pterm.Info.Printf("Channels: %s\n", strings.Join(c.Channels, ", "))
	pterm.Info.Printf("Fields: %d, formulas: %d, overrides: %d, exclusions: %d\n",
		len(c.Fields), len(c.Formulas), len(c.Overrides), len(c.Exclude))
	if c.MQTT.Broker != "" {
		pterm.Info.Printf("MQTT: %s (topic: %s)\n", c.MQTT.Broker, c.MQTT.Topic)
	}
	if c.Store.Path != "" {
		pterm.Info.Printf("Run history: %s\n", c.Store.Path)
	}
}
