// Package config loads castplan settings.
//
// Settings come from, in increasing precedence: built-in defaults, a YAML
// file, a .env file in the working directory, and CASTPLAN_* environment
// variables. Every scheduling tunable lives here and is handed to the
// scheduler and reconciler at construction.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/castplan/internal/calendar"
	"github.com/roach88/castplan/internal/model"
)

// MaxBatchSize is the largest batch the record stores accept in one call.
const MaxBatchSize = 50

// Config is the full castplan configuration.
type Config struct {
	Schedule  Schedule  `yaml:"schedule"`
	Reconcile Reconcile `yaml:"reconcile"`
	Roster    Roster    `yaml:"roster"`
	Store     Store     `yaml:"store"`
	Lock      Lock      `yaml:"lock"`
	Logging   Logging   `yaml:"logging"`
	Metrics   Metrics   `yaml:"metrics"`
}

// Schedule holds the buffer constants of the backward chain.
type Schedule struct {
	ProductionBufferDays         int     `yaml:"production_buffer_days" validate:"gte=0"`
	DesignToProductionBufferDays int     `yaml:"design_to_production_buffer_days" validate:"gte=0"`
	InterDesignBufferDays        int     `yaml:"inter_design_buffer_days" validate:"gte=0"`
	CustomerResponseBufferDays   int     `yaml:"customer_response_buffer_days" validate:"gte=0"`
	EfficiencyFactor             float64 `yaml:"efficiency_factor" validate:"gt=0,lte=1"`
	HoursPerDay                  int     `yaml:"hours_per_day" validate:"gt=0,lte=24"`

	// ExtraExcludedWeekday is skipped by shop-floor phases of groups whose
	// colour code ends with ExtraExclusionSuffix.
	ExtraExcludedWeekday string `yaml:"extra_excluded_weekday" validate:"omitempty,oneof=Monday Tuesday Wednesday Thursday Friday"`
	ExtraExclusionSuffix string `yaml:"extra_exclusion_suffix"`
}

// ExtraWeekday resolves ExtraExcludedWeekday. ok is false when no extra
// weekday is configured.
func (s Schedule) ExtraWeekday() (wd time.Weekday, ok bool) {
	if s.ExtraExcludedWeekday == "" {
		return time.Sunday, false
	}
	wd, err := calendar.ParseWeekday(s.ExtraExcludedWeekday)
	return wd, err == nil
}

// Reconcile holds the convergence tunables.
type Reconcile struct {
	BatchSize int `yaml:"batch_size" validate:"gt=0,lte=50"`
}

// Binding names the department and activity a phase is allocated to.
// Neither may contain "-", which separates the parts of a derived key.
type Binding struct {
	Department string `yaml:"department" validate:"required,excludes=-"`
	Activity   string `yaml:"activity" validate:"required,excludes=-"`
}

// Roster binds every phase to a department and activity.
type Roster struct {
	Design1 Binding `yaml:"design1"`
	Design2 Binding `yaml:"design2"`
	Create  Binding `yaml:"create"`
	Reuse   Binding `yaml:"reuse"`
	Weld    Binding `yaml:"weld"`
	Cast    Binding `yaml:"cast"`
	Rest    Binding `yaml:"rest"`
}

// For returns the binding of p.
func (r Roster) For(p model.Phase) Binding {
	switch p {
	case model.PhaseDesign1:
		return r.Design1
	case model.PhaseDesign2:
		return r.Design2
	case model.PhaseCreate:
		return r.Create
	case model.PhaseReuse:
		return r.Reuse
	case model.PhaseWeld:
		return r.Weld
	case model.PhaseCast:
		return r.Cast
	case model.PhaseRest:
		return r.Rest
	default:
		return Binding{}
	}
}

// Departments returns the distinct department names in the roster, sorted.
func (r Roster) Departments() []string {
	return r.distinct(func(b Binding) string { return b.Department })
}

// Activities returns the distinct activity labels in the roster, sorted.
func (r Roster) Activities() []string {
	return r.distinct(func(b Binding) string { return b.Activity })
}

func (r Roster) distinct(pick func(Binding) string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range model.Phases {
		name := model.NormalizeName(pick(r.For(p)))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Store selects the record store.
type Store struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite mysql"`
	DSN    string `yaml:"dsn" validate:"required"`
}

// Lock configures the optional per-group advisory lock.
type Lock struct {
	Backend   string        `yaml:"backend" validate:"oneof=none local redis"`
	RedisAddr string        `yaml:"redis_addr" validate:"required_if=Backend redis"`
	TTL       time.Duration `yaml:"ttl" validate:"gt=0"`
	Wait      time.Duration `yaml:"wait" validate:"gte=0"`
}

// Logging configures the logrus logger.
type Logging struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// Metrics configures metric export.
type Metrics struct {
	// Textfile, when set, receives the Prometheus text exposition after
	// every CLI invocation.
	Textfile string `yaml:"textfile"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Schedule: Schedule{
			ProductionBufferDays:         8,
			DesignToProductionBufferDays: 10,
			InterDesignBufferDays:        1,
			CustomerResponseBufferDays:   10,
			EfficiencyFactor:             0.65,
			HoursPerDay:                  8,
			ExtraExcludedWeekday:         "Friday",
			ExtraExclusionSuffix:         "B",
		},
		Reconcile: Reconcile{BatchSize: MaxBatchSize},
		Roster: Roster{
			Design1: Binding{Department: "Ontwerp", Activity: "Ontwerp 1"},
			Design2: Binding{Department: "Ontwerp", Activity: "Ontwerp 2"},
			Create:  Binding{Department: "Bekisting", Activity: "Create"},
			Reuse:   Binding{Department: "Bekisting", Activity: "Reuse"},
			Weld:    Binding{Department: "Lashoek", Activity: "Las"},
			Cast:    Binding{Department: "Beton", Activity: "Beton"},
			Rest:    Binding{Department: "Rest", Activity: "Rest"},
		},
		Store: Store{Driver: "sqlite", DSN: "castplan.db"},
		Lock: Lock{
			Backend: "local",
			TTL:     2 * time.Minute,
			Wait:    5 * time.Second,
		},
		Logging: Logging{Level: "info", Format: "json"},
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty), .env and the process environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := Decode(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode merges YAML data over cfg. Unknown keys are rejected.
func Decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg from CASTPLAN_* variables found through lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("CASTPLAN_DB_DRIVER", &cfg.Store.Driver)
	str("CASTPLAN_DB_DSN", &cfg.Store.DSN)
	str("CASTPLAN_LOCK_BACKEND", &cfg.Lock.Backend)
	str("CASTPLAN_REDIS_ADDR", &cfg.Lock.RedisAddr)
	str("CASTPLAN_LOG_LEVEL", &cfg.Logging.Level)

	if v, ok := lookup("CASTPLAN_BATCH_SIZE"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse CASTPLAN_BATCH_SIZE: %w", err)
		}
		cfg.Reconcile.BatchSize = n
	}
	return nil
}

var configValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate reports every invalid setting in cfg at once.
func Validate(cfg Config) error {
	err := configValidator.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		ns := fe.Namespace()
		if _, rest, ok := strings.Cut(ns, "."); ok {
			ns = rest
		}
		problems = append(problems, fmt.Sprintf("%s (%s)", ns, fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(problems, ", "))
}
