package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of every environment variable the daemon reads.
const EnvPrefix = "FOCUS_"

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	Log         LogConfig         `koanf:"log"`
	HTTP        HTTPConfig        `koanf:"http"`
	Store       StoreConfig       `koanf:"store"`
	Engine      EngineConfig      `koanf:"engine"`
	Reconcile   ReconcileConfig   `koanf:"reconcile"`
	Notify      NotifyConfig      `koanf:"notify"`
	Placeholder PlaceholderConfig `koanf:"placeholder"`
	Preset      PresetConfig      `koanf:"preset"`
}

type LogConfig struct {
	// Level controls log verbosity: "debug", "info", "warn", or "error".
	Level string `koanf:"level" validate:"required,oneof=debug info warn error"`
}

type HTTPConfig struct {
	// Addr is the control-plane listen address, host:port or :port.
	Addr string `koanf:"addr" validate:"required,host_port"`
}

type StoreConfig struct {
	// DB is the bbolt file holding desired state and the sync record.
	DB string `koanf:"db" validate:"required"`
}

type EngineConfig struct {
	// DB is the bbolt file holding installed rules. Empty keeps rules in memory
	// only, so they do not survive a restart.
	DB     string      `koanf:"db"`
	Cache  CacheConfig `koanf:"cache"`
	FPRate float64     `koanf:"fp_rate" validate:"gt=0,lt=1"`
}

type CacheConfig struct {
	// Size of the decision cache. 0 disables it.
	Size int `koanf:"size" validate:"gte=0"`
}

type ReconcileConfig struct {
	// Interval between drift checks.
	Interval time.Duration `koanf:"interval" validate:"gte=100ms"`
	// ApplyTimeout bounds a single engine apply.
	ApplyTimeout time.Duration `koanf:"apply_timeout" validate:"gt=0"`
}

type NotifyConfig struct {
	// Timeout bounds a single delivery to one page bridge.
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
	// Origins lists hosts whose pages may open a bridge. A page matches when
	// its origin host equals an entry or is a subdomain of it.
	Origins []string `koanf:"origins" validate:"required,dive,required"`
}

type PlaceholderConfig struct {
	// URL is the page blocked navigations are redirected to.
	URL string `koanf:"url" validate:"required,url_base"`
}

type PresetConfig struct {
	// Dir is scanned for preset files at start-up. A missing directory means
	// no presets.
	Dir string `koanf:"dir"`
}

// DEFAULT_APP_CONFIG defines the default application configuration settings
// for the focus daemon.
var DEFAULT_APP_CONFIG = AppConfig{
	Env: "prod",
	Log: LogConfig{Level: "info"},
	HTTP: HTTPConfig{
		Addr: "127.0.0.1:7878",
	},
	Store: StoreConfig{DB: "/var/lib/focusd/state.db"},
	Engine: EngineConfig{
		DB:     "/var/lib/focusd/rules.db",
		Cache:  CacheConfig{Size: 4096},
		FPRate: 0.01,
	},
	Reconcile: ReconcileConfig{
		Interval:     2 * time.Second,
		ApplyTimeout: 5 * time.Second,
	},
	Notify: NotifyConfig{
		Timeout: time.Second,
		Origins: []string{"localhost", "127.0.0.1", "vercel.app", "netlify.app", "github.io"},
	},
	Placeholder: PlaceholderConfig{URL: "http://127.0.0.1:7878/blocked"},
	Preset:      PresetConfig{Dir: "/etc/focusd/presets.d/"},
}

// validHostPort accepts "host:port" or ":port" with a port in 1..65535.
func validHostPort(fl validator.FieldLevel) bool {
	_, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil || port == "" {
		return false
	}
	portNum, err := strconv.ParseUint(port, 10, 16)
	return err == nil && portNum > 0
}

// validURLBase accepts an absolute http or https URL without a fragment.
func validURLBase(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil || u.Host == "" || u.Fragment != "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// envLoader loads FOCUS_ variables over the keys already present in k, so it
// must run after defaultLoader. FOCUS_ENGINE_CACHE_SIZE maps to
// engine.cache.size; unknown variables are ignored. Values containing spaces
// or commas become lists.
var envLoader = func(k *koanf.Koanf) error {
	known := make(map[string]string, len(k.Keys()))
	for _, key := range k.Keys() {
		known[strings.ToUpper(strings.ReplaceAll(key, ".", "_"))] = key
	}
	return k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key, ok := known[strings.TrimPrefix(key, EnvPrefix)]
			if !ok {
				return "", nil
			}
			value = strings.TrimSpace(value)

			if value == "" {
				return key, value
			}

			if strings.Contains(value, " ") || strings.Contains(value, ",") {
				parts := strings.FieldsFunc(value, func(r rune) bool {
					return r == ' ' || r == ','
				})
				return key, parts
			}

			return key, value
		},
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG through the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// registerValidation registers the "host_port" and "url_base" tags.
var registerValidation = func(v *validator.Validate) error {
	if err := v.RegisterValidation("host_port", validHostPort); err != nil {
		return err
	}
	return v.RegisterValidation("url_base", validURLBase)
}

// Load parses environment variables and returns an AppConfig instance.
// It applies default values and runs validation automatically.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	err := defaultLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	err = envLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig

	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	err = registerValidation(validate)
	if err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	err = validate.Struct(&cfg)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
