package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/multierr"

	"github.com/wormhole-foundation/wormhole-sub007/internal/chains"
)

const (
	StoreRedis = "redis"
	StoreBolt  = "bolt"
)

// ChainConfigInfo is the static configuration of a destination chain.
type ChainConfigInfo struct {
	ChainID              vaaLib.ChainID `json:"chainId" mapstructure:"chainId" validate:"required"`
	ChainName            string         `json:"chainName" mapstructure:"chainName" validate:"required"`
	NativeCurrencySymbol string         `json:"nativeCurrencySymbol" mapstructure:"nativeCurrencySymbol"`
	NodeURL              string         `json:"nodeUrl" mapstructure:"nodeUrl" validate:"required,url"`
	TokenBridgeAddress   string         `json:"tokenBridgeAddress" mapstructure:"tokenBridgeAddress" validate:"required"`
	// BridgeAddress is the core bridge program (Solana).
	BridgeAddress string `json:"bridgeAddress" mapstructure:"bridgeAddress"`
	WrappedAsset  string `json:"wrappedAsset" mapstructure:"wrappedAsset"`
	// Family overrides the chain family derived from ChainID.
	Family                 string `json:"family" mapstructure:"family"`
	VAAServiceURL          string `json:"vaaServiceUrl" mapstructure:"vaaServiceUrl" validate:"omitempty,url"`
	VerificationServiceURL string `json:"verificationServiceUrl" mapstructure:"verificationServiceUrl" validate:"omitempty,url"`
	WalletAddress          string `json:"walletAddress" mapstructure:"walletAddress"`
}

// ResolvedFamily returns the configured family override or the one derived from ChainID.
func (c ChainConfigInfo) ResolvedFamily() chains.Family {
	f, err := chains.ParseFamily(c.Family)
	if err != nil {
		return chains.FamilyUnknown
	}
	return chains.Resolve(c.ChainID, f)
}

type PrivateKeys struct {
	ChainID     vaaLib.ChainID `json:"chainId" mapstructure:"chainId" validate:"required"`
	PrivateKeys []string       `json:"privateKeys" mapstructure:"privateKeys" validate:"required,min=1,dive,required"`
}

type SupportedToken struct {
	ChainID vaaLib.ChainID `json:"chainId" mapstructure:"chainId" validate:"required"`
	Address string         `json:"address" mapstructure:"address" validate:"required"`
}

type EmitterFilter struct {
	ChainID        vaaLib.ChainID `json:"chainId" mapstructure:"chainId" validate:"required"`
	EmitterAddress string         `json:"emitterAddress" mapstructure:"emitterAddress" validate:"required"`
}

// Common settings shared by the listener and the relayer.
type Common struct {
	RedisHost       string `validate:"required_if=StoreBackend redis"`
	RedisPort       int    `validate:"required_if=StoreBackend redis,gte=0,lte=65535"`
	StoreBackend    string `validate:"oneof=redis bolt"`
	BoltPath        string `validate:"required_if=StoreBackend bolt"`
	PromPort        int    `validate:"gte=0,lte=65535"`
	Backend         string `validate:"required"`
	SupportedTokens []SupportedToken
}

// RedisAddr returns host:port of the redis store.
func (c Common) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

type Listener struct {
	SpyServiceHost    string `validate:"required"`
	SpyServiceFilters []EmitterFilter
	SpyNumWorkers     int `validate:"gte=1"`
	RestPort          int `validate:"gte=0,lte=65535"`
}

type Relayer struct {
	SupportedChains     []ChainConfigInfo
	PrivateKeys         []PrivateKeys
	ClearOnInit         bool
	DemoteWorkingOnInit bool
	WorkerInterval      time.Duration `validate:"gt=0"`
	AuditInterval       time.Duration `validate:"gt=0"`
	AuditGrace          time.Duration `validate:"gte=0"`
	RestartDelay        time.Duration `validate:"gt=0"`
}

// Config is the application configuration, loaded once at startup.
type Config struct {
	Common   Common
	Listener Listener
	Relayer  Relayer
}

// ChainConfig returns the configuration of chain, if present.
func (r Relayer) ChainConfig(chain vaaLib.ChainID) (ChainConfigInfo, bool) {
	for _, c := range r.SupportedChains {
		if c.ChainID == chain {
			return c, true
		}
	}
	return ChainConfigInfo{}, false
}

// SetDefaults registers the default value of every setting on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("redis_host", "localhost")
	v.SetDefault("redis_port", 6379)
	v.SetDefault("store_backend", StoreRedis)
	v.SetDefault("bolt_path", "relayer.db")
	v.SetDefault("prom_port", 8082)
	v.SetDefault("backend", "default")
	v.SetDefault("spy_service_host", "localhost:7073")
	v.SetDefault("spy_num_workers", 5)
	v.SetDefault("rest_port", 0)
	v.SetDefault("clear_redis_on_init", false)
	v.SetDefault("demote_working_on_init", false)
	v.SetDefault("worker_interval", 5*time.Second)
	v.SetDefault("audit_interval", 30*time.Second)
	v.SetDefault("audit_grace", 10*time.Minute)
	v.SetDefault("restart_delay", 10*time.Second)
}

// Load reads every setting from v. List settings are taken from the config file or parsed as
// strict JSON when they come from the environment.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Common: Common{
			RedisHost:    v.GetString("redis_host"),
			RedisPort:    v.GetInt("redis_port"),
			StoreBackend: strings.ToLower(v.GetString("store_backend")),
			BoltPath:     v.GetString("bolt_path"),
			PromPort:     v.GetInt("prom_port"),
			Backend:      v.GetString("backend"),
		},
		Listener: Listener{
			SpyServiceHost: v.GetString("spy_service_host"),
			SpyNumWorkers:  v.GetInt("spy_num_workers"),
			RestPort:       v.GetInt("rest_port"),
		},
		Relayer: Relayer{
			ClearOnInit:         v.GetBool("clear_redis_on_init"),
			DemoteWorkingOnInit: v.GetBool("demote_working_on_init"),
			WorkerInterval:      v.GetDuration("worker_interval"),
			AuditInterval:       v.GetDuration("audit_interval"),
			AuditGrace:          v.GetDuration("audit_grace"),
			RestartDelay:        v.GetDuration("restart_delay"),
		},
	}

	err := multierr.Combine(
		decodeList(v, "supported_tokens", &cfg.Common.SupportedTokens),
		decodeList(v, "spy_service_filters", &cfg.Listener.SpyServiceFilters),
		decodeList(v, "supported_chains", &cfg.Relayer.SupportedChains),
		decodeList(v, "private_keys", &cfg.Relayer.PrivateKeys),
	)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeList(v *viper.Viper, key string, out any) error {
	raw := v.Get(key)
	if raw == nil {
		return nil
	}
	if s, ok := raw.(string); ok {
		if strings.TrimSpace(s) == "" {
			return nil
		}
		dec := json.NewDecoder(bytes.NewReader([]byte(s)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(out); err != nil {
			return fmt.Errorf("failed to parse %s: %w", key, err)
		}
		return nil
	}
	if err := v.UnmarshalKey(key, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateListener checks the settings the listener needs.
func (c *Config) ValidateListener() error {
	err := multierr.Combine(
		structErrors("common config", "", c.Common),
		structErrors("listener config", "", c.Listener),
		c.validateTokens(),
	)
	if len(c.Listener.SpyServiceFilters) == 0 {
		err = multierr.Append(err, errors.New("missing required field: spy_service_filters"))
	}
	for _, f := range c.Listener.SpyServiceFilters {
		err = multierr.Append(err, structErrors("spy service filter", chainSuffix(f.ChainID), f))
		if _, convErr := chains.NativeToAddress(f.ChainID, f.EmitterAddress); f.EmitterAddress != "" && convErr != nil {
			err = multierr.Append(err, fmt.Errorf("invalid emitter address in spy service filter (chain %d): %w", f.ChainID, convErr))
		}
	}
	return err
}

// ValidateRelayer checks the settings the relayer needs, including per-family requirements.
func (c *Config) ValidateRelayer() error {
	err := multierr.Combine(
		structErrors("common config", "", c.Common),
		structErrors("relayer config", "", c.Relayer),
		c.validateTokens(),
	)
	if len(c.Relayer.SupportedChains) == 0 {
		err = multierr.Append(err, errors.New("missing required field: supported_chains"))
	}

	keys := make(map[vaaLib.ChainID]bool, len(c.Relayer.PrivateKeys))
	for _, k := range c.Relayer.PrivateKeys {
		err = multierr.Append(err, structErrors("private key config", chainSuffix(k.ChainID), k))
		keys[k.ChainID] = len(k.PrivateKeys) > 0
	}

	seen := make(map[vaaLib.ChainID]bool, len(c.Relayer.SupportedChains))
	for _, chain := range c.Relayer.SupportedChains {
		suffix := chainSuffix(chain.ChainID)
		err = multierr.Append(err, structErrors("chain config", suffix, chain))
		if seen[chain.ChainID] {
			err = multierr.Append(err, fmt.Errorf("duplicate chain config%s", suffix))
		}
		seen[chain.ChainID] = true

		family, famErr := chains.ParseFamily(chain.Family)
		if famErr != nil {
			err = multierr.Append(err, fmt.Errorf("invalid field in chain config: family%s: %w", suffix, famErr))
			continue
		}
		switch chains.Resolve(chain.ChainID, family) {
		case chains.FamilyEVM:
			err = multierr.Append(err, requireField("wrappedAsset", chain.WrappedAsset, suffix))
		case chains.FamilySolana:
			err = multierr.Append(err, requireField("wrappedAsset", chain.WrappedAsset, suffix))
			err = multierr.Append(err, requireField("bridgeAddress", chain.BridgeAddress, suffix))
		case chains.FamilyAztec:
			err = multierr.Append(err, requireField("walletAddress", chain.WalletAddress, suffix))
		case chains.FamilyUnknown:
			err = multierr.Append(err, fmt.Errorf("unknown chain family%s, set family explicitly", suffix))
		}
		if !keys[chain.ChainID] {
			err = multierr.Append(err, fmt.Errorf("missing private key entry%s", suffix))
		}
	}
	return err
}

func (c *Config) validateTokens() error {
	var err error
	if len(c.Common.SupportedTokens) == 0 {
		err = multierr.Append(err, errors.New("missing required field: supported_tokens"))
	}
	for _, t := range c.Common.SupportedTokens {
		err = multierr.Append(err, structErrors("supported token", chainSuffix(t.ChainID), t))
	}
	return err
}

func requireField(name, value, suffix string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required field in chain config: %s%s", name, suffix)
	}
	return nil
}

func chainSuffix(id vaaLib.ChainID) string {
	return fmt.Sprintf(" (chain %d)", id)
}

// structErrors turns validator failures into one readable error per field.
func structErrors(what, suffix string, s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%s%s: %w", what, suffix, err)
	}
	var out error
	for _, fe := range fieldErrs {
		if fe.Tag() == "required" || fe.Tag() == "required_if" {
			out = multierr.Append(out, fmt.Errorf("missing required field in %s: %s%s", what, lowerFirst(fe.Field()), suffix))
			continue
		}
		out = multierr.Append(out, fmt.Errorf("invalid field in %s: %s%s (%s=%s)", what, lowerFirst(fe.Field()), suffix, fe.Tag(), fe.Param()))
	}
	return out
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
