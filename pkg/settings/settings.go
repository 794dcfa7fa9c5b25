package settings

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-go-golems/vivarium/pkg/client"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	AppName   = "vivarium"
	EnvPrefix = "VIVARIUM"

	FlagBaseURL            = "base-url"
	FlagTimeout            = "timeout"
	FlagCache              = "cache"
	FlagConversation       = "conversation"
	FlagAllowHTTP          = "allow-http"
	FlagAllowLocalNetworks = "allow-local-networks"
	FlagRateLimit          = "rate-limit"
	FlagRateBurst          = "rate-burst"
)

// ClientSettings configure how the CLI reaches the conversation service.
// Config file keys are the flag names.
type ClientSettings struct {
	BaseURL string `yaml:"base-url" json:"base_url"`
	// Timeout applies to request/response calls only, never to streams.
	Timeout        *time.Duration `yaml:"-" json:"-"`
	TimeoutSeconds *int           `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	// Cache is the cache hint sent with user messages.
	Cache bool `yaml:"cache" json:"cache"`
	// ConversationID is the conversation commands act on when none is given.
	ConversationID     string `yaml:"conversation,omitempty" json:"conversation,omitempty"`
	AllowHTTP          bool   `yaml:"allow-http" json:"allow_http"`
	AllowLocalNetworks bool   `yaml:"allow-local-networks" json:"allow_local_networks"`
	// RateLimit is in requests per second, 0 means unlimited.
	RateLimit float64 `yaml:"rate-limit,omitempty" json:"rate_limit,omitempty"`
	RateBurst int     `yaml:"rate-burst,omitempty" json:"rate_burst,omitempty"`
}

func NewClientSettings() *ClientSettings {
	defaultTimeout := client.DefaultTimeout
	return &ClientSettings{
		BaseURL: client.DefaultBaseURL,
		Timeout: &defaultTimeout,
		TimeoutSeconds: func() *int {
			i := int(defaultTimeout.Seconds())
			return &i
		}(),
		AllowHTTP:          true,
		AllowLocalNetworks: true,
		RateBurst:          1,
	}
}

// UnmarshalYAML reads timeout as a number of seconds.
func (cs *ClientSettings) UnmarshalYAML(value *yaml.Node) error {
	type Alias ClientSettings
	if err := value.Decode((*Alias)(cs)); err != nil {
		return err
	}
	cs.setTimeoutSeconds(cs.TimeoutSeconds)
	return nil
}

func (cs *ClientSettings) setTimeoutSeconds(seconds *int) {
	if seconds == nil {
		return
	}
	t := time.Duration(*seconds) * time.Second
	s := *seconds
	cs.Timeout = &t
	cs.TimeoutSeconds = &s
}

func (cs *ClientSettings) Clone() *ClientSettings {
	return clone.Clone(cs).(*ClientSettings)
}

// AddFlags registers the settings flags, with the defaults of
// NewClientSettings.
func AddFlags(fs *pflag.FlagSet) {
	defaults := NewClientSettings()
	fs.String(FlagBaseURL, defaults.BaseURL, "Base URL of the conversation service API")
	fs.Int(FlagTimeout, *defaults.TimeoutSeconds, "Timeout in seconds for non-streaming requests")
	fs.Bool(FlagCache, defaults.Cache, "Ask the service to cache sent messages")
	fs.String(FlagConversation, "", "Conversation id to use when none is given")
	fs.Bool(FlagAllowHTTP, defaults.AllowHTTP, "Allow plain http base URLs")
	fs.Bool(FlagAllowLocalNetworks, defaults.AllowLocalNetworks, "Allow base URLs on loopback and private networks")
	fs.Float64(FlagRateLimit, defaults.RateLimit, "Maximum requests per second (0 for no limit)")
	fs.Int(FlagRateBurst, defaults.RateBurst, "Requests allowed in a burst above the rate limit")
}

// InitViper sets up v to read VIVARIUM_* variables and the config file,
// then binds fs. A missing config file is not an error.
func InitViper(v *viper.Viper, configFile string, fs *pflag.FlagSet) error {
	v.SetEnvPrefix(EnvPrefix)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/." + AppName)
		if xdgConfigPath, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(xdgConfigPath, AppName))
		}
	}

	err := v.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		log.Trace().Msg("no config file")
	} else if err != nil {
		return errors.Wrap(err, "could not read config file")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return errors.Wrap(err, "could not bind flags")
		}
	}
	return nil
}

// FromViper collects settings from v: flags, environment, config file and
// the defaults, in that order of precedence.
func FromViper(v *viper.Viper) (*ClientSettings, error) {
	ret := NewClientSettings()

	if v.IsSet(FlagBaseURL) {
		ret.BaseURL = v.GetString(FlagBaseURL)
	}
	if v.IsSet(FlagTimeout) {
		seconds := v.GetInt(FlagTimeout)
		if seconds < 0 {
			return nil, errors.Errorf("timeout must not be negative, got %d", seconds)
		}
		ret.setTimeoutSeconds(&seconds)
	}
	if v.IsSet(FlagCache) {
		ret.Cache = v.GetBool(FlagCache)
	}
	if v.IsSet(FlagConversation) {
		ret.ConversationID = v.GetString(FlagConversation)
	}
	if v.IsSet(FlagAllowHTTP) {
		ret.AllowHTTP = v.GetBool(FlagAllowHTTP)
	}
	if v.IsSet(FlagAllowLocalNetworks) {
		ret.AllowLocalNetworks = v.GetBool(FlagAllowLocalNetworks)
	}
	if v.IsSet(FlagRateLimit) {
		ret.RateLimit = v.GetFloat64(FlagRateLimit)
		if ret.RateLimit < 0 {
			return nil, errors.Errorf("rate limit must not be negative, got %v", ret.RateLimit)
		}
	}
	if v.IsSet(FlagRateBurst) {
		ret.RateBurst = v.GetInt(FlagRateBurst)
	}

	log.Debug().
		Str("base_url", ret.BaseURL).
		Int("timeout", *ret.TimeoutSeconds).
		Bool("cache", ret.Cache).
		Str("config", v.ConfigFileUsed()).
		Msg("loaded client settings")
	return ret, nil
}

func (cs *ClientSettings) ClientOptions() []client.Option {
	ret := []client.Option{
		client.WithBaseURLOptions(client.BaseURLOptions{
			AllowHTTP:          cs.AllowHTTP,
			AllowLocalNetworks: cs.AllowLocalNetworks,
		}),
	}
	if cs.Timeout != nil {
		ret = append(ret, client.WithTimeout(*cs.Timeout))
	}
	if cs.RateLimit > 0 {
		ret = append(ret, client.WithRateLimit(cs.RateLimit, cs.RateBurst))
	}
	return ret
}

func (cs *ClientSettings) NewClient() (*client.Client, error) {
	return client.New(cs.BaseURL, cs.ClientOptions()...)
}

// WriteYAML writes cs in the config file format.
func (cs *ClientSettings) WriteYAML(w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(cs); err != nil {
		return errors.Wrap(err, "could not encode settings")
	}
	return encoder.Close()
}

// DefaultConfigFile is where `config init` writes when no path is given.
func DefaultConfigFile() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "could not find home directory")
	}
	return filepath.Join(home, "."+AppName, "config.yaml"), nil
}
