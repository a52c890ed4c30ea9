package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	QueueModeMulti  = "multi"
	QueueModeSingle = "single"
)

type Config struct {
	// EngineSources is the ordered fallback chain of ffmpeg sources: a local
	// path or PATH name, optionally followed by prefix arguments, or an
	// http(s) URL of a static build.
	EngineSources       []string      `mapstructure:"ENGINE_SOURCES"`
	TempDir             string        `mapstructure:"TEMP_DIR"`
	OutputLocalLifetime time.Duration `mapstructure:"OUTPUT_LOCAL_LIFETIME"`
	MaxInputSize        int64         `mapstructure:"MAX_INPUT_SIZE"`
	MaxEngineDownload   int64         `mapstructure:"MAX_ENGINE_DOWNLOAD"`
	QueueMode           string        `mapstructure:"QUEUE_MODE"`
	ThrottleCPU         float64       `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem     int64         `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk    int64         `mapstructure:"THROTTLE_FREEDISK"`
	AuthEnable          bool          `mapstructure:"AUTH_ENABLE"`
	AuthKey             string        `mapstructure:"AUTH_KEY"`
	Port                string        `mapstructure:"PORT"`
	BaseURL             string        `mapstructure:"BASE"`
	LogLevel            string        `mapstructure:"LOG_LEVEL"`
	LogFormat           string        `mapstructure:"LOG_FORMAT"`
	LogFile             string        `mapstructure:"LOG_FILE"`
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	// A .env file is optional; real environment variables win over it.
	_ = godotenv.Load()

	vp := viper.New()

	vp.SetDefault("ENGINE_SOURCES", "./bin/ffmpeg,ffmpeg")
	vp.SetDefault("TEMP_DIR", "")
	vp.SetDefault("OUTPUT_LOCAL_LIFETIME", "1h23m")
	vp.SetDefault("MAX_INPUT_SIZE", "200MB")
	vp.SetDefault("MAX_ENGINE_DOWNLOAD", "150MB")
	vp.SetDefault("QUEUE_MODE", QueueModeMulti)
	vp.SetDefault("THROTTLE_CPU", 50.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "200MB")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "123456")
	vp.SetDefault("PORT", "8080")
	vp.SetDefault("BASE", "")
	vp.SetDefault("LOG_LEVEL", "info")
	vp.SetDefault("LOG_FORMAT", "console")
	vp.SetDefault("LOG_FILE", "")

	vp.SetConfigName("ffqueue_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/ffqueue/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("FFQUEUE")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The order matters: the first hook that succeeds is used.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	))
	if err != nil {
		return nil, err
	}
	cfg.EngineSources = trimSources(cfg.EngineSources)
	if cfg.QueueMode != QueueModeSingle {
		cfg.QueueMode = QueueModeMulti
	}

	return &cfg, nil
}

func trimSources(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
