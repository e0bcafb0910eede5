package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/DoyleJ11/secret-word-backend/internal/engine"
	"github.com/DoyleJ11/secret-word-backend/internal/lobby"
	"github.com/DoyleJ11/secret-word-backend/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "SECRETWORD"

type StoreConfig struct {
	Driver      string        `mapstructure:"driver"`
	RedisURL    string        `mapstructure:"redis_url"`
	PostgresDSN string        `mapstructure:"postgres_dsn"`
	MaxRetries  int           `mapstructure:"max_retries"`
	RoomTTL     time.Duration `mapstructure:"room_ttl"`
}

type GameConfig struct {
	MaxPlayers        int           `mapstructure:"max_players"`
	TotalRounds       int           `mapstructure:"total_rounds"`
	RoundDuration     time.Duration `mapstructure:"round_duration"`
	MinWordLength     int           `mapstructure:"min_word_length"`
	FirstCorrectScore int           `mapstructure:"first_correct_score"`
	OtherCorrectScore int           `mapstructure:"other_correct_score"`
	WriterBonus       int           `mapstructure:"writer_bonus"`
	CodeAlphabet      string        `mapstructure:"code_alphabet"`
	CodeLength        int           `mapstructure:"code_length"`
}

type WSConfig struct {
	GuessRate  float64 `mapstructure:"guess_rate"`
	GuessBurst int     `mapstructure:"guess_burst"`
}

type Config struct {
	Addr     string      `mapstructure:"addr"`
	LogLevel string      `mapstructure:"log_level"`
	LogDev   bool        `mapstructure:"log_dev"`
	AppID    string      `mapstructure:"app_id"`
	Store    StoreConfig `mapstructure:"store"`
	Game     GameConfig  `mapstructure:"game"`
	WS       WSConfig    `mapstructure:"ws"`
}

func setDefaults(v *viper.Viper) {
	def := engine.DefaultRules()

	v.SetDefault("addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_dev", false)
	v.SetDefault("app_id", "default")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.redis_url", "redis://localhost:6379/0")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("store.max_retries", 5)
	v.SetDefault("store.room_ttl", 24*time.Hour)

	v.SetDefault("game.max_players", def.MaxPlayers)
	v.SetDefault("game.total_rounds", def.TotalRounds)
	v.SetDefault("game.round_duration", def.RoundDuration)
	v.SetDefault("game.min_word_length", def.MinWordLength)
	v.SetDefault("game.first_correct_score", def.FirstCorrectScore)
	v.SetDefault("game.other_correct_score", def.OtherCorrectScore)
	v.SetDefault("game.writer_bonus", def.WriterBonus)
	v.SetDefault("game.code_alphabet", lobby.DefaultCodes.Alphabet)
	v.SetDefault("game.code_length", lobby.DefaultCodes.Length)

	v.SetDefault("ws.guess_rate", 5.0)
	v.SetDefault("ws.guess_burst", 10)
}

// Load reads an optional .env, then an optional config file named by
// SECRETWORD_CONFIG, then SECRETWORD_* environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "redis":
		if c.Store.RedisURL == "" {
			return errors.New("store.redis_url required for redis driver")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn required for postgres driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.Game.MaxPlayers < 2 {
		return errors.New("game.max_players must be at least 2")
	}
	if c.Game.TotalRounds < 1 {
		return errors.New("game.total_rounds must be at least 1")
	}
	if c.Game.MinWordLength < 2 {
		return errors.New("game.min_word_length must be at least 2")
	}
	if c.Game.RoundDuration <= 0 {
		return errors.New("game.round_duration must be positive")
	}
	if c.Game.CodeAlphabet == "" || c.Game.CodeLength <= 0 {
		return errors.New("game.code_alphabet and game.code_length required")
	}
	return nil
}

func (c *Config) Rules() engine.Rules {
	return engine.Rules{
		MaxPlayers:        c.Game.MaxPlayers,
		TotalRounds:       c.Game.TotalRounds,
		MinWordLength:     c.Game.MinWordLength,
		FirstCorrectScore: c.Game.FirstCorrectScore,
		OtherCorrectScore: c.Game.OtherCorrectScore,
		WriterBonus:       c.Game.WriterBonus,
		RoundDuration:     c.Game.RoundDuration,
	}
}

func (c *Config) Codes() lobby.CodeGenerator {
	return lobby.CodeGenerator{Alphabet: c.Game.CodeAlphabet, Length: c.Game.CodeLength}
}

func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Namespace:  c.AppID,
		MaxRetries: c.Store.MaxRetries,
		RoomTTL:    c.Store.RoomTTL,
	}
}
