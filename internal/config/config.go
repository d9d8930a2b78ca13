// Package config собирает настройки всех компонентов из флагов и окружения.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	authConfig "github.com/iurnickita/esbo/internal/auth/config"
	handlerConfig "github.com/iurnickita/esbo/internal/handler/config"
	hubConfig "github.com/iurnickita/esbo/internal/hub/config"
	locksConfig "github.com/iurnickita/esbo/internal/locks/config"
	loggerConfig "github.com/iurnickita/esbo/internal/logger/config"
	serviceConfig "github.com/iurnickita/esbo/internal/service/config"
	storeConfig "github.com/iurnickita/esbo/internal/store/config"
	telegramConfig "github.com/iurnickita/esbo/internal/telegram/config"
	tokenConfig "github.com/iurnickita/esbo/internal/token/config"
)

type Config struct {
	Handler  handlerConfig.Config
	Service  serviceConfig.Config
	Store    storeConfig.Config
	Logger   loggerConfig.Config
	Locks    locksConfig.Config
	Hub      hubConfig.Config
	Telegram telegramConfig.Config
	Token    tokenConfig.Config
	Auth     authConfig.Config
}

var ErrNoSecret = errors.New("JWT_SECRET is required")

// GetConfig читает .env (если есть), флаги командной строки и переменные окружения.
// Переменная окружения важнее флага.
func GetConfig() (Config, error) {
	// .env необязателен
	_ = godotenv.Load()
	return parse(os.Args[0], os.Args[1:], os.Getenv)
}

func parse(name string, args []string, getenv func(string) string) (Config, error) {
	var cfg Config
	var operators string

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&cfg.Handler.ServerAddr, "a", ":5001", "address and port to run server")
	fs.StringVar(&cfg.Store.DBDsn, "d", "", "database connection string")
	fs.StringVar(&cfg.Store.SeedFile, "seed", "", "json file with sites, banks and withdrawal methods")
	fs.StringVar(&cfg.Logger.LogLevel, "l", "info", "log level")
	fs.StringVar(&cfg.Locks.RedisAddr, "r", "", "redis address")
	fs.StringVar(&cfg.Token.SecretKey, "s", "", "operator token secret")
	fs.StringVar(&cfg.Telegram.Token, "t", "", "telegram bot token")
	fs.StringVar(&operators, "o", "", "operators as user:password,...")
	fs.DurationVar(&cfg.Telegram.PollTimeout, "poll-timeout", 25*time.Second, "telegram long poll timeout")
	fs.DurationVar(&cfg.Telegram.ConversationTTL, "conversation-ttl", 15*time.Minute, "idle bank update dialog lifetime")
	fs.DurationVar(&cfg.Service.CallbackTimeout, "callback-timeout", 10*time.Second, "balance callback timeout")
	fs.DurationVar(&cfg.Token.TokenExp, "token-exp", 12*time.Hour, "operator token lifetime")
	fs.Float64Var(&cfg.Handler.PublicRate, "public-rate", 10, "public API requests per second per site")
	fs.IntVar(&cfg.Handler.PublicBurst, "public-burst", 20, "public API burst per site")
	fs.StringVar(&cfg.Hub.AllowedOrigin, "origin", "", "allowed websocket origin")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	env := envReader{getenv: getenv}
	env.str("RUN_ADDRESS", &cfg.Handler.ServerAddr)
	env.str("DATABASE_URI", &cfg.Store.DBDsn)
	env.str("SEED_FILE", &cfg.Store.SeedFile)
	env.str("LOG_LEVEL", &cfg.Logger.LogLevel)
	env.str("REDIS_ADDR", &cfg.Locks.RedisAddr)
	env.str("REDIS_LOCKS_KEY", &cfg.Locks.RedisKey)
	env.str("REDIS_CHANNEL", &cfg.Hub.RedisChannel)
	env.str("JWT_SECRET", &cfg.Token.SecretKey)
	env.str("TELEGRAM_TOKEN", &cfg.Telegram.Token)
	env.str("TELEGRAM_API_URL", &cfg.Telegram.APIURL)
	env.str("OPERATORS", &operators)
	env.str("ALLOWED_ORIGIN", &cfg.Hub.AllowedOrigin)
	env.duration("TELEGRAM_POLL_TIMEOUT", &cfg.Telegram.PollTimeout)
	env.duration("CONVERSATION_TTL", &cfg.Telegram.ConversationTTL)
	env.duration("CALLBACK_TIMEOUT", &cfg.Service.CallbackTimeout)
	env.duration("TOKEN_EXP", &cfg.Token.TokenExp)
	env.float("PUBLIC_RATE", &cfg.Handler.PublicRate)
	env.integer("PUBLIC_BURST", &cfg.Handler.PublicBurst)
	if env.err != nil {
		return Config{}, env.err
	}

	var err error
	cfg.Auth.Operators, err = parseOperators(operators)
	if err != nil {
		return Config{}, err
	}
	if cfg.Token.SecretKey == "" {
		return Config{}, ErrNoSecret
	}
	return cfg, nil
}

// parseOperators разбирает список "логин:пароль" через запятую
func parseOperators(value string) (map[string]string, error) {
	operators := make(map[string]string)
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		username, password, ok := strings.Cut(pair, ":")
		if !ok || username == "" || password == "" {
			return nil, fmt.Errorf("bad operator entry %q", pair)
		}
		operators[username] = password
	}
	return operators, nil
}

// envReader запоминает первую ошибку разбора
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) str(key string, dst *string) {
	if v := e.getenv(key); v != "" {
		*dst = v
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v := e.getenv(key)
	if v == "" || e.err != nil {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = d
}

func (e *envReader) float(key string, dst *float64) {
	v := e.getenv(key)
	if v == "" || e.err != nil {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = f
}

func (e *envReader) integer(key string, dst *int) {
	v := e.getenv(key)
	if v == "" || e.err != nil {
		return
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = i
}
