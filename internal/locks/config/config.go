package config

type Config struct {
	RedisAddr string
	RedisKey  string
}
