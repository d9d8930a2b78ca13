package config

import "time"

type Config struct {
	CallbackTimeout time.Duration
}
