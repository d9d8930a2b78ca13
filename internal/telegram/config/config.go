package config

import "time"

type Config struct {
	// Токен бота. Пусто - берется токен первого сайта, где он задан
	Token           string
	APIURL          string
	PollTimeout     time.Duration
	ConversationTTL time.Duration
}
