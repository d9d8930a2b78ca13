package config

type Config struct {
	// Разрешенный Origin для websocket, пусто - любой
	AllowedOrigin string
	// Канал Redis для рассылки событий между экземплярами
	RedisChannel string
}
