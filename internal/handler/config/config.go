package config

type Config struct {
	ServerAddr string
	// Лимит запросов в секунду на один сайт для клиентского API, 0 - без лимита
	PublicRate  float64
	PublicBurst int
}
