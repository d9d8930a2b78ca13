package config

type Config struct {
	// логин -> пароль операторов панели
	Operators map[string]string
}
