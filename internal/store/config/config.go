package config

type Config struct {
	DBDsn string
	// JSON со справочниками сайтов, банков и методов вывода для первого запуска
	SeedFile string
}
