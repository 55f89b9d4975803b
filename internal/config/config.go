package config

import (
	"flag"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Env             string        `yaml:"env" env:"ENV" env-default:"local" env-description:"Environment" env-choices:"local,dev,prod"`
	ApiPort         int           `yaml:"api_port" env:"API_PORT" env-default:"8080"`
	ApiHost         string        `yaml:"api_host" env:"API_HOST" env-default:"localhost"`
	JwtSecret       string        `yaml:"jwt_secret" env:"JWT_SECRET" env-default:"secret42212"`
	TokenTTL        time.Duration `yaml:"token_ttl" env:"TOKEN_TTL" env-default:"24h"`
	StartingBalance int64         `yaml:"starting_balance" env:"STARTING_BALANCE" env-default:"1000"`
	HistoryPageSize int           `yaml:"history_page_size" env:"HISTORY_PAGE_SIZE" env-default:"20"`
	Storage         `yaml:"storage"`
	Postgres        `yaml:"postgres"`
}

type Storage struct {
	Driver     string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"postgres" env-choices:"postgres,sqlite"`
	SqlitePath string `yaml:"sqlite_path" env:"SQLITE_PATH" env-default:"banco.db"`
}

type Postgres struct {
	Host string `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
	Port string `yaml:"port" env:"POSTGRES_PORT" env-default:"5433"`
	User string `yaml:"user" env:"POSTGRES_USER" env-default:"test"`
	Pass string `yaml:"pass" env:"POSTGRES_PASSWORD" env-default:"12345"`
	Db   string `yaml:"db" env:"POSTGRES_DB" env-default:"test_db"`
}

// URL builds the connection string lib/pq and pgx both accept.
func (p Postgres) URL() string {
	return "postgres://" + p.User + ":" + p.Pass + "@" + p.Host + ":" + p.Port + "/" + p.Db + "?sslmode=disable"
}

func MustLoad() *Config {
	path := fetchConfigPath()

	if path == "" {
		panic("config path is empty")
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		panic("config file does not exist: " + path)
	}

	cfg, err := Load(path)
	if err != nil {
		panic("Failed to read config: " + err.Error())
	}

	return cfg
}

// Load reads the YAML file at path; environment variables override it.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
