package redis

const (
	DefaultAddr       = "localhost:6379"
	DefaultPrefix     = "concourse"
	DefaultMaxRetries = 10
)

type Config struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key written by the store
	Prefix string
	// MaxRetries bounds the attempts of an append that lost an optimistic
	// lock race
	MaxRetries uint
}

func DefaultConfig() Config {
	return Config{
		Addr:       DefaultAddr,
		Prefix:     DefaultPrefix,
		MaxRetries: DefaultMaxRetries,
	}
}
