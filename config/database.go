package config

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"                    envDefault:"localhost"`
	Port     int    `env:"PORT"                    envDefault:"5432"`
	User     string `env:"USER"                    envDefault:"prayermap"`
	Password string `env:"PASSWORD"                envDefault:"prayermap"`
	Name     string `env:"NAME"                    envDefault:"prayermap"`
	SSLMode  string `env:"SSL_MODE"                envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart applies the bundled admin_roles schema during startup.
	// Leave off when the role function is managed elsewhere.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"false"`
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	// URI is host:port or a redis:// / rediss:// URL for a standalone server.
	URI      string `env:"URI"      envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	// UseSentinel switches to a sentinel-managed primary; URI is then ignored.
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	// SessionPrefix namespaces persisted provider sessions.
	SessionPrefix string `env:"SESSION_PREFIX" envDefault:"auth-session:"`
	// EventChannelPrefix namespaces auth event pub/sub channels.
	EventChannelPrefix string `env:"EVENT_CHANNEL_PREFIX" envDefault:"auth-events:"`
}
