package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Log         LogConfig
	Worker      WorkerConfig
	Rusle       RusleConfig
	Storage     StorageConfig
	EarthEngine EarthEngineConfig
	Scheduler   SchedulerConfig
}

type ServerConfig struct {
	Host string
	Port int
	Env  string

	// TileURLPrefix and DefaultMaxZoom feed the orchestrator's tiles_url
	// templating and the default zoom cap for a get-or-queue request that
	// doesn't specify one.
	TileURLPrefix  string
	DefaultMaxZoom int
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig is shared by the cache/broker client; the broker uses Streams
// on the same connection rather than a dedicated pool (single Redis, unlike
// the teacher's split cache/streams instances, because this service has no
// separate cache tier to isolate from the job queue).
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type LogConfig struct {
	Level string
}

// WorkerConfig governs the background compute-worker pool (C5).
type WorkerConfig struct {
	Enabled         bool
	ConsumerGroup   string
	MaxRetries      int
	SampleWorkers   int
	SampleBatchSize int
	ShutdownTimeout time.Duration
}

// RusleConfig holds the defaults resolved by internal/rusleconfig, including
// the Open-Question-resolved K-factor nomograph coefficients.
type RusleConfig struct {
	DefaultsVersion string
	ComputeTimeout  time.Duration

	RErosivityCoefficient float64
	RErosivityExponent    float64

	KFactor KFactorConfig

	SimplifyToleranceMinM float64
	SimplifyToleranceMaxM float64

	SmallBBoxThumbnailThresholdKM2 float64

	MinYear int
}

// KFactorConfig pins the USDA-style nomograph variant's coefficients,
// overridable per spec.md §9's open-question resolution.
type KFactorConfig struct {
	ClayCoeff          float64
	SiltCoeff          float64
	SandCoeff          float64
	OrganicCarbonCoeff float64
	StructureCode      int
	PermeabilityClass  int
	ClampMin           float64
	ClampMax           float64
}

type StorageConfig struct {
	Root string
}

type EarthEngineConfig struct {
	ServiceAccountKeyPath string
	ProjectID             string
	RequestTimeout        time.Duration
}

type SchedulerConfig struct {
	OrphanStuckThreshold time.Duration
	DefaultYear          int
}

func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           viper.GetString("API_HOST"),
			Port:           viper.GetInt("API_PORT"),
			Env:            viper.GetString("API_ENV"),
			TileURLPrefix:  viper.GetString("API_TILE_URL_PREFIX"),
			DefaultMaxZoom: viper.GetInt("API_DEFAULT_MAX_ZOOM"),
		},
		Database: DatabaseConfig{
			Host:            viper.GetString("DB_HOST"),
			Port:            viper.GetInt("DB_PORT"),
			User:            viper.GetString("DB_USER"),
			Password:        viper.GetString("DB_PASSWORD"),
			DBName:          viper.GetString("DB_NAME"),
			SSLMode:         viper.GetString("DB_SSLMODE"),
			MaxConns:        viper.GetInt("DB_MAX_CONNS"),
			MaxIdleConns:    viper.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: time.Duration(viper.GetInt("DB_CONN_MAX_LIFETIME")) * time.Second,
			ConnMaxIdleTime: time.Duration(viper.GetInt("DB_CONN_MAX_IDLE_TIME")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetInt("REDIS_PORT"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		Log: LogConfig{
			Level: viper.GetString("LOG_LEVEL"),
		},
		Worker: WorkerConfig{
			Enabled:         viper.GetBool("WORKER_ENABLED"),
			ConsumerGroup:   viper.GetString("WORKER_CONSUMER_GROUP"),
			MaxRetries:      viper.GetInt("WORKER_MAX_RETRIES"),
			SampleWorkers:   viper.GetInt("WORKER_SAMPLE_WORKERS"),
			SampleBatchSize: viper.GetInt("WORKER_SAMPLE_BATCH_SIZE"),
			ShutdownTimeout: time.Duration(viper.GetInt("WORKER_SHUTDOWN_TIMEOUT_SEC")) * time.Second,
		},
		Rusle: RusleConfig{
			DefaultsVersion:                viper.GetString("RUSLE_DEFAULTS_VERSION"),
			ComputeTimeout:                 time.Duration(viper.GetInt("RUSLE_COMPUTE_TIMEOUT_SEC")) * time.Second,
			RErosivityCoefficient:          viper.GetFloat64("RUSLE_R_COEFFICIENT"),
			RErosivityExponent:             viper.GetFloat64("RUSLE_R_EXPONENT"),
			SimplifyToleranceMinM:          viper.GetFloat64("RUSLE_SIMPLIFY_MIN_M"),
			SimplifyToleranceMaxM:          viper.GetFloat64("RUSLE_SIMPLIFY_MAX_M"),
			SmallBBoxThumbnailThresholdKM2: viper.GetFloat64("RUSLE_SMALL_BBOX_THRESHOLD_KM2"),
			MinYear:                        viper.GetInt("RUSLE_MIN_YEAR"),
			KFactor: KFactorConfig{
				ClayCoeff:          viper.GetFloat64("RUSLE_K_CLAY_COEFF"),
				SiltCoeff:          viper.GetFloat64("RUSLE_K_SILT_COEFF"),
				SandCoeff:          viper.GetFloat64("RUSLE_K_SAND_COEFF"),
				OrganicCarbonCoeff: viper.GetFloat64("RUSLE_K_OC_COEFF"),
				StructureCode:      viper.GetInt("RUSLE_K_STRUCTURE_CODE"),
				PermeabilityClass:  viper.GetInt("RUSLE_K_PERMEABILITY_CLASS"),
				ClampMin:           viper.GetFloat64("RUSLE_K_CLAMP_MIN"),
				ClampMax:           viper.GetFloat64("RUSLE_K_CLAMP_MAX"),
			},
		},
		Storage: StorageConfig{
			Root: viper.GetString("STORAGE_ROOT"),
		},
		EarthEngine: EarthEngineConfig{
			ServiceAccountKeyPath: viper.GetString("EARTHENGINE_SERVICE_ACCOUNT_KEY"),
			ProjectID:             viper.GetString("EARTHENGINE_PROJECT_ID"),
			RequestTimeout:        time.Duration(viper.GetInt("EARTHENGINE_REQUEST_TIMEOUT_SEC")) * time.Second,
		},
		Scheduler: SchedulerConfig{
			OrphanStuckThreshold: time.Duration(viper.GetInt("SCHEDULER_ORPHAN_STUCK_MINUTES")) * time.Minute,
			DefaultYear:          viper.GetInt("SCHEDULER_DEFAULT_YEAR"),
		},
	}

	applyDefaults(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Worker.ConsumerGroup == "" {
		cfg.Worker.ConsumerGroup = "erosion-compute-workers"
	}
	if cfg.Worker.MaxRetries == 0 {
		cfg.Worker.MaxRetries = 3
	}
	if cfg.Worker.SampleWorkers == 0 {
		cfg.Worker.SampleWorkers = 8
	}
	if cfg.Worker.SampleBatchSize == 0 {
		cfg.Worker.SampleBatchSize = 50
	}
	if cfg.Worker.ShutdownTimeout == 0 {
		cfg.Worker.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Rusle.DefaultsVersion == "" {
		cfg.Rusle.DefaultsVersion = "v1"
	}
	if cfg.Rusle.ComputeTimeout == 0 {
		cfg.Rusle.ComputeTimeout = 600 * time.Second
	}
	if cfg.Rusle.RErosivityCoefficient == 0 {
		cfg.Rusle.RErosivityCoefficient = 0.0483
	}
	if cfg.Rusle.RErosivityExponent == 0 {
		cfg.Rusle.RErosivityExponent = 1.61
	}
	if cfg.Rusle.SimplifyToleranceMinM == 0 {
		cfg.Rusle.SimplifyToleranceMinM = 500
	}
	if cfg.Rusle.SimplifyToleranceMaxM == 0 {
		cfg.Rusle.SimplifyToleranceMaxM = 2000
	}
	if cfg.Rusle.SmallBBoxThumbnailThresholdKM2 == 0 {
		cfg.Rusle.SmallBBoxThumbnailThresholdKM2 = 50
	}
	if cfg.Rusle.MinYear == 0 {
		cfg.Rusle.MinYear = 1993
	}
	if cfg.Rusle.KFactor.ClayCoeff == 0 {
		cfg.Rusle.KFactor.ClayCoeff = 0.2
	}
	if cfg.Rusle.KFactor.SiltCoeff == 0 {
		cfg.Rusle.KFactor.SiltCoeff = 0.3
	}
	if cfg.Rusle.KFactor.SandCoeff == 0 {
		cfg.Rusle.KFactor.SandCoeff = 0.25
	}
	if cfg.Rusle.KFactor.OrganicCarbonCoeff == 0 {
		cfg.Rusle.KFactor.OrganicCarbonCoeff = 0.0256
	}
	if cfg.Rusle.KFactor.StructureCode == 0 {
		cfg.Rusle.KFactor.StructureCode = 2
	}
	if cfg.Rusle.KFactor.PermeabilityClass == 0 {
		cfg.Rusle.KFactor.PermeabilityClass = 3
	}
	if cfg.Rusle.KFactor.ClampMax == 0 {
		cfg.Rusle.KFactor.ClampMin = 0.01
		cfg.Rusle.KFactor.ClampMax = 0.7
	}

	if cfg.Server.TileURLPrefix == "" {
		cfg.Server.TileURLPrefix = "/api/erosion/tiles"
	}
	if cfg.Server.DefaultMaxZoom == 0 {
		cfg.Server.DefaultMaxZoom = 14
	}

	if cfg.Storage.Root == "" {
		cfg.Storage.Root = "./data"
	}

	if cfg.EarthEngine.RequestTimeout == 0 {
		cfg.EarthEngine.RequestTimeout = 60 * time.Second
	}

	if cfg.Scheduler.OrphanStuckThreshold == 0 {
		cfg.Scheduler.OrphanStuckThreshold = 10 * time.Minute
	}
}

func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
