package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	Server     struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type     string `mapstructure:"TYPE"`
		Host     string `mapstructure:"HOST"`
		Port     string `mapstructure:"PORT"`
		DBNAME   string `mapstructure:"DBNAME"`
		User     string `mapstructure:"USER"`
		Password string `mapstructure:"PASSWORD"`
		SSLMode  string `mapstructure:"SSLMODE"`
		Timezone string `mapstructure:"TIMEZONE"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Otel struct {
		Endpoint string `mapstructure:"ENDPOINT"`
		Insecure bool   `mapstructure:"INSECURE"`
	} `mapstructure:"OTEL"`
	SnowflakeNodeID int64           `mapstructure:"SNOWFLAKE_NODE_ID"`
	Presence        PresenceConfig  `mapstructure:"PRESENCE"`
	RateLimit       RateLimitConfig `mapstructure:"RATE_LIMIT"`
	Behavior        BehaviorConfig  `mapstructure:"BEHAVIOR"`
	Session         SessionConfig   `mapstructure:"SESSION"`
}

// PresenceConfig carries the physical-plausibility thresholds applied to
// GPS samples, trajectories and device fingerprints.
type PresenceConfig struct {
	MaxAccuracyMeters    float64       `mapstructure:"MAX_ACCURACY_METERS"`
	MaxSampleAge         time.Duration `mapstructure:"MAX_SAMPLE_AGE"`
	MaxFootSpeedMps      float64       `mapstructure:"MAX_FOOT_SPEED_MPS"`
	MaxImpliedSpeedMps   float64       `mapstructure:"MAX_IMPLIED_SPEED_MPS"`
	MinAltitudeMeters    float64       `mapstructure:"MIN_ALTITUDE_METERS"`
	MaxAltitudeMeters    float64       `mapstructure:"MAX_ALTITUDE_METERS"`
	MinSamples           int           `mapstructure:"MIN_SAMPLES"`
	MinSampleInterval    time.Duration `mapstructure:"MIN_SAMPLE_INTERVAL"`
	MaxSampleInterval    time.Duration `mapstructure:"MAX_SAMPLE_INTERVAL"`
	MaxCentroidDeviation float64       `mapstructure:"MAX_CENTROID_DEVIATION"`
	DefaultRadiusMeters  float64       `mapstructure:"DEFAULT_RADIUS_METERS"`
	ScanRadiusMeters     float64       `mapstructure:"SCAN_RADIUS_METERS"`
	SimilarityThreshold  float64       `mapstructure:"SIMILARITY_THRESHOLD"`
	ChallengeTTL         time.Duration `mapstructure:"CHALLENGE_TTL"`
}

type RateLimitConfig struct {
	CooldownRich time.Duration `mapstructure:"COOLDOWN_RICH"`
	CooldownScan time.Duration `mapstructure:"COOLDOWN_SCAN"`
	HourlyCap    int64         `mapstructure:"HOURLY_CAP"`
	BurstWindow  time.Duration `mapstructure:"BURST_WINDOW"`
}

type BehaviorConfig struct {
	HistorySize      int           `mapstructure:"HISTORY_SIZE"`
	MinIntervals     int           `mapstructure:"MIN_INTERVALS"`
	RegularityCV     float64       `mapstructure:"REGULARITY_CV"`
	BurstMax         int64         `mapstructure:"BURST_MAX"`
	MaxTravelKmh     float64       `mapstructure:"MAX_TRAVEL_KMH"`
	JumpDistance     float64       `mapstructure:"JUMP_DISTANCE_METERS"`
	JumpWindow       time.Duration `mapstructure:"JUMP_WINDOW"`
	MaxJumpsPerDay   int           `mapstructure:"MAX_JUMPS_PER_DAY"`
	SameCoordSamples int           `mapstructure:"SAME_COORD_SAMPLES"`
}

type SessionConfig struct {
	MaxDistinctIPsDay int           `mapstructure:"MAX_DISTINCT_IPS_DAY"`
	MaxLoginIPsHour   int           `mapstructure:"MAX_LOGIN_IPS_HOUR"`
	MaxAge            time.Duration `mapstructure:"MAX_AGE"`
	RevokeScore       int           `mapstructure:"REVOKE_SCORE"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() *Config {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			zap.L().Error("failed to read config file", zap.Error(err))
			os.Exit(1)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "presencegate")

	v.SetDefault("HTTP_SERVER.ADDR", ":8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)

	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.SSLMODE", "disable")

	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 30*time.Second)

	v.SetDefault("OTEL.INSECURE", true)
	v.SetDefault("SNOWFLAKE_NODE_ID", 1)

	v.SetDefault("PRESENCE.MAX_ACCURACY_METERS", 50.0)
	v.SetDefault("PRESENCE.MAX_SAMPLE_AGE", 30*time.Second)
	v.SetDefault("PRESENCE.MAX_FOOT_SPEED_MPS", 8.33)
	v.SetDefault("PRESENCE.MAX_IMPLIED_SPEED_MPS", 10.0)
	v.SetDefault("PRESENCE.MIN_ALTITUDE_METERS", -100.0)
	v.SetDefault("PRESENCE.MAX_ALTITUDE_METERS", 3000.0)
	v.SetDefault("PRESENCE.MIN_SAMPLES", 3)
	v.SetDefault("PRESENCE.MIN_SAMPLE_INTERVAL", time.Second)
	v.SetDefault("PRESENCE.MAX_SAMPLE_INTERVAL", 15*time.Second)
	v.SetDefault("PRESENCE.MAX_CENTROID_DEVIATION", 100.0)
	v.SetDefault("PRESENCE.DEFAULT_RADIUS_METERS", 50.0)
	v.SetDefault("PRESENCE.SCAN_RADIUS_METERS", 100.0)
	v.SetDefault("PRESENCE.SIMILARITY_THRESHOLD", 0.7)
	v.SetDefault("PRESENCE.CHALLENGE_TTL", 60*time.Second)

	v.SetDefault("RATE_LIMIT.COOLDOWN_RICH", 5*time.Minute)
	v.SetDefault("RATE_LIMIT.COOLDOWN_SCAN", 24*time.Hour)
	v.SetDefault("RATE_LIMIT.HOURLY_CAP", 20)
	v.SetDefault("RATE_LIMIT.BURST_WINDOW", 5*time.Minute)

	v.SetDefault("BEHAVIOR.HISTORY_SIZE", 20)
	v.SetDefault("BEHAVIOR.MIN_INTERVALS", 5)
	v.SetDefault("BEHAVIOR.REGULARITY_CV", 0.1)
	v.SetDefault("BEHAVIOR.BURST_MAX", 10)
	v.SetDefault("BEHAVIOR.MAX_TRAVEL_KMH", 100.0)
	v.SetDefault("BEHAVIOR.JUMP_DISTANCE_METERS", 500.0)
	v.SetDefault("BEHAVIOR.JUMP_WINDOW", time.Minute)
	v.SetDefault("BEHAVIOR.MAX_JUMPS_PER_DAY", 3)
	v.SetDefault("BEHAVIOR.SAME_COORD_SAMPLES", 5)

	v.SetDefault("SESSION.MAX_DISTINCT_IPS_DAY", 5)
	v.SetDefault("SESSION.MAX_LOGIN_IPS_HOUR", 3)
	v.SetDefault("SESSION.MAX_AGE", 24*time.Hour)
	v.SetDefault("SESSION.REVOKE_SCORE", 70)
}
