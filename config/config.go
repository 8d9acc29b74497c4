package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Game        GameConfig        `mapstructure:"game"`
	Matchmaking MatchmakingConfig `mapstructure:"matchmaking"`
}

type ServerConfig struct {
	HTTPAddress    string `mapstructure:"http_address"`
	RPCAddress     string `mapstructure:"rpc_address"`
	MetricsAddress string `mapstructure:"metrics_address"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

type GameConfig struct {
	DisconnectGraceSeconds int `mapstructure:"disconnect_grace_seconds"`
	SessionLingerSeconds   int `mapstructure:"session_linger_seconds"`
	ClockTickMillis        int `mapstructure:"clock_tick_ms"`
	ClockBroadcastMillis   int `mapstructure:"clock_broadcast_ms"`
}

type MatchmakingConfig struct {
	SearchWindowSeconds int `mapstructure:"search_window_seconds"`
	TightRatingBand     int `mapstructure:"tight_rating_band"`
	WideRatingBand      int `mapstructure:"wide_rating_band"`
	CandidateLimit      int `mapstructure:"candidate_limit"`
	SweepIntervalSecs   int `mapstructure:"sweep_interval_seconds"`
}

func LoadConfig(path string) (config *Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("game.disconnect_grace_seconds", 30)
	viper.SetDefault("game.session_linger_seconds", 10)
	viper.SetDefault("game.clock_tick_ms", 100)
	viper.SetDefault("game.clock_broadcast_ms", 1000)
	viper.SetDefault("matchmaking.search_window_seconds", 60)
	viper.SetDefault("matchmaking.tight_rating_band", 100)
	viper.SetDefault("matchmaking.wide_rating_band", 300)
	viper.SetDefault("matchmaking.candidate_limit", 10)
	viper.SetDefault("matchmaking.sweep_interval_seconds", 5)

	viper.AutomaticEnv()

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}

// DisconnectGrace returns the forfeit grace window as a duration.
func (g GameConfig) DisconnectGrace() time.Duration {
	return time.Duration(g.DisconnectGraceSeconds) * time.Second
}

// SessionLinger returns the delay before an ended session is dropped from
// the registry.
func (g GameConfig) SessionLinger() time.Duration {
	return time.Duration(g.SessionLingerSeconds) * time.Second
}

func (g GameConfig) ClockTick() time.Duration {
	return time.Duration(g.ClockTickMillis) * time.Millisecond
}

func (g GameConfig) ClockBroadcast() time.Duration {
	return time.Duration(g.ClockBroadcastMillis) * time.Millisecond
}

func (m MatchmakingConfig) SearchWindow() time.Duration {
	return time.Duration(m.SearchWindowSeconds) * time.Second
}

func (m MatchmakingConfig) SweepInterval() time.Duration {
	return time.Duration(m.SweepIntervalSecs) * time.Second
}
