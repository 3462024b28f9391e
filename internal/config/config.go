package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode string `mapstructure:"mode"`
	Port int    `mapstructure:"port"`

	// Media engine.
	WorkerBin  string `mapstructure:"worker_bin"`
	PublicIP   string `mapstructure:"public_ip"`
	ListenIP   string `mapstructure:"listen_ip"`
	MaxWorkers int    `mapstructure:"max_workers"` // 0 means 2x CPU cores

	WorkerHealthInterval time.Duration `mapstructure:"worker_health_interval"`
	WorkerIdleThreshold  time.Duration `mapstructure:"worker_idle_threshold"`
	MaxRoomsPerWorker    int           `mapstructure:"max_rooms_per_worker"`

	// Room idle policy.
	RoomIdleLimit time.Duration `mapstructure:"room_idle_limit"`
	RoomIdleTick  time.Duration `mapstructure:"room_idle_tick"`

	// Audio level observer.
	AudioObserverInterval   uint16 `mapstructure:"audio_observer_interval"`
	AudioObserverThreshold  int8   `mapstructure:"audio_observer_threshold"`
	AudioObserverMaxEntries uint16 `mapstructure:"audio_observer_max_entries"`

	// Translation side channel.
	TranslatorURL  string `mapstructure:"translator_url"`
	TranslatorIP   string `mapstructure:"translator_ip"`
	CallControlURL string `mapstructure:"call_control_url"`
	RTPPortMin     uint16 `mapstructure:"rtp_port_min"`
	RTPPortMax     uint16 `mapstructure:"rtp_port_max"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8085)
	v.SetDefault("worker_bin", "/usr/local/bin/mediasoup-worker")
	v.SetDefault("public_ip", "127.0.0.1")
	v.SetDefault("listen_ip", "0.0.0.0")
	v.SetDefault("max_workers", 0)
	v.SetDefault("worker_health_interval", "60s")
	v.SetDefault("worker_idle_threshold", "10m")
	v.SetDefault("max_rooms_per_worker", 15)
	v.SetDefault("room_idle_limit", "10m")
	v.SetDefault("room_idle_tick", "1m")
	v.SetDefault("audio_observer_interval", 500)
	v.SetDefault("audio_observer_threshold", -126)
	v.SetDefault("audio_observer_max_entries", 10)
	v.SetDefault("translator_url", "http://127.0.0.1:8090")
	v.SetDefault("translator_ip", "127.0.0.1")
	v.SetDefault("call_control_url", "http://127.0.0.1:8088")
	v.SetDefault("rtp_port_min", 20000)
	v.SetDefault("rtp_port_max", 29999)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
