package config

import (
	"time"

	"cfkv/pkg/schema"
)

// Config is the root of the process configuration. Every field carries yaml
// and validate tags, see Load and Validate.
type Config struct {
	Logger LoggerConfig `yaml:"logger" validate:"required"`
	Server ServerConfig `yaml:"http-server" validate:"required"`
	DB     DB           `yaml:"db" validate:"required"`
}

type ServerConfig struct {
	Port              int           `yaml:"port" validate:"required,min=1,max=65535"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" validate:"required,gt=0"`
}

type DB struct {
	Memtable    MemtableConfig    `yaml:"memtable" validate:"required"`
	Persistence PersistenceConfig `yaml:"persistence" validate:"required"`
	Compaction  CompactionConfig  `yaml:"compaction" validate:"required"`
	Schema      []schema.Family   `yaml:"schema" validate:"required,min=1,dive"`
}

type MemtableConfig struct {
	FlushThresholdBytes int `yaml:"flush_threshold" validate:"required,min=1"`
	FlushChanBuffSize   int `yaml:"flush_chan_buff_size" validate:"required,min=1"`
}

type PersistenceConfig struct {
	RootPath    string            `yaml:"path" validate:"required"`
	SSTable     SSTableConfig     `yaml:"sstable"`
	Cache       CacheConfig       `yaml:"cache" validate:"required"`
	BloomFilter BloomFilterConfig `yaml:"bloom_filter" validate:"required"`
}

type SSTableConfig struct {
	// values at least this long are stored zstd compressed, 0 disables
	CompressThreshold int `yaml:"compress_threshold" validate:"min=0"`
}

type CacheConfig struct {
	Capacity int `yaml:"capacity" validate:"required,min=1"`
}

type BloomFilterConfig struct {
	FPRate float64 `yaml:"fp_rate" validate:"required,gt=0,lt=1"`
}

type CompactionConfig struct {
	// number of L0 tables that triggers a background compaction, 0 disables
	L0Trigger int `yaml:"l0_trigger" validate:"min=0"`
	// interval of the background compaction check
	Interval time.Duration `yaml:"interval" validate:"required,gt=0"`
}

type LoggerConfig struct {
	Level string `yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "DEBUG",
			JSON:  false,
		},
		Server: ServerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
		},
		DB: DB{
			Memtable: MemtableConfig{
				FlushThresholdBytes: 4 << 20,
				FlushChanBuffSize:   3,
			},
			Persistence: PersistenceConfig{
				RootPath: "./data",
				SSTable: SSTableConfig{
					CompressThreshold: 256,
				},
				Cache: CacheConfig{
					Capacity: 1024,
				},
				BloomFilter: BloomFilterConfig{
					FPRate: 0.01,
				},
			},
			Compaction: CompactionConfig{
				L0Trigger: 4,
				Interval:  30 * time.Second,
			},
			Schema: []schema.Family{
				{Name: "default", MaxVersions: 3},
			},
		},
	}
}
