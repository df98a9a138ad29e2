package config

import (
	"time"

	"github.com/spf13/viper"
)

type (
	Config struct {
		HTTP
		Database
		FTP
		Crawl
		Queue
		Reaper
		Audit
		Global
	}

	HTTP struct {
		Port int32
		Host string
	}

	Database struct {
		Driver string // "sqlite" or "postgres"
		Path   string // sqlite file path
		DSN    string // postgres connection string
	}

	FTP struct {
		Host         string
		Port         int
		User         string
		Password     string
		PoolSize     int
		FetchTimeout time.Duration
		MaxRetries   int
		RetryDelay   time.Duration
	}

	Crawl struct {
		RootPath      string
		BatchSize     int
		Workers       int
		Schedule      string // cron format, empty disables scheduled crawls
		RetentionDays int    // active sailings unseen for longer are left alone
	}

	Queue struct {
		Workers      int
		PollInterval time.Duration
	}

	Reaper struct {
		Schedule       string
		StuckThreshold time.Duration
		WorkerTimeout  time.Duration
	}

	Audit struct {
		Dir string // empty disables webhook payload archiving
	}

	Global struct {
		ShutdownTimeoutInSeconds int
	}
)

func NewConfig() *Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("port", 8190)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("shutdown_timeout_in_seconds", 10)

	v.SetDefault("database_driver", "sqlite")
	v.SetDefault("database_path", DefaultDatabasePath)
	v.SetDefault("database_dsn", "")

	v.SetDefault("ftp_host", "ftpeu1prod.traveltek.net")
	v.SetDefault("ftp_port", 21)
	v.SetDefault("ftp_pool_size", DefaultFTPPoolSize)
	v.SetDefault("ftp_fetch_timeout", "45s")
	v.SetDefault("ftp_max_retries", 3)
	v.SetDefault("ftp_retry_delay", "2s")

	v.SetDefault("crawl_root_path", "/")
	v.SetDefault("crawl_batch_size", DefaultBatchSize)
	v.SetDefault("crawl_workers", 4)
	v.SetDefault("crawl_schedule", "") // e.g. "0 3 * * *" for nightly crawls
	v.SetDefault("crawl_retention_days", 90)

	v.SetDefault("queue_workers", 2)
	v.SetDefault("queue_poll_interval", "5s")

	v.SetDefault("audit_dir", "")

	v.SetDefault("reaper_schedule", "*/5 * * * *")
	v.SetDefault("reaper_stuck_threshold", "30m")
	v.SetDefault("reaper_worker_timeout", "2m")

	return &Config{
		HTTP: HTTP{
			Port: v.GetInt32("PORT"),
			Host: v.GetString("HOST"),
		},
		Database: Database{
			Driver: v.GetString("DATABASE_DRIVER"),
			Path:   v.GetString("DATABASE_PATH"),
			DSN:    v.GetString("DATABASE_DSN"),
		},
		FTP: FTP{
			Host:         v.GetString("FTP_HOST"),
			Port:         v.GetInt("FTP_PORT"),
			User:         v.GetString("FTP_USER"),
			Password:     v.GetString("FTP_PASSWORD"),
			PoolSize:     v.GetInt("FTP_POOL_SIZE"),
			FetchTimeout: v.GetDuration("FTP_FETCH_TIMEOUT"),
			MaxRetries:   v.GetInt("FTP_MAX_RETRIES"),
			RetryDelay:   v.GetDuration("FTP_RETRY_DELAY"),
		},
		Crawl: Crawl{
			RootPath:      v.GetString("CRAWL_ROOT_PATH"),
			BatchSize:     v.GetInt("CRAWL_BATCH_SIZE"),
			Workers:       v.GetInt("CRAWL_WORKERS"),
			Schedule:      v.GetString("CRAWL_SCHEDULE"),
			RetentionDays: v.GetInt("CRAWL_RETENTION_DAYS"),
		},
		Queue: Queue{
			Workers:      v.GetInt("QUEUE_WORKERS"),
			PollInterval: v.GetDuration("QUEUE_POLL_INTERVAL"),
		},
		Reaper: Reaper{
			Schedule:       v.GetString("REAPER_SCHEDULE"),
			StuckThreshold: v.GetDuration("REAPER_STUCK_THRESHOLD"),
			WorkerTimeout:  v.GetDuration("REAPER_WORKER_TIMEOUT"),
		},
		Audit: Audit{
			Dir: v.GetString("AUDIT_DIR"),
		},
		Global: Global{
			ShutdownTimeoutInSeconds: v.GetInt("SHUTDOWN_TIMEOUT_IN_SECONDS"),
		},
	}
}
