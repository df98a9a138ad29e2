package config

const (
	// DefaultDatabasePath is the default sqlite path when no postgres DSN is set
	DefaultDatabasePath = "./cruisesync.db"

	// DefaultFTPPoolSize is the remote server's per-account connection ceiling
	DefaultFTPPoolSize = 4

	// DefaultBatchSize is the number of files processed between checkpoint saves
	DefaultBatchSize = 100
)
