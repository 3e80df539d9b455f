package config

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_INMEM StorageType = "memory"

type Config struct {
	RedisConfig        RedisStorageConfig
	HttpPort           int
	StorageType        StorageType
	WorkerPoolSize     int
	WorkerPoolCapacity int
	TaskTimeoutSeconds int
	AuditLogFile       string
}

type RedisStorageConfig struct {
	Addrs     []string
	Namespace string
}
