package config

const (
	StoreMemory  = "memory"
	StoreKeyring = "keyring"
	StoreFile    = "file"
	StoreRedis   = "redis"
)

type Store struct {
	file *FileConfig
}

var _ StoreConfig = Store{}

func (s Store) GetTokenStore() string {
	return lookup("TOKEN_STORE", s.file.Store.Kind, StoreKeyring)
}

// GetStoreNamespace scopes the stored record, the equivalent of a browser tab group.
func (s Store) GetStoreNamespace() string {
	return lookup("TOKEN_STORE_NAMESPACE", s.file.Store.Namespace, "default")
}

func (s Store) GetStorePath() string {
	return lookup("TOKEN_STORE_PATH", s.file.Store.Path, "./data/session.json")
}

func (s Store) GetRedisAddr() string {
	return lookup("REDIS_ADDR", s.file.Store.RedisAddr, "localhost:6379")
}

func (s Store) GetRedisPassword() string {
	return lookup("REDIS_PASSWORD", s.file.Store.RedisPassword, "")
}

func (s Store) GetRedisDB() int {
	return lookupInt("REDIS_DB", s.file.Store.RedisDB, 0)
}

// GetRedisExpireWithToken lets the record expire with its access token. Off
// by default since expiry is only observed with keyspace notifications on.
func (s Store) GetRedisExpireWithToken() bool {
	return lookupBool("REDIS_EXPIRE_WITH_TOKEN", s.file.Store.RedisExpiry)
}
