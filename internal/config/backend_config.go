package config

import "time"

type Backend struct {
	file *FileConfig
}

var _ BackendConfig = Backend{}

func (b Backend) GetBackendURL() string {
	return lookup("BACKEND_URL", b.file.Backend.URL, "http://localhost:8000/api/auth")
}

func (b Backend) GetBackendTimeout() time.Duration {
	return lookupDuration("BACKEND_TIMEOUT", b.file.Backend.Timeout, 15*time.Second)
}
