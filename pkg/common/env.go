package common

import (
	"os"

	"github.com/joho/godotenv"
)

const (
	envPathStdin = "stdin"
)

// EnvMap resolves configuration values from an optional .env file first and
// from the process environment second.
type EnvMap struct {
	path   string
	envMap map[string]string
}

func (em *EnvMap) GetEx(key string) (string, bool) {
	if em.envMap != nil {
		if v, ok := em.envMap[key]; ok && len(v) > 0 {
			return v, true
		}
	}

	value := os.Getenv(key)
	return value, len(value) > 0
}

func (em *EnvMap) Get(key string) string {
	v, _ := em.GetEx(key)
	return v
}

// Update re-reads the backing file, stdin is only read once
func (em *EnvMap) Update() error {
	if (len(em.path) > 0) && (em.path != envPathStdin) {
		envMap, err := godotenv.Read(em.path)
		if err != nil {
			return err
		}

		em.envMap = envMap
	}

	return nil
}

func NewEnvMap(path string) (*EnvMap, error) {
	var envMap map[string]string

	switch {
	case path == envPathStdin:
		var err error
		if envMap, err = godotenv.Parse(os.Stdin); err != nil {
			return nil, err
		}
	case len(path) > 0:
		var err error
		if envMap, err = godotenv.Read(path); err != nil {
			return nil, err
		}
	}

	return &EnvMap{envMap: envMap, path: path}, nil
}
