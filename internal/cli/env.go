package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix marks environment variables that provide flag defaults.
const EnvPrefix = "PRETRANSFORM_"

// Environment collects PRETRANSFORM_* variables from the dotenv file at
// path, if it exists, and the process environment. The process environment
// wins.
func Environment(path string) (map[string]string, error) {
	env := make(map[string]string)
	if path != "" {
		values, err := godotenv.Read(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		for k, v := range values {
			if strings.HasPrefix(k, EnvPrefix) {
				env[k] = v
			}
		}
	}
	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(k, EnvPrefix) {
			env[k] = v
		}
	}
	return env, nil
}

// defaults reads typed flag defaults from the collected environment. The
// first malformed value is kept in err.
type defaults struct {
	env map[string]string
	err error
}

func (d *defaults) lookup(key string) (string, bool) {
	v, ok := d.env[EnvPrefix+key]
	return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
}

func (d *defaults) fail(key, value string, err error) {
	if d.err == nil {
		d.err = fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, key, value, err)
	}
}

func (d *defaults) String(key, fallback string) string {
	if v, ok := d.lookup(key); ok {
		return v
	}
	return fallback
}

func (d *defaults) Int(key string, fallback int) int {
	v, ok := d.lookup(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		d.fail(key, v, err)
		return fallback
	}
	return n
}

func (d *defaults) Bool(key string, fallback bool) bool {
	v, ok := d.lookup(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		d.fail(key, v, err)
		return fallback
	}
	return b
}

func (d *defaults) Duration(key string, fallback time.Duration) time.Duration {
	v, ok := d.lookup(key)
	if !ok {
		return fallback
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		d.fail(key, v, err)
		return fallback
	}
	return dur
}
