package config

import (
	"fmt"
	"sort"
	"strings"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll lists every non-secret setting of cfg in table order.
func ShowAll(cfg Config) []KeyInfo {
	result := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		if s.secret {
			continue
		}
		result = append(result, KeyInfo{Key: s.key, EnvVar: s.env, Value: fmt.Sprint(s.extract(cfg))})
	}
	return result
}

// SetKey validates value against the key's type and persists it.
func SetKey(key, value string) error {
	return setKey(newPlatformBackend(), key, value)
}

// UnsetKey removes a stored value so the default applies again.
func UnsetKey(key string) error {
	return unsetKey(newPlatformBackend(), key)
}

func settableSpec(key string) (keySpec, error) {
	s, ok := lookupSpec(key)
	if !ok {
		return keySpec{}, fmt.Errorf("unknown config key %q (valid keys: %s)", key, strings.Join(ValidKeys(), ", "))
	}
	if s.secret {
		return keySpec{}, fmt.Errorf("%q is a secret; set %s or store it in the secret store", key, s.env)
	}
	return s, nil
}

func setKey(b Backend, key, value string) error {
	s, err := settableSpec(key)
	if err != nil {
		return err
	}
	if _, err := s.parse(value); err != nil {
		return err
	}
	return b.Store(key, strings.TrimSpace(value))
}

func unsetKey(b Backend, key string) error {
	if _, err := settableSpec(key); err != nil {
		return err
	}
	return b.Remove(key)
}

// ValidKeys returns the sorted non-secret config key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	sort.Strings(keys)
	return keys
}
