package config

// Backend is a persistent key/value store for non-secret settings. Values are
// kept as text and parsed against the key's type on load.
type Backend interface {
	Lookup(key string) (value string, ok bool, err error)
	Store(key, value string) error
	Remove(key string) error
}
