package osx

import (
	"os"
)

// Getenv returns the value of the environment variable named by the key,
// or the first default if the variable is not present.
func Getenv(key string, def ...string) string {
	if e, ok := os.LookupEnv(key); ok || len(def) == 0 {
		return e
	}
	return def[0]
}

// GetenvAny returns the value of the first present environment variable among the keys,
// e.g. the upper and lower case spellings of the same variable.
func GetenvAny(keys ...string) string {
	for _, k := range keys {
		if e, ok := os.LookupEnv(k); ok {
			return e
		}
	}
	return ""
}
