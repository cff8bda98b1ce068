package cache

import "fmt"

// GenerateKey joins a prefix and id into a colon-separated cache key.
func GenerateKey(prefix, id string) string {
	return prefix + ":" + id
}

// GenerateKeyWithParams appends each parameter as its own key segment.
func GenerateKeyWithParams(prefix string, params ...interface{}) string {
	key := prefix
	for _, p := range params {
		key = fmt.Sprintf("%s:%v", key, p)
	}
	return key
}
