package tenant

import "strings"

// PrefixKey namespaces a cache or lock key per store.
func PrefixKey(storeID, key string) string {
	if storeID == "" {
		return key
	}
	return storeID + ":" + key
}

// Key joins the parts with ':' and prefixes them with the store.
func Key(storeID string, parts ...string) string {
	return PrefixKey(storeID, strings.Join(parts, ":"))
}
