// Package upstream fetches missing entries from an HTTP origin for
// read-through loading.
//
// Fetcher.Load GETs <url>/<escaped key>. 200 with a JSON body is a hit, 404
// is a miss remembered for miss_ttl so a hot absent key does not hammer the
// origin, and anything else is an error wrapping ErrStatus. Requests carry
// the configured credentials (apikey, bearer, basic or mTLS).
package upstream
