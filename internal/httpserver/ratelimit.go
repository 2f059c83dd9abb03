package httpserver

import (
	"fmt"
	"net/http"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// Sliding-window rate limit as an atomic Redis Lua script.
// KEYS[1]=window key, ARGV: now, windowStart, windowSec, member, limit.
// Returns the count within the window, or -1 when over the limit.
const luaRateLimit = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowSec = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '0', windowStart)

local count = redis.call('ZCARD', key)

if count < tonumber(ARGV[5]) then
  redis.call('ZADD', key, now, member)
  redis.call('EXPIRE', key, windowSec)
  return count + 1
else
  return -1
end
`

// RedisRateLimit throttles the public action endpoints. Email links carry the
// token in the URL, so the window is keyed per token when present and falls
// back to the client address. Redis being down fails open.
func RedisRateLimit(rdb *rd.Client, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var key string
			if token := r.URL.Query().Get("token"); token != "" {
				key = "rate_limit:action:token:" + token
			} else {
				key = "rate_limit:action:ip:" + r.RemoteAddr
			}

			now := time.Now().Unix()
			windowSec := int64(window.Seconds())
			member := fmt.Sprintf("%d-%d", now, time.Now().UnixNano())

			res, err := rdb.Eval(r.Context(), luaRateLimit, []string{key},
				now, now-windowSec, windowSec, member, limit).Int()
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if res < 0 {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte("<html><body><p>Too many requests. Please wait a moment and follow the link again.</p></body></html>"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
