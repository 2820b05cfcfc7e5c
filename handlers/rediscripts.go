package handlers

import (
	"context"

	"github.com/go-redis/redis/v8"
)

// RediScripts contains the custom redis scripts the cache uses for
// bulk key removal.
type RediScripts struct{}

// ClearKeys clears every redis key matching pattern. It walks the
// keyspace with SCAN in batches of 64 rather than KEYS; the whole walk
// runs inside a single EVAL, so redis serves no other command until it
// finishes.
func (*RediScripts) ClearKeys(ctx context.Context, client *redis.Client, pattern string) (result int64, err error) {
	if res, err := client.Eval(
		ctx,
		`local count, cursor = 0, "0"
		while true do
			local req = redis.call("SCAN", cursor, "MATCH", ARGV[1], "COUNT", ARGV[2])
			if #req[2] > 0 then redis.call("DEL", unpack(req[2])) end
			count, cursor = count + #req[2], req[1]
			if cursor == "0" then break end
		end
		return count`,
		[]string{},
		pattern,
		64,
	).Result(); err == nil {
		result = res.(int64)
	} else {
		return 0, err
	}
	return result, nil
}
