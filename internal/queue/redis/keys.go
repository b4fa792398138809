package redis

// Key layout, all under the configured prefix (default "shotfire:"):
//   {prefix}queue:main     LIST of job ids, RPUSH / BLPOP
//   {prefix}queue:delayed  ZSET of job ids scored by execute-at unix millis

func mainKey(prefix string) string { return prefix + "queue:main" }

func delayedKey(prefix string) string { return prefix + "queue:delayed" }
