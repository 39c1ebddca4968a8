package task

import "github.com/redis/go-redis/v9"

// trimFn removes the oldest entries of a retention set beyond keep, deleting
// their job hashes and locks. keep <= 0 keeps everything.
const trimFn = `
local function trim(setKey, keep, jobPrefix)
	if keep <= 0 then return end
	local excess = redis.call("ZCARD", setKey) - keep
	if excess <= 0 then return end
	local old = redis.call("ZRANGE", setKey, 0, excess - 1)
	for _, id in ipairs(old) do
		redis.call("DEL", jobPrefix .. id, jobPrefix .. id .. ":lock")
	end
	redis.call("ZREMRANGEBYRANK", setKey, 0, excess - 1)
end
`

// moveToActiveScript claims a job popped onto the active list.
// KEYS: job, active, lock. ARGV: id, token, lockMs, nowMs.
// Returns 0 when the job was removed before the worker claimed it.
var moveToActiveScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	redis.call("LREM", KEYS[2], 0, ARGV[1])
	return 0
end
redis.call("HSET", KEYS[1], "state", "active", "processedOn", ARGV[4])
redis.call("SET", KEYS[3], ARGV[2], "PX", ARGV[3])
return 1
`)

// completeScript settles a job as completed.
// KEYS: job, active, completed, lock. ARGV: id, token, returnvalue, nowMs, keep, jobPrefix.
// Returns -1 when the worker no longer holds the lock.
var completeScript = redis.NewScript(trimFn + `
if redis.call("GET", KEYS[4]) ~= ARGV[2] then
	return -1
end
redis.call("LREM", KEYS[2], 0, ARGV[1])
redis.call("DEL", KEYS[4])
redis.call("HINCRBY", KEYS[1], "attemptsMade", 1)
redis.call("HSET", KEYS[1], "state", "completed", "returnvalue", ARGV[3], "finishedOn", ARGV[4])
redis.call("ZADD", KEYS[3], ARGV[4], ARGV[1])
trim(KEYS[3], tonumber(ARGV[5]), ARGV[6])
return 1
`)

// failScript either schedules a retry or settles a job as failed.
// KEYS: job, active, delayed, failed, lock.
// ARGV: id, token, reason, nowMs, retry (1|0), delayMs, keep, jobPrefix.
// Returns 1 for a scheduled retry, 2 for a terminal failure, -1 for a lost lock.
var failScript = redis.NewScript(trimFn + `
if redis.call("GET", KEYS[5]) ~= ARGV[2] then
	return -1
end
redis.call("LREM", KEYS[2], 0, ARGV[1])
redis.call("DEL", KEYS[5])
redis.call("HINCRBY", KEYS[1], "attemptsMade", 1)
if ARGV[5] == "1" then
	redis.call("HSET", KEYS[1], "state", "delayed", "failedReason", ARGV[3])
	redis.call("ZADD", KEYS[3], tonumber(ARGV[4]) + tonumber(ARGV[6]), ARGV[1])
	return 1
end
redis.call("HSET", KEYS[1], "state", "failed", "failedReason", ARGV[3], "finishedOn", ARGV[4])
redis.call("ZADD", KEYS[4], ARGV[4], ARGV[1])
trim(KEYS[4], tonumber(ARGV[7]), ARGV[8])
return 2
`)

// removeScript deletes a job that has not started executing.
// KEYS: job, wait, delayed. ARGV: id.
// Returns {removed (1|0), state}.
var removeScript = redis.NewScript(`
local state = redis.call("HGET", KEYS[1], "state")
if not state then
	return {0, ""}
end
if state == "waiting" or state == "delayed" or state == "paused"
	or state == "prioritized" or state == "waiting-children" then
	redis.call("LREM", KEYS[2], 0, ARGV[1])
	redis.call("ZREM", KEYS[3], ARGV[1])
	redis.call("DEL", KEYS[1])
	return {1, state}
end
return {0, state}
`)

// promoteScript moves due delayed jobs to the wait list.
// KEYS: delayed, wait. ARGV: nowMs, jobPrefix, limit.
var promoteScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[3]))
for _, id in ipairs(ids) do
	redis.call("ZREM", KEYS[1], id)
	redis.call("HSET", ARGV[2] .. id, "state", "waiting")
	redis.call("LPUSH", KEYS[2], id)
end
return ids
`)

// stalledScript returns jobs whose lock lapsed to the head of the wait list.
// A job popped but not yet claimed is only moved if it is still unclaimed on
// the following check.
// KEYS: active, wait, stalled candidates. ARGV: jobPrefix.
var stalledScript = redis.NewScript(`
local previous = {}
for _, id in ipairs(redis.call("SMEMBERS", KEYS[3])) do
	previous[id] = true
end
redis.call("DEL", KEYS[3])
local moved = {}
for _, id in ipairs(redis.call("LRANGE", KEYS[1], 0, -1)) do
	local jobKey = ARGV[1] .. id
	if redis.call("EXISTS", jobKey .. ":lock") == 0 then
		local state = redis.call("HGET", jobKey, "state")
		if not state then
			redis.call("LREM", KEYS[1], 0, id)
		elseif state == "active" or previous[id] then
			redis.call("LREM", KEYS[1], 0, id)
			redis.call("HSET", jobKey, "state", "waiting")
			redis.call("RPUSH", KEYS[2], id)
			table.insert(moved, id)
		else
			redis.call("SADD", KEYS[3], id)
		end
	end
end
return moved
`)

// extendLockScript renews a lock the caller still owns.
// KEYS: lock. ARGV: token, lockMs.
var extendLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseLockScript drops a lock the caller still owns.
// KEYS: lock. ARGV: token.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// updateProgressScript stores progress on a job that still exists.
// KEYS: job. ARGV: progress.
var updateProgressScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
redis.call("HSET", KEYS[1], "progress", ARGV[1])
return 1
`)
