package redis

const (
	// upsertRecordsScript writes a batch of usage records and indexes them
	// by timestamp. Same (timestamp, process) pairs overwrite.
	upsertRecordsScript = `
local index_key = KEYS[1]       -- gametimer:usage:index
local record_prefix = ARGV[1]   -- gametimer:usage:rec:

local written = 0
for i = 2, #ARGV, 3 do
  local ts = ARGV[i]
  local name = ARGV[i + 1]
  local duration = ARGV[i + 2]
  local member = ts .. ':' .. name

  redis.call('HSET', record_prefix .. member,
    'timestamp', ts,
    'process_name', name,
    'duration_seconds', duration
  )
  redis.call('ZADD', index_key, tonumber(ts), member)
  written = written + 1
end

return written
`

	// deleteRecordsBeforeScript drops every record scored below the cutoff.
	deleteRecordsBeforeScript = `
local index_key = KEYS[1]       -- gametimer:usage:index
local record_prefix = ARGV[1]   -- gametimer:usage:rec:
local cutoff = ARGV[2]

local members = redis.call('ZRANGEBYSCORE', index_key, '-inf', '(' .. cutoff)
for _, member in ipairs(members) do
  redis.call('DEL', record_prefix .. member)
end
if #members > 0 then
  redis.call('ZREMRANGEBYSCORE', index_key, '-inf', '(' .. cutoff)
end

return #members
`
)
