package redis

const (
	// createSessionScript atomically writes a session and its indexes
	createSessionScript = `
local session_key = KEYS[1]     -- {prefix}:session:{id}
local active_set = KEYS[2]      -- {prefix}:sessions:active
local group_set = KEYS[3]       -- {prefix}:sessions:group:{group}
local subject_set = KEYS[4]     -- {prefix}:sessions:group:{group}:subject:{subject}
local teacher_set = KEYS[5]     -- {prefix}:teacher:{teacher}:assignments

local id = ARGV[1]

if redis.call('EXISTS', session_key) == 1 then
  return 0
end

redis.call('HSET', session_key,
  'id', id,
  'group_id', ARGV[2],
  'subject_id', ARGV[3],
  'teacher_id', ARGV[4],
  'name', ARGV[5],
  'date', ARGV[6],
  'created_at', ARGV[7],
  'last_renewed_at', ARGV[8],
  'active', '1'
)

redis.call('SADD', active_set, id)
redis.call('SADD', group_set, id)
redis.call('SADD', subject_set, id)
if ARGV[4] ~= '' then
  redis.call('SADD', teacher_set, ARGV[2] .. ':' .. ARGV[3])
end

return 1
`

	// renewSessionScript advances last_renewed_at, never moving it backwards
	renewSessionScript = `
local session_key = KEYS[1]     -- {prefix}:session:{id}
local renewed_at = tonumber(ARGV[1])

if redis.call('EXISTS', session_key) == 0 then
  return 0
end

local current = tonumber(redis.call('HGET', session_key, 'last_renewed_at'))
if current == nil or renewed_at > current then
  redis.call('HSET', session_key, 'last_renewed_at', ARGV[1])
end

return 1
`

	// deactivateSessionScript clears the active flag and drops the session from
	// the active index
	deactivateSessionScript = `
local session_key = KEYS[1]     -- {prefix}:session:{id}
local active_set = KEYS[2]      -- {prefix}:sessions:active

if redis.call('EXISTS', session_key) == 0 then
  return 0
end

redis.call('HSET', session_key, 'active', '0')
redis.call('SREM', active_set, ARGV[1])

return 1
`

	// recordAttendanceScript inserts an attendance event unless one already
	// exists for the (session, student) pair
	recordAttendanceScript = `
local event_key = KEYS[1]       -- {prefix}:attendance:{session}:{student}
local student_set = KEYS[2]     -- {prefix}:attendance:student:{student}
local session_set = KEYS[3]     -- {prefix}:attendance:session:{session}

if redis.call('EXISTS', event_key) == 1 then
  return 0
end

redis.call('HSET', event_key,
  'student_id', ARGV[1],
  'session_id', ARGV[2],
  'subject_id', ARGV[3],
  'date', ARGV[4],
  'time', ARGV[5],
  'status', ARGV[6],
  'marked_at', ARGV[7]
)

redis.call('SADD', student_set, ARGV[2])
redis.call('SADD', session_set, ARGV[1])

return 1
`

	// markAttendanceScript inserts or overwrites an attendance event and
	// returns 1 when the event is new
	markAttendanceScript = `
local event_key = KEYS[1]       -- {prefix}:attendance:{session}:{student}
local student_set = KEYS[2]     -- {prefix}:attendance:student:{student}
local session_set = KEYS[3]     -- {prefix}:attendance:session:{session}

local existed = redis.call('EXISTS', event_key)

redis.call('HSET', event_key,
  'student_id', ARGV[1],
  'session_id', ARGV[2],
  'subject_id', ARGV[3],
  'date', ARGV[4],
  'time', ARGV[5],
  'status', ARGV[6],
  'marked_at', ARGV[7]
)

redis.call('SADD', student_set, ARGV[2])
redis.call('SADD', session_set, ARGV[1])

if existed == 1 then
  return 0
end
return 1
`

	// upsertStudentScript writes a roster entry and moves it between group
	// indexes when the group changes
	upsertStudentScript = `
local student_key = KEYS[1]     -- {prefix}:student:{id}
local group_set = KEYS[2]       -- {prefix}:students:group:{group}
local prefix = ARGV[5]

local previous_group = redis.call('HGET', student_key, 'group_id')
if previous_group and previous_group ~= ARGV[3] then
  redis.call('SREM', prefix .. ':students:group:' .. previous_group, ARGV[1])
end

redis.call('HSET', student_key,
  'id', ARGV[1],
  'name', ARGV[2],
  'group_id', ARGV[3],
  'subjects', ARGV[4]
)

redis.call('SADD', group_set, ARGV[1])

return 'OK'
`
)
