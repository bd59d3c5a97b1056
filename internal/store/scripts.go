package store

import "github.com/redis/go-redis/v9"

// recordUploadScript claims a content hash and writes the file metadata in one
// step, so two workers uploading the same bytes can never both create a record.
// When the hash is already known, the existing file is linked to the user.
//
// KEYS: global hashes, global hash->uuid, user hash->uuid, file_meta, user set, user list
// ARGV: hash, file uuid, original filename, upload time, owner, ext
// Returns {is_new, file_uuid}.
var recordUploadScript = redis.NewScript(`
local hash = ARGV[1]
if redis.call('SADD', KEYS[1], hash) == 1 then
  redis.call('HSET', KEYS[2], hash, ARGV[2])
  redis.call('HSET', KEYS[3], hash, ARGV[2])
  redis.call('HSET', KEYS[4],
    'original_filename', ARGV[3],
    'upload_time', ARGV[4],
    'content_hash', hash,
    'owner', ARGV[5],
    'ext', ARGV[6])
  if redis.call('SADD', KEYS[5], ARGV[2]) == 1 then
    redis.call('RPUSH', KEYS[6], ARGV[2])
  end
  return {1, ARGV[2]}
end

local existing = redis.call('HGET', KEYS[2], hash)
if not existing then
  return {0, ''}
end
redis.call('HSET', KEYS[3], hash, existing)
if redis.call('SADD', KEYS[5], existing) == 1 then
  redis.call('RPUSH', KEYS[6], existing)
end
return {0, existing}
`)

// forgetUploadScript undoes recordUploadScript for a file whose bytes could not
// be stored. It only acts while the hash still points at that file.
//
// KEYS: global hashes, global hash->uuid, user hash->uuid, file_meta, user set, user list
// ARGV: hash, file uuid
var forgetUploadScript = redis.NewScript(`
if redis.call('HGET', KEYS[2], ARGV[1]) ~= ARGV[2] then
  return 0
end
redis.call('SREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('DEL', KEYS[4])
redis.call('SREM', KEYS[5], ARGV[2])
redis.call('LREM', KEYS[6], 0, ARGV[2])
return 1
`)

// mintShareTokenScript returns the token already minted for a target, or
// stores the candidate in both directions. A nil reply means the candidate is
// taken by another target and the caller should retry with a new one.
//
// KEYS: target->token, token->target, placeholder set
// ARGV: target, candidate token, placeholder flag ("1" or "0")
var mintShareTokenScript = redis.NewScript(`
local existing = redis.call('HGET', KEYS[1], ARGV[1])
if existing then
  return existing
end
if redis.call('HSETNX', KEYS[2], ARGV[2], ARGV[1]) == 0 then
  return false
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
if ARGV[3] == '1' then
  redis.call('SADD', KEYS[3], ARGV[2])
end
return ARGV[2]
`)
