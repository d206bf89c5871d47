package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/DoNewsCode/core/contract"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// metaTTL is how long progress and logs of a finished job are kept.
const metaTTL = 24 * time.Hour

// markerTTL bounds the life of a dedupe marker past the job's due time, so a
// marker orphaned by a crash cannot block its id forever.
const markerTTL = 7 * 24 * time.Hour

// popScript promotes due delayed jobs, then reserves the head of the waiting
// list until now + the job's handle timeout.
var popScript = redis.NewScript(`
if redis.call('exists', KEYS[4]) == 1 then
  return false
end
local now = tonumber(ARGV[1])
local due = redis.call('zrangebyscore', KEYS[2], '-inf', now, 'limit', 0, 100)
for i = 1, #due do
  redis.call('zrem', KEYS[2], due[i])
  redis.call('rpush', KEYS[1], due[i])
end
local job = redis.call('lpop', KEYS[1])
if not job then
  return false
end
local decoded = cjson.decode(job)
local timeout = math.floor((decoded['HandleTimeout'] or 0) / 1000000)
if timeout <= 0 then
  timeout = tonumber(ARGV[2])
end
redis.call('zadd', KEYS[3], now + timeout, job)
return job
`)

// stalledScript moves reservations past their deadline to KEYS[2]. When
// ARGV[2] is set the dedupe markers of the moved jobs are dropped, with
// ARGV[2] as the per-job key prefix.
var stalledScript = redis.NewScript(`
local expired = redis.call('zrangebyscore', KEYS[1], '-inf', ARGV[1])
for i = 1, #expired do
  redis.call('zrem', KEYS[1], expired[i])
  redis.call('rpush', KEYS[2], expired[i])
  if ARGV[2] ~= '' then
    local ok, decoded = pcall(cjson.decode, expired[i])
    if ok and type(decoded) == 'table' and decoded['UniqueId'] then
      redis.call('del', ARGV[2] .. decoded['UniqueId'] .. ':queued')
    end
  end
end
return #expired
`)

// flushScript deletes a list (ARGV[2] == 'list') or sorted set together with
// the dedupe markers of its members. ARGV[1] is the per-job key prefix.
var flushScript = redis.NewScript(`
local jobs
if ARGV[2] == 'list' then
  jobs = redis.call('lrange', KEYS[1], 0, -1)
else
  jobs = redis.call('zrange', KEYS[1], 0, -1)
end
for i = 1, #jobs do
  local ok, decoded = pcall(cjson.decode, jobs[i])
  if ok and type(decoded) == 'table' and decoded['UniqueId'] then
    redis.call('del', ARGV[1] .. decoded['UniqueId'] .. ':queued')
  end
end
redis.call('del', KEYS[1])
return #jobs
`)

// reloadListScript moves a whole list to the waiting list.
var reloadListScript = redis.NewScript(`
local jobs = redis.call('lrange', KEYS[1], 0, -1)
for i = 1, #jobs do
  redis.call('rpush', KEYS[2], jobs[i])
end
redis.call('del', KEYS[1])
return #jobs
`)

// reloadSetScript moves a whole sorted set to the waiting list.
var reloadSetScript = redis.NewScript(`
local jobs = redis.call('zrange', KEYS[1], 0, -1)
for i = 1, #jobs do
  redis.call('rpush', KEYS[2], jobs[i])
end
redis.call('del', KEYS[1])
return #jobs
`)

// RedisDriver implements Driver with Redis lists and sorted sets.
type RedisDriver struct {
	Logger        log.Logger
	RedisClient   redis.UniversalClient
	ChannelConfig ChannelConfig
	// PopTimeout is how long Pop waits before reporting ErrEmpty.
	PopTimeout time.Duration
	// DefaultHandleTimeout reserves jobs that carry no timeout.
	DefaultHandleTimeout time.Duration
	Packer               contract.Codec
}

func (r *RedisDriver) populateDefaults() {
	if r.Logger == nil {
		r.Logger = log.NewNopLogger()
	}
	if r.PopTimeout == 0 {
		r.PopTimeout = 500 * time.Millisecond
	}
	if r.DefaultHandleTimeout == 0 {
		r.DefaultHandleTimeout = defaultHandleTimeout
	}
	if r.Packer == nil {
		r.Packer = jsonCodec{}
	}
}

// NextID implements Driver.
func (r *RedisDriver) NextID(ctx context.Context) (string, error) {
	id, err := r.RedisClient.Incr(ctx, r.ChannelConfig.ID).Result()
	if err != nil {
		return "", errors.Wrap(err, "failed to allocate job id")
	}
	return strconv.FormatInt(id, 10), nil
}

// Push implements Driver.
func (r *RedisDriver) Push(ctx context.Context, message *PersistedJob, delay time.Duration) error {
	r.populateDefaults()
	ok, err := r.RedisClient.SetNX(ctx, r.dedupeKey(message.UniqueId), 1, delay+markerTTL).Result()
	if err != nil {
		return errors.Wrap(err, "failed to reserve job id")
	}
	if !ok {
		return ErrDuplicateJob
	}
	data, err := r.Packer.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal job")
	}
	if delay > 0 {
		return r.RedisClient.ZAdd(ctx, r.ChannelConfig.Delayed, &redis.Z{
			Score:  float64(time.Now().Add(delay).UnixMilli()),
			Member: data,
		}).Err()
	}
	return r.RedisClient.RPush(ctx, r.ChannelConfig.Waiting, data).Err()
}

// Pop implements Driver.
func (r *RedisDriver) Pop(ctx context.Context) (*PersistedJob, error) {
	r.populateDefaults()
	res, err := popScript.Run(
		ctx,
		r.RedisClient,
		[]string{r.ChannelConfig.Waiting, r.ChannelConfig.Delayed, r.ChannelConfig.Reserved, r.ChannelConfig.Paused},
		time.Now().UnixMilli(),
		r.DefaultHandleTimeout.Milliseconds(),
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil, r.wait(ctx)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to pop job")
	}
	raw, ok := res.(string)
	if !ok {
		return nil, r.wait(ctx)
	}
	var message PersistedJob
	if err := r.Packer.Unmarshal([]byte(raw), &message); err != nil {
		_ = level.Error(r.Logger).Log("msg", "dropping undecodable job", "err", err)
		r.RedisClient.ZRem(ctx, r.ChannelConfig.Reserved, raw)
		r.RedisClient.RPush(ctx, r.ChannelConfig.Failed, raw)
		return nil, ErrEmpty
	}
	message.raw = raw
	return &message, nil
}

func (r *RedisDriver) wait(ctx context.Context) error {
	timer := time.NewTimer(r.PopTimeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		return ErrEmpty
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ack implements Driver.
func (r *RedisDriver) Ack(ctx context.Context, message *PersistedJob) error {
	pipe := r.RedisClient.TxPipeline()
	pipe.ZRem(ctx, r.ChannelConfig.Reserved, message.raw)
	pipe.Incr(ctx, r.ChannelConfig.Completed)
	pipe.Del(ctx, r.dedupeKey(message.UniqueId))
	pipe.Expire(ctx, r.metaKey(message.UniqueId), metaTTL)
	pipe.Expire(ctx, r.logsKey(message.UniqueId), metaTTL)
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "failed to ack job")
}

// Retry implements Driver.
func (r *RedisDriver) Retry(ctx context.Context, message *PersistedJob, delay time.Duration) error {
	r.populateDefaults()
	raw := message.raw
	message.Attempts++
	data, err := r.Packer.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal job")
	}
	pipe := r.RedisClient.TxPipeline()
	pipe.ZRem(ctx, r.ChannelConfig.Reserved, raw)
	if delay > 0 {
		pipe.ZAdd(ctx, r.ChannelConfig.Delayed, &redis.Z{
			Score:  float64(time.Now().Add(delay).UnixMilli()),
			Member: data,
		})
	} else {
		pipe.RPush(ctx, r.ChannelConfig.Waiting, data)
	}
	pipe.Expire(ctx, r.dedupeKey(message.UniqueId), delay+markerTTL)
	_, err = pipe.Exec(ctx)
	return errors.Wrap(err, "failed to retry job")
}

// Fail implements Driver.
func (r *RedisDriver) Fail(ctx context.Context, message *PersistedJob) error {
	raw := message.raw
	if raw == "" {
		data, err := r.Packer.Marshal(message)
		if err != nil {
			return errors.Wrap(err, "failed to marshal job")
		}
		raw = string(data)
	}
	pipe := r.RedisClient.TxPipeline()
	pipe.ZRem(ctx, r.ChannelConfig.Reserved, raw)
	pipe.RPush(ctx, r.ChannelConfig.Failed, raw)
	pipe.Del(ctx, r.dedupeKey(message.UniqueId))
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "failed to fail job")
}

// Info implements Driver.
func (r *RedisDriver) Info(ctx context.Context) (QueueInfo, error) {
	pipe := r.RedisClient.Pipeline()
	waiting := pipe.LLen(ctx, r.ChannelConfig.Waiting)
	active := pipe.ZCard(ctx, r.ChannelConfig.Reserved)
	completed := pipe.Get(ctx, r.ChannelConfig.Completed)
	failed := pipe.LLen(ctx, r.ChannelConfig.Failed)
	delayed := pipe.ZCard(ctx, r.ChannelConfig.Delayed)
	paused := pipe.Exists(ctx, r.ChannelConfig.Paused)
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return QueueInfo{}, errors.Wrap(err, "failed to read queue info")
	}
	completedCount, _ := completed.Int64()
	return QueueInfo{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: completedCount,
		Failed:    failed.Val(),
		Delayed:   delayed.Val(),
		Paused:    paused.Val() == 1,
	}, nil
}

// Pause implements Driver.
func (r *RedisDriver) Pause(ctx context.Context) error {
	return r.RedisClient.Set(ctx, r.ChannelConfig.Paused, 1, 0).Err()
}

// Resume implements Driver.
func (r *RedisDriver) Resume(ctx context.Context) error {
	return r.RedisClient.Del(ctx, r.ChannelConfig.Paused).Err()
}

// Progress implements Driver.
func (r *RedisDriver) Progress(ctx context.Context, id string, progress int) error {
	return r.RedisClient.HSet(ctx, r.metaKey(id), "progress", progress).Err()
}

// Log implements Driver.
func (r *RedisDriver) Log(ctx context.Context, id string, line string) error {
	return r.RedisClient.RPush(ctx, r.logsKey(id), line).Err()
}

// Flush implements Driver. The ids of the dropped jobs become free again.
func (r *RedisDriver) Flush(ctx context.Context, channel string) error {
	key, ok := r.ChannelConfig.byName(channel)
	if !ok {
		return errors.Errorf("unknown channel %s", channel)
	}
	kind := "zset"
	if key == r.ChannelConfig.Waiting || key == r.ChannelConfig.Failed {
		kind = "list"
	}
	err := flushScript.Run(ctx, r.RedisClient, []string{key}, r.ChannelConfig.Meta, kind).Err()
	return errors.Wrapf(err, "failed to flush %s", channel)
}

// Reload implements Driver.
func (r *RedisDriver) Reload(ctx context.Context, channel string) (int64, error) {
	key, ok := r.ChannelConfig.byName(channel)
	if !ok || key == r.ChannelConfig.Waiting {
		return 0, errors.Errorf("channel %s cannot be reloaded", channel)
	}
	script := reloadSetScript
	if key == r.ChannelConfig.Failed {
		script = reloadListScript
	}
	num, err := script.Run(ctx, r.RedisClient, []string{key, r.ChannelConfig.Waiting}).Int64()
	if err != nil {
		return 0, errors.Wrapf(err, "failed to reload %s", channel)
	}
	return num, nil
}

// RecoverStalled implements Driver.
func (r *RedisDriver) RecoverStalled(ctx context.Context, requeue bool) (int64, error) {
	target, prefix := r.ChannelConfig.Waiting, ""
	if !requeue {
		target, prefix = r.ChannelConfig.Failed, r.ChannelConfig.Meta
	}
	num, err := stalledScript.Run(
		ctx,
		r.RedisClient,
		[]string{r.ChannelConfig.Reserved, target},
		time.Now().UnixMilli(),
		prefix,
	).Int64()
	if err != nil {
		return 0, errors.Wrap(err, "failed to recover stalled jobs")
	}
	return num, nil
}

// AddRepeatable implements Driver.
func (r *RedisDriver) AddRepeatable(ctx context.Context, spec RepeatSpec) (bool, error) {
	r.populateDefaults()
	data, err := r.Packer.Marshal(spec)
	if err != nil {
		return false, errors.Wrap(err, "failed to marshal repeat spec")
	}
	return r.RedisClient.HSetNX(ctx, r.ChannelConfig.Repeat, spec.Key, data).Result()
}

// Repeatables implements Driver.
func (r *RedisDriver) Repeatables(ctx context.Context) ([]RepeatSpec, error) {
	r.populateDefaults()
	all, err := r.RedisClient.HGetAll(ctx, r.ChannelConfig.Repeat).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list repeat specs")
	}
	specs := make([]RepeatSpec, 0, len(all))
	for _, v := range all {
		var spec RepeatSpec
		if err := r.Packer.Unmarshal([]byte(v), &spec); err != nil {
			return nil, errors.Wrap(err, "failed to decode repeat spec")
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (r *RedisDriver) metaKey(id string) string {
	return r.ChannelConfig.Meta + id
}

func (r *RedisDriver) logsKey(id string) string {
	return r.ChannelConfig.Meta + id + ":logs"
}

func (r *RedisDriver) dedupeKey(id string) string {
	return r.ChannelConfig.Meta + id + ":queued"
}
