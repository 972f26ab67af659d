package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-round-service/internal/domain"
)

// SubmissionStore keeps pending selections in Redis so several API instances can
// accept toggles for the same question. Keys share the {questionID} hash tag:
//
//	quiz:sub:{q}:sealed          set once the question is finalized
//	quiz:sub:{q}:index           participants with a pending selection
//	quiz:sub:{q}:p:<participant> the participant's selected options
//	quiz:sub:{q}:drained         members drained by Finalize, until Settle
//	quiz:sub:{q}:d:<participant> the drained options of one member
type SubmissionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSubmissionStore(client *redis.Client, ttl time.Duration) *SubmissionStore {
	return &SubmissionStore{client: client, ttl: ttl}
}

const closedReply = "QUESTION_CLOSED"

var toggleScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return redis.error_reply('QUESTION_CLOSED')
end
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then
  redis.call('SREM', KEYS[2], ARGV[1])
  if redis.call('SCARD', KEYS[2]) == 0 then
    redis.call('SREM', KEYS[3], ARGV[2])
  end
else
  redis.call('SADD', KEYS[2], ARGV[1])
  redis.call('SADD', KEYS[3], ARGV[2])
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[2], ttl)
  redis.call('PEXPIRE', KEYS[3], ttl)
end
return redis.call('SMEMBERS', KEYS[2])
`)

// finalizeScript seals the question and drains every pending key into a
// snapshot that survives until settleScript runs. KEYS[4..] are the member keys
// and ARGV[4..] the matching member ids, in the order results are returned.
// The reply is {flag, id, options, id, options, ...}; flag 0 means the snapshot
// of an earlier run is returned.
var finalizeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  local out = {0}
  for _, id in ipairs(redis.call('LRANGE', KEYS[3], 0, -1)) do
    out[#out + 1] = id
    out[#out + 1] = redis.call('SMEMBERS', ARGV[3] .. id)
  end
  return out
end
local ttl = tonumber(ARGV[2])
redis.call('SET', KEYS[1], '1')
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
redis.call('DEL', KEYS[3])
local out = {1}
for i = 4, #KEYS do
  local id = ARGV[i]
  local opts = redis.call('SMEMBERS', KEYS[i])
  out[#out + 1] = id
  out[#out + 1] = opts
  redis.call('RPUSH', KEYS[3], id)
  local snap = ARGV[3] .. id
  redis.call('DEL', snap)
  if #opts > 0 then
    redis.call('SADD', snap, unpack(opts))
    if ttl > 0 then
      redis.call('PEXPIRE', snap, ttl)
    end
  end
end
if ttl > 0 and #KEYS > 3 then
  redis.call('PEXPIRE', KEYS[3], ttl)
end
for _, id in ipairs(redis.call('SMEMBERS', KEYS[2])) do
  redis.call('DEL', ARGV[1] .. id)
end
for i = 4, #KEYS do
  redis.call('DEL', KEYS[i])
end
redis.call('DEL', KEYS[2])
return out
`)

var settleScript = redis.NewScript(`
for _, id in ipairs(redis.call('LRANGE', KEYS[1], 0, -1)) do
  redis.call('DEL', ARGV[1] .. id)
end
redis.call('DEL', KEYS[1])
return 1
`)

func (s *SubmissionStore) Toggle(ctx context.Context, participantID, questionID, option string) ([]string, error) {
	keys := []string{s.sealedKey(questionID), s.participantKey(questionID, participantID), s.indexKey(questionID)}
	res, err := toggleScript.Run(ctx, s.client, keys, option, participantID, s.ttl.Milliseconds()).StringSlice()
	if err != nil {
		if strings.Contains(err.Error(), closedReply) {
			return nil, domain.ErrQuestionClosed
		}
		return nil, fmt.Errorf("toggle selection: %w", err)
	}
	sort.Strings(res)
	return res, nil
}

func (s *SubmissionStore) Pending(ctx context.Context, participantID, questionID string) ([]string, error) {
	res, err := s.client.SMembers(ctx, s.participantKey(questionID, participantID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	sort.Strings(res)
	return res, nil
}

func (s *SubmissionStore) Finalize(ctx context.Context, questionID string, members []string) ([]domain.Selection, error) {
	unique := make([]string, 0, len(members))
	seen := make(map[string]struct{}, len(members))
	for _, id := range members {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	keys := make([]string, 0, len(unique)+3)
	keys = append(keys, s.sealedKey(questionID), s.indexKey(questionID), s.drainedKey(questionID))
	args := make([]interface{}, 0, len(unique)+3)
	args = append(args, s.participantKey(questionID, ""), s.ttl.Milliseconds(), s.snapshotKey(questionID, ""))
	for _, id := range unique {
		keys = append(keys, s.participantKey(questionID, id))
		args = append(args, id)
	}
	raw, err := finalizeScript.Run(ctx, s.client, keys, args...).Slice()
	if err != nil {
		return nil, fmt.Errorf("finalize selections: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("finalize selections: empty reply")
	}

	out := make([]domain.Selection, 0, (len(raw)-1)/2)
	for i := 1; i+1 < len(raw); i += 2 {
		id, _ := raw[i].(string)
		options := []string{}
		if items, ok := raw[i+1].([]interface{}); ok {
			for _, item := range items {
				if str, ok := item.(string); ok {
					options = append(options, str)
				}
			}
		}
		sort.Strings(options)
		out = append(out, domain.Selection{ParticipantID: id, Options: options})
	}
	return out, nil
}

// Settle drops the drained snapshot. The sealed marker stays.
func (s *SubmissionStore) Settle(ctx context.Context, questionID string) error {
	keys := []string{s.drainedKey(questionID)}
	if err := settleScript.Run(ctx, s.client, keys, s.snapshotKey(questionID, "")).Err(); err != nil {
		return fmt.Errorf("settle selections: %w", err)
	}
	return nil
}

// Restore reopens a sealed question and puts drained selections back atomically.
func (s *SubmissionStore) Restore(ctx context.Context, questionID string, selections []domain.Selection) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.sealedKey(questionID))
		for _, sel := range selections {
			if len(sel.Options) == 0 {
				continue
			}
			members := make([]interface{}, len(sel.Options))
			for i, o := range sel.Options {
				members[i] = o
			}
			key := s.participantKey(questionID, sel.ParticipantID)
			pipe.SAdd(ctx, key, members...)
			pipe.SAdd(ctx, s.indexKey(questionID), sel.ParticipantID)
			if s.ttl > 0 {
				pipe.PExpire(ctx, key, s.ttl)
				pipe.PExpire(ctx, s.indexKey(questionID), s.ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("restore selections: %w", err)
	}
	return s.Settle(ctx, questionID)
}

func (s *SubmissionStore) sealedKey(questionID string) string {
	return "quiz:sub:{" + questionID + "}:sealed"
}

func (s *SubmissionStore) indexKey(questionID string) string {
	return "quiz:sub:{" + questionID + "}:index"
}

func (s *SubmissionStore) drainedKey(questionID string) string {
	return "quiz:sub:{" + questionID + "}:drained"
}

func (s *SubmissionStore) snapshotKey(questionID, participantID string) string {
	return "quiz:sub:{" + questionID + "}:d:" + participantID
}

func (s *SubmissionStore) participantKey(questionID, participantID string) string {
	return "quiz:sub:{" + questionID + "}:p:" + participantID
}
