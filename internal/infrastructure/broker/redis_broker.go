package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smilemakc/aidecore/internal/domain/aide"
)

// RedisBroker implements Broker on top of go-redis, the same driver the
// rest of this module uses for caching. Celery's own Redis transport keys
// its queues as plain lists and its results as short-lived strings; this
// implementation follows the same shape so a companion AIWorker process
// speaking the wire format could interoperate.
type RedisBroker struct {
	client    *redis.Client
	resultTTL time.Duration
}

// NewRedisBroker wraps an existing client. resultTTL bounds how long a
// terminal task's status/result survives before expiring, mirroring
// Celery's result_expires setting.
func NewRedisBroker(client *redis.Client, resultTTL time.Duration) *RedisBroker {
	if resultTTL <= 0 {
		resultTTL = 24 * time.Hour
	}
	return &RedisBroker{client: client, resultTTL: resultTTL}
}

type envelope struct {
	TaskID string         `json:"task_id"`
	Name   string         `json:"name"`
	Args   map[string]any `json:"args"`
}

func queueKey(queue string) string         { return "aide:queue:" + queue }
func statusKey(taskID string) string       { return "aide:status:" + taskID }
func revokedKey(taskID string) string      { return "aide:revoked:" + taskID }
func workersOnlineKey(queue string) string { return "aide:workers:" + queue + ":online" }
func workersActiveKey(queue string) string { return "aide:workers:" + queue + ":active" }

func (b *RedisBroker) Submit(ctx context.Context, sub Submission) error {
	env := envelope{TaskID: sub.TaskID, Name: sub.Name, Args: sub.Args}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: encode task: %v", aide.ErrBrokerUnavailable, err)
	}

	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, statusKey(sub.TaskID),
		"state", string(StatePending),
		"queue", sub.Queue,
		"name", sub.Name,
	)
	pipe.Expire(ctx, statusKey(sub.TaskID), b.resultTTL)
	if sub.Countdown > 0 {
		pipe.ZAdd(ctx, queueKey(sub.Queue)+":delayed", redis.Z{
			Score:  float64(time.Now().Add(sub.Countdown).Unix()),
			Member: payload,
		})
	} else {
		pipe.RPush(ctx, queueKey(sub.Queue), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", aide.ErrBrokerUnavailable, err)
	}
	return nil
}

func (b *RedisBroker) Status(ctx context.Context, taskID string) (*TaskStatus, error) {
	vals, err := b.client.HGetAll(ctx, statusKey(taskID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", aide.ErrBrokerUnavailable, err)
	}
	if len(vals) == 0 {
		return nil, ErrNotFound
	}

	st := &TaskStatus{TaskID: taskID, State: TaskState(vals["state"])}
	if raw, ok := vals["result"]; ok && raw != "" {
		var result map[string]any
		if err := json.Unmarshal([]byte(raw), &result); err == nil {
			st.Result = result
		}
	}
	st.Error = vals["error"]
	return st, nil
}

func (b *RedisBroker) Revoke(ctx context.Context, taskID string) error {
	if err := b.client.Set(ctx, revokedKey(taskID), "1", b.resultTTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", aide.ErrBrokerUnavailable, err)
	}

	current, err := b.client.HGet(ctx, statusKey(taskID), "state").Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("%w: %v", aide.ErrBrokerUnavailable, err)
	}
	if TaskState(current).Terminal() {
		return nil
	}
	if err := b.client.HSet(ctx, statusKey(taskID), "state", string(StateRevoked)).Err(); err != nil {
		return fmt.Errorf("%w: %v", aide.ErrBrokerUnavailable, err)
	}
	return nil
}

func (b *RedisBroker) Forget(ctx context.Context, taskID string) error {
	if err := b.client.Del(ctx, statusKey(taskID), revokedKey(taskID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", aide.ErrBrokerUnavailable, err)
	}
	return nil
}

func (b *RedisBroker) ActiveTaskIDs(ctx context.Context, queue string) ([]string, error) {
	ids, err := b.client.SMembers(ctx, workersActiveKey(queue)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", aide.ErrBrokerUnavailable, err)
	}
	return ids, nil
}

func (b *RedisBroker) AvailableWorkers(ctx context.Context, queue string) (int, error) {
	n, err := b.client.SCard(ctx, workersOnlineKey(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", aide.ErrBrokerUnavailable, err)
	}
	return int(n), nil
}

func (b *RedisBroker) WorkerIDs(ctx context.Context, queue string) ([]string, error) {
	ids, err := b.client.SMembers(ctx, workersOnlineKey(queue)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", aide.ErrBrokerUnavailable, err)
	}
	return ids, nil
}

// IsRevoked reports whether a task ID has been marked for revocation. A
// companion worker process should consult this before starting or
// continuing a task.
func (b *RedisBroker) IsRevoked(ctx context.Context, taskID string) (bool, error) {
	n, err := b.client.Exists(ctx, revokedKey(taskID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", aide.ErrBrokerUnavailable, err)
	}
	return n > 0, nil
}

var _ Broker = (*RedisBroker)(nil)
