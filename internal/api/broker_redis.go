package api

import (
    "context"
    "encoding/json"
    "log"
    "sync"
    "time"

    redis "github.com/redis/go-redis/v9"
)

// RedisBroker implements EventBroker over Redis Pub/Sub so several API
// replicas can stream the same session.
type RedisBroker struct {
    rdb *redis.Client

    mu   sync.Mutex
    subs map[chan SSEEvent]*redis.PubSub
}

func NewRedisBroker(url string) (*RedisBroker, error) {
    opt, err := redis.ParseURL(url)
    if err != nil { return nil, err }
    return NewRedisBrokerClient(redis.NewClient(opt)), nil
}

func NewRedisBrokerClient(rdb *redis.Client) *RedisBroker {
    return &RedisBroker{rdb: rdb, subs: map[chan SSEEvent]*redis.PubSub{}}
}

func (b *RedisBroker) Subscribe(sessionID string) chan SSEEvent {
    ch := make(chan SSEEvent, 32)
    ctx := context.Background()
    ps := b.rdb.Subscribe(ctx, b.chanName(sessionID))
    // wait for the subscription confirmation so no publish is missed
    if _, err := ps.Receive(ctx); err != nil {
        log.Printf("broker: subscribe session=%s err=%v", sessionID, err)
    }
    b.mu.Lock()
    b.subs[ch] = ps
    b.mu.Unlock()
    msgs := ps.Channel()
    go func() {
        defer close(ch)
        for msg := range msgs {
            var evt SSEEvent
            if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
                select { case ch <- evt: default: }
            }
        }
    }()
    return ch
}

// Unsubscribe closes the Redis subscription; ch is closed once its reader
// goroutine drains.
func (b *RedisBroker) Unsubscribe(sessionID string, ch chan SSEEvent) {
    b.mu.Lock()
    ps, ok := b.subs[ch]
    delete(b.subs, ch)
    b.mu.Unlock()
    if ok {
        _ = ps.Close()
    }
}

func (b *RedisBroker) Publish(sessionID string, evt SSEEvent) {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    data, err := json.Marshal(evt)
    if err != nil { return }
    if err := b.rdb.Publish(ctx, b.chanName(sessionID), data).Err(); err != nil {
        log.Printf("broker: publish session=%s type=%s err=%v", sessionID, evt.Type, err)
    }
}

func (b *RedisBroker) Ping(ctx context.Context) error { return b.rdb.Ping(ctx).Err() }

func (b *RedisBroker) Close() error { return b.rdb.Close() }

func (b *RedisBroker) chanName(sessionID string) string { return "fleetsim:sim:" + sessionID }
