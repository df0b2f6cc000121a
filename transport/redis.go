// Copyright (c) nano Authors. All Rights Reserved.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nanokit/agentmesh/internal/log"
)

// RedisConfig adds Redis-specific fields to Config.
type RedisConfig struct {
	Config
	DB            int
	Password      string
	ChannelPrefix string
	AgentID       string
}

// DefaultRedisConfig mirrors RedisConfig's defaults in the source.
func DefaultRedisConfig(agentID string) RedisConfig {
	return RedisConfig{
		Config:        DefaultConfig(),
		ChannelPrefix: "agentmesh",
		AgentID:       agentID,
	}
}

type redisEnvelope struct {
	Sender    string  `json:"sender"`
	Content   string  `json:"content"`
	Timestamp float64 `json:"timestamp"`
}

// Redis is a pub/sub transport: it subscribes to an agent-specific channel
// and a broadcast channel, and publishes outbound sends to the target's
// channel. It has no peer-connection semantics of its own.
type Redis struct {
	cfg     RedisConfig
	client  *redis.Client
	pubsub  *redis.PubSub
	handler Handler
}

// NewRedis returns a Redis transport that will connect to cfg.Host:cfg.Port.
func NewRedis(cfg RedisConfig) *Redis {
	return &Redis{cfg: cfg}
}

func (r *Redis) SetMessageHandler(h Handler) { r.handler = h }

func (r *Redis) agentChannel() string {
	return fmt.Sprintf("%s:%s", r.cfg.ChannelPrefix, r.cfg.AgentID)
}

func (r *Redis) broadcastChannel() string {
	return fmt.Sprintf("%s:broadcast", r.cfg.ChannelPrefix)
}

func (r *Redis) targetChannel(target string) string {
	return fmt.Sprintf("%s:%s", r.cfg.ChannelPrefix, target)
}

func (r *Redis) StartServer(ctx context.Context) error {
	r.client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", r.cfg.Host, r.cfg.Port),
		DB:       r.cfg.DB,
		Password: r.cfg.Password,
	})

	channels := []string{r.broadcastChannel()}
	if r.cfg.AgentID != "" {
		channels = append([]string{r.agentChannel()}, channels...)
	}
	r.pubsub = r.client.Subscribe(ctx, channels...)
	log.Printf("redis transport: subscribed to %v", channels)

	ch := r.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.dispatch(msg)
		}
	}
}

func (r *Redis) dispatch(msg *redis.Message) {
	var env redisEnvelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		log.Errorf("redis transport: malformed envelope on %s: %v", msg.Channel, err)
		return
	}
	if r.handler != nil {
		r.handler([]byte(env.Content), env.Sender)
	}
}

func (r *Redis) StopServer() error {
	if r.pubsub != nil {
		r.pubsub.Unsubscribe(context.Background())
		r.pubsub.Close()
	}
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// SendMessage publishes payload, wrapped in the sender/content/timestamp
// envelope, to target's channel.
func (r *Redis) SendMessage(ctx context.Context, target string, payload []byte) bool {
	if r.client == nil {
		return false
	}
	sender := r.cfg.AgentID
	if sender == "" {
		sender = "unknown"
	}
	env := redisEnvelope{
		Sender:    sender,
		Content:   string(payload),
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return false
	}
	if err := r.client.Publish(ctx, r.targetChannel(target), data).Err(); err != nil {
		log.Errorf("redis transport: failed to publish to %s: %v", target, err)
		return false
	}
	return true
}

// ConnectToPeer is a no-op: pub/sub has no peer-connection concept.
func (r *Redis) ConnectToPeer(ctx context.Context, target string) bool { return true }

// DisconnectFromPeer is a no-op for the same reason.
func (r *Redis) DisconnectFromPeer(target string) bool { return true }
