// Package realtime はテーブル変更通知の購読と配信を提供する。
//
// PostgreSQLのLISTEN/NOTIFYで受け取った変更をHubがトピック単位で
// 購読者へ配信する。購読者ごとにキューとゴルーチンを持つため、
// 1つの購読者の処理が遅れても他の購読者には影響しない。
package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/articleboard/internal/metrics"
	"github.com/hitoshi/articleboard/internal/model"
)

// 配信トピック。
const (
	TopicArticles = "articles"
	TopicSessions = "sessions"
)

// Event はテーブル1行分の変更を表す。
type Event struct {
	Topic  string
	Op     model.ChangeType
	ID     string // 変更された行の主キー（文字列表現）
	UserID string
	// Article は articles トピックの INSERT/UPDATE で変更後の行を保持する。
	Article    *model.Article
	CommitTime time.Time
}

// Filter は購読者が受け取るイベントを選別する。nilの場合はすべて受け取る。
type Filter func(Event) bool

// Handler はイベントを処理する。同じ購読のハンドラは逐次呼び出される。
type Handler func(Event)

// Hub はトピック単位のファンアウトを行う。
type Hub struct {
	mu         sync.RWMutex
	subs       map[string]map[uint64]*Subscription
	nextID     uint64
	bufferSize int
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
}

// NewHub はHubを生成する。bufferSizeは購読者ごとのキュー長。
func NewHub(bufferSize int, logger *slog.Logger, m metrics.MetricsCollector) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Hub{
		subs:       make(map[string]map[uint64]*Subscription),
		bufferSize: bufferSize,
		logger:     logger,
		metrics:    m,
	}
}

// Subscription は1つの購読を表す。Unsubscribeで解除する。
type Subscription struct {
	hub     *Hub
	topic   string
	id      uint64
	filter  Filter
	handler Handler
	queue   chan Event
	done    chan struct{}
	once    sync.Once
}

// Subscribe はトピックを購読する。
func (h *Hub) Subscribe(topic string, filter Filter, handler Handler) *Subscription {
	h.mu.Lock()
	h.nextID++
	sub := &Subscription{
		hub:     h,
		topic:   topic,
		id:      h.nextID,
		filter:  filter,
		handler: handler,
		queue:   make(chan Event, h.bufferSize),
		done:    make(chan struct{}),
	}
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[uint64]*Subscription)
	}
	h.subs[topic][sub.id] = sub
	h.mu.Unlock()

	go sub.run()
	return sub
}

// Publish はイベントをトピックの購読者へ配信する。
// 購読者のキューが満杯の場合はそのイベントを破棄する。
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs[ev.Topic] {
		if sub.filter != nil && !sub.filter(ev) {
			continue
		}
		select {
		case sub.queue <- ev:
		default:
			h.metrics.RecordChangeDropped(ev.Topic)
			h.logger.Warn("購読者のキューが満杯のため変更イベントを破棄しました",
				slog.String("topic", ev.Topic),
				slog.String("op", string(ev.Op)),
				slog.String("id", ev.ID),
				slog.Uint64("subscription", sub.id),
			)
		}
	}
}

// SubscriberCount は指定トピックの購読者数を返す。
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

// Close はすべての購読を解除する。
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*Subscription
	for _, m := range h.subs {
		for _, sub := range m {
			all = append(all, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range all {
		sub.Unsubscribe()
	}
}

// Unsubscribe は購読を解除する。複数回呼んでもよく、nilでも安全。
// ハンドラ内から呼び出してもデッドロックしない。
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs[s.topic], s.id)
		if len(s.hub.subs[s.topic]) == 0 {
			delete(s.hub.subs, s.topic)
		}
		s.hub.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.queue:
			select {
			case <-s.done:
				return
			default:
			}
			s.handler(ev)
			s.hub.metrics.RecordChangeDelivered(ev.Topic)
		}
	}
}
