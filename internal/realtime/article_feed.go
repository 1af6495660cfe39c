package realtime

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/hitoshi/articleboard/internal/model"
)

// ErrUnknownEventFilter はArticleFeedが解釈できないイベント指定。
var ErrUnknownEventFilter = errors.New("unknown event filter")

// ArticleFeed はarticlesテーブルの変更をmodel.ChangeEventとして購読させる。
type ArticleFeed struct {
	hub *Hub
}

// NewArticleFeed はArticleFeedを生成する。
func NewArticleFeed(hub *Hub) *ArticleFeed {
	return &ArticleFeed{hub: hub}
}

// Subscribe はeventで指定した種別（"*", "INSERT", "UPDATE", "DELETE"）の変更を購読する。
// 所有者による絞り込みは行わない。
func (f *ArticleFeed) Subscribe(event string, handler func(model.ChangeEvent)) (*Subscription, error) {
	var filter Filter
	switch event {
	case "*":
	case string(model.ChangeInsert), string(model.ChangeUpdate), string(model.ChangeDelete):
		op := model.ChangeType(event)
		filter = func(ev Event) bool { return ev.Op == op }
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventFilter, event)
	}

	return f.hub.Subscribe(TopicArticles, filter, func(ev Event) {
		if ce, ok := ToChangeEvent(ev); ok {
			handler(ce)
		}
	}), nil
}

// ToChangeEvent はHubのイベントを記事の変更イベントに変換する。
func ToChangeEvent(ev Event) (model.ChangeEvent, bool) {
	ce := model.ChangeEvent{Type: ev.Op, CommitTime: ev.CommitTime}
	switch ev.Op {
	case model.ChangeInsert:
		if ev.Article == nil {
			return ce, false
		}
		ce.New = ev.Article
	case model.ChangeUpdate:
		if ev.Article == nil {
			return ce, false
		}
		ce.New = ev.Article
		ce.OldID = ev.Article.ID
	case model.ChangeDelete:
		id, err := strconv.ParseInt(ev.ID, 10, 64)
		if err != nil {
			return ce, false
		}
		ce.OldID = id
	default:
		return ce, false
	}
	return ce, true
}
