package board

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/articleboard/internal/model"
)

// --- フェイク ---

// fakeFeed は購読ハンドラを保持し、テストから変更イベントを配信する。
type fakeFeed struct {
	mu            sync.Mutex
	handlers      map[int]func(model.ChangeEvent)
	next          int
	subscribeErr  error
	lastEvent     string
	unsubscribed  int
	subscriptions int
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{handlers: map[int]func(model.ChangeEvent){}}
}

type fakeSubscription struct {
	feed *fakeFeed
	id   int
}

func (s *fakeSubscription) Unsubscribe() {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	if _, ok := s.feed.handlers[s.id]; ok {
		delete(s.feed.handlers, s.id)
		s.feed.unsubscribed++
	}
}

func (f *fakeFeed) Subscribe(event string, handler func(model.ChangeEvent)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.next++
	f.handlers[f.next] = handler
	f.lastEvent = event
	f.subscriptions++
	return &fakeSubscription{feed: f, id: f.next}, nil
}

func (f *fakeFeed) deliver(ev model.ChangeEvent) {
	f.mu.Lock()
	hs := make([]func(model.ChangeEvent), 0, len(f.handlers))
	for _, h := range f.handlers {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (f *fakeFeed) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

// fakeTable は所有者ポリシーを持つメモリ上の記事テーブル。
// 書き込みに成功すると feed へ変更イベントを配信する。
type fakeTable struct {
	mu       sync.Mutex
	rows     []model.Article
	nextID   int64
	feed     *fakeFeed
	listErr  error
	writeErr error
	calls    []string
}

func (t *fakeTable) List(context.Context) ([]model.Article, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, "list")
	if t.listErr != nil {
		return nil, t.listErr
	}
	out := make([]model.Article, len(t.rows))
	copy(out, t.rows)
	return out, nil
}

func (t *fakeTable) Insert(_ context.Context, actorID string, a *model.Article) error {
	t.mu.Lock()
	t.calls = append(t.calls, "insert")
	if t.writeErr != nil {
		t.mu.Unlock()
		return t.writeErr
	}
	if a.UserID != actorID {
		t.mu.Unlock()
		return model.NewArticleForbiddenError()
	}
	t.nextID++
	a.ID = t.nextID
	t.rows = append([]model.Article{*a}, t.rows...)
	row := *a
	t.mu.Unlock()

	if t.feed != nil {
		t.feed.deliver(model.ChangeEvent{Type: model.ChangeInsert, New: &row})
	}
	return nil
}

func (t *fakeTable) Update(_ context.Context, actorID string, id int64, title, description string, updatedAt time.Time) (*model.Article, error) {
	t.mu.Lock()
	t.calls = append(t.calls, "update")
	if t.writeErr != nil {
		t.mu.Unlock()
		return nil, t.writeErr
	}
	for i := range t.rows {
		if t.rows[i].ID == id && t.rows[i].UserID == actorID {
			t.rows[i].Title = title
			t.rows[i].Description = description
			t.rows[i].UpdatedAt = &updatedAt
			row := t.rows[i]
			t.mu.Unlock()
			if t.feed != nil {
				t.feed.deliver(model.ChangeEvent{Type: model.ChangeUpdate, New: &row, OldID: id})
			}
			return &row, nil
		}
	}
	t.mu.Unlock()
	return nil, model.NewArticleNotFoundError(id)
}

func (t *fakeTable) Delete(_ context.Context, actorID string, id int64) error {
	t.mu.Lock()
	t.calls = append(t.calls, "delete")
	if t.writeErr != nil {
		t.mu.Unlock()
		return t.writeErr
	}
	for i := range t.rows {
		if t.rows[i].ID == id && t.rows[i].UserID == actorID {
			t.rows = append(t.rows[:i], t.rows[i+1:]...)
			t.mu.Unlock()
			if t.feed != nil {
				t.feed.deliver(model.ChangeEvent{Type: model.ChangeDelete, OldID: id})
			}
			return nil
		}
	}
	t.mu.Unlock()
	return model.NewArticleNotFoundError(id)
}

func (t *fakeTable) called(op string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.calls {
		if c == op {
			return true
		}
	}
	return false
}

type fakeSessions struct {
	mu      sync.Mutex
	session *model.Session
}

func (f *fakeSessions) Session() *model.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

func (f *fakeSessions) set(s *model.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = s
}

type recordingAlerter struct {
	mu       sync.Mutex
	messages []string
}

func (a *recordingAlerter) Alert(_ context.Context, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, message)
}

func (a *recordingAlerter) all() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.messages...)
}

type confirmFunc func(ctx context.Context, message string) bool

func (f confirmFunc) Confirm(ctx context.Context, message string) bool { return f(ctx, message) }

var (
	_ ArticleTable  = (*fakeTable)(nil)
	_ ChangeFeed    = (*fakeFeed)(nil)
	_ SessionSource = (*fakeSessions)(nil)
	_ Alerter       = (*recordingAlerter)(nil)
	_ Confirmer     = confirmFunc(nil)
)

var testNow = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func alice() *model.Session {
	return &model.Session{ID: "sid-a", UserID: "alice", UserName: "Alice", AvatarURL: "https://example.com/a.png", ExpiresAt: testNow.Unix() + 3600}
}

type harness struct {
	r        *Reconciler
	table    *fakeTable
	feed     *fakeFeed
	sessions *fakeSessions
	alerts   *recordingAlerter
	changes  atomic.Int64
}

func newHarness(t *testing.T, rows ...model.Article) *harness {
	t.Helper()
	h := &harness{
		feed:     newFakeFeed(),
		sessions: &fakeSessions{session: alice()},
		alerts:   &recordingAlerter{},
	}
	h.table = &fakeTable{rows: rows, nextID: 100, feed: h.feed}
	h.r = NewReconciler(h.table, h.feed, h.sessions, Options{
		Alerter:  h.alerts,
		OnChange: func() { h.changes.Add(1) },
	})
	h.r.now = func() time.Time { return testNow }
	return h
}

func article(id int64, owner, title string) model.Article {
	return model.Article{ID: id, UserID: owner, UserName: owner, Title: title, Description: title + " body", CreatedAt: testNow.Add(-time.Duration(id) * time.Hour)}
}

func ids(articles []model.Article) []int64 {
	out := make([]int64, len(articles))
	for i, a := range articles {
		out[i] = a.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --- Fetch ---

func TestNewReconciler_StartsLoading(t *testing.T) {
	h := newHarness(t)
	if !h.r.Loading() {
		t.Error("initial state should be loading")
	}
	if h.r.Articles() == nil {
		t.Error("Articles should be non-nil")
	}
}

func TestFetch_ReplacesCollectionPreservingOrder(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, model.Article{ID: 1, Title: "Hi", CreatedAt: created, UserID: "alice"})

	if err := h.r.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	got := h.r.Articles()
	if len(got) != 1 || got[0].ID != 1 || got[0].Title != "Hi" {
		t.Fatalf("Articles = %+v", got)
	}
	if h.r.Loading() {
		t.Error("state should be ready after fetch")
	}

	// 更新イベントは位置を変えずに置き換える
	updated := got[0]
	updated.Title = "Hi!"
	h.r.Apply(model.ChangeEvent{Type: model.ChangeUpdate, New: &updated, OldID: 1})

	got = h.r.Articles()
	if len(got) != 1 || got[0].Title != "Hi!" {
		t.Errorf("after update: %+v", got)
	}
}

func TestFetch_FailureLeavesCollectionAndAlerts(t *testing.T) {
	h := newHarness(t, article(1, "alice", "one"))
	if err := h.r.Fetch(context.Background()); err != nil {
		t.Fatalf("first Fetch returned error: %v", err)
	}

	h.table.listErr = errors.New("connection reset")
	if err := h.r.Fetch(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	if got := ids(h.r.Articles()); !equalIDs(got, []int64{1}) {
		t.Errorf("Articles = %v, want [1]", got)
	}
	if h.r.Loading() {
		t.Error("state should be ready after failed fetch")
	}
	if alerts := h.alerts.all(); len(alerts) != 1 || alerts[0] != "Error: connection reset" {
		t.Errorf("alerts = %v", alerts)
	}
}

func TestFetch_NotifiesLoadingTransitions(t *testing.T) {
	h := newHarness(t)
	var states []bool
	h.r.onChange = func() { states = append(states, h.r.Loading()) }

	h.r.Fetch(context.Background())

	if len(states) != 2 || !states[0] || states[1] {
		t.Errorf("loading transitions = %v, want [true false]", states)
	}
}

// --- Apply ---

func TestApply_InsertPrependsWithoutResort(t *testing.T) {
	h := newHarness(t, article(1, "alice", "newest"), article(2, "bob", "older"))
	h.r.Fetch(context.Background())

	old := article(50, "bob", "backdated")
	old.CreatedAt = testNow.Add(-100 * 24 * time.Hour)
	h.r.Apply(model.ChangeEvent{Type: model.ChangeInsert, New: &old})

	if got := ids(h.r.Articles()); !equalIDs(got, []int64{50, 1, 2}) {
		t.Errorf("Articles = %v, want [50 1 2]", got)
	}
}

func TestApply_InsertOfKnownIDReplacesInPlace(t *testing.T) {
	h := newHarness(t, article(1, "alice", "a"), article(2, "bob", "b"))
	h.r.Fetch(context.Background())

	dup := article(2, "bob", "b2")
	h.r.Apply(model.ChangeEvent{Type: model.ChangeInsert, New: &dup})

	got := h.r.Articles()
	if !equalIDs(ids(got), []int64{1, 2}) || got[1].Title != "b2" {
		t.Errorf("Articles = %+v", got)
	}
}

func TestApply_DeleteRemoves(t *testing.T) {
	h := newHarness(t, article(1, "alice", "a"), article(2, "bob", "b"), article(3, "carol", "c"))
	h.r.Fetch(context.Background())

	h.r.Apply(model.ChangeEvent{Type: model.ChangeDelete, OldID: 2})

	if got := ids(h.r.Articles()); !equalIDs(got, []int64{1, 3}) {
		t.Errorf("Articles = %v, want [1 3]", got)
	}
}

func TestApply_UnknownIDsAreNoOps(t *testing.T) {
	h := newHarness(t, article(1, "alice", "a"))
	h.r.Fetch(context.Background())
	before := h.changes.Load()

	ghost := article(99, "bob", "ghost")
	h.r.Apply(model.ChangeEvent{Type: model.ChangeUpdate, New: &ghost})
	h.r.Apply(model.ChangeEvent{Type: model.ChangeDelete, OldID: 99})
	h.r.Apply(model.ChangeEvent{Type: model.ChangeInsert})

	if got := ids(h.r.Articles()); !equalIDs(got, []int64{1}) {
		t.Errorf("Articles = %v, want [1]", got)
	}
	if n := h.changes.Load() - before; n != 0 {
		t.Errorf("OnChange called %d times for no-op events", n)
	}
}

func TestApply_InsertUpdateDeleteSequenceOmitsArticle(t *testing.T) {
	h := newHarness(t, article(1, "bob", "keep"))
	h.r.Fetch(context.Background())

	a := article(7, "alice", "A")
	a2 := a
	a2.Title = "A'"
	h.r.Apply(model.ChangeEvent{Type: model.ChangeInsert, New: &a})
	h.r.Apply(model.ChangeEvent{Type: model.ChangeUpdate, New: &a2, OldID: 7})
	h.r.Apply(model.ChangeEvent{Type: model.ChangeDelete, OldID: 7})

	if got := ids(h.r.Articles()); !equalIDs(got, []int64{1}) {
		t.Errorf("Articles = %v, want [1]", got)
	}
}

// --- Start / Stop ---

func TestStartStop(t *testing.T) {
	h := newHarness(t)

	if err := h.r.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := h.r.Start(); err != nil {
		t.Fatalf("second Start returned error: %v", err)
	}
	if h.feed.subscriptions != 1 || h.feed.lastEvent != EventAll {
		t.Errorf("subscriptions = %d event = %q", h.feed.subscriptions, h.feed.lastEvent)
	}

	h.r.Stop()
	h.r.Stop()
	if h.feed.active() != 0 || h.feed.unsubscribed != 1 {
		t.Errorf("active = %d unsubscribed = %d", h.feed.active(), h.feed.unsubscribed)
	}
	if h.r.Subscribed() {
		t.Error("Subscribed should be false after Stop")
	}

	// 購読解除後のイベントは届かない
	h.r.Fetch(context.Background())
	a := article(5, "bob", "late")
	h.feed.deliver(model.ChangeEvent{Type: model.ChangeInsert, New: &a})
	if len(h.r.Articles()) != 0 {
		t.Errorf("Articles = %v, want empty", ids(h.r.Articles()))
	}
}

func TestStart_RequiresSession(t *testing.T) {
	h := newHarness(t)
	h.sessions.set(nil)

	if err := h.r.Start(); !errors.Is(err, ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", err)
	}
	if h.feed.active() != 0 {
		t.Error("should not subscribe without session")
	}
}

func TestStart_SubscribeError(t *testing.T) {
	h := newHarness(t)
	h.feed.subscribeErr = errors.New("closed")

	if err := h.r.Start(); err == nil {
		t.Fatal("expected error")
	}
	if h.r.Subscribed() {
		t.Error("Subscribed should be false")
	}
}

// --- Create ---

func TestSubmit_CreateAppearsOnceViaChangeEvent(t *testing.T) {
	h := newHarness(t, article(1, "bob", "existing"))
	h.r.Fetch(context.Background())
	h.r.Start()
	defer h.r.Stop()

	h.r.SetInput("Hello", "World")
	if err := h.r.Submit(context.Background()); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	got := h.r.Articles()
	var matches []model.Article
	for _, a := range got {
		if a.Title == "Hello" && a.Description == "World" {
			matches = append(matches, a)
		}
	}
	if len(matches) != 1 {
		t.Fatalf("matching records = %d, want 1 (%+v)", len(matches), got)
	}
	m := matches[0]
	if m.UserID != "alice" || m.UserName != "Alice" || m.Avatar != "https://example.com/a.png" {
		t.Errorf("identity fields = %+v", m)
	}
	if !m.CreatedAt.Equal(testNow) || m.UpdatedAt == nil || !m.UpdatedAt.Equal(testNow) {
		t.Errorf("timestamps = %v / %v", m.CreatedAt, m.UpdatedAt)
	}
	if got[0].ID != m.ID {
		t.Errorf("new record should be first, got %v", ids(got))
	}
	if f := h.r.Form(); f.Title != "" || f.Description != "" {
		t.Errorf("form not cleared: %+v", f)
	}
}

func TestSubmit_CreateIsNotOptimistic(t *testing.T) {
	h := newHarness(t)
	h.table.feed = nil
	h.r.Fetch(context.Background())

	h.r.SetInput("Hello", "World")
	if err := h.r.Submit(context.Background()); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	if len(h.r.Articles()) != 0 {
		t.Errorf("Articles = %v, want empty until change event", ids(h.r.Articles()))
	}
	if f := h.r.Form(); f.Title != "" {
		t.Errorf("form not cleared: %+v", f)
	}
}

func TestSubmit_UsesEmailWhenNameMissing(t *testing.T) {
	h := newHarness(t)
	h.sessions.set(&model.Session{UserID: "alice", Email: "alice@example.com", ExpiresAt: testNow.Unix() + 60})
	h.r.Start()
	defer h.r.Stop()

	h.r.SetInput("t", "d")
	h.r.Submit(context.Background())

	got := h.r.Articles()
	if len(got) != 1 || got[0].UserName != "alice@example.com" {
		t.Errorf("Articles = %+v", got)
	}
}

func TestSubmit_EmptyInputDoesNothing(t *testing.T) {
	h := newHarness(t)
	h.r.SetInput("  ", "body")

	if err := h.r.Submit(context.Background()); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if h.table.called("insert") {
		t.Error("Insert should not be called")
	}
}

func TestSubmit_WithoutSessionAlerts(t *testing.T) {
	h := newHarness(t)
	h.sessions.set(nil)
	h.r.SetInput("t", "d")

	if err := h.r.Submit(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("err = %v, want ErrNoSession", err)
	}
	if alerts := h.alerts.all(); len(alerts) != 1 || alerts[0] != MsgSessionExpired {
		t.Errorf("alerts = %v", alerts)
	}
	if h.table.called("insert") {
		t.Error("Insert should not be called")
	}
}

func TestSubmit_CreateFailureAlertsAndKeepsForm(t *testing.T) {
	h := newHarness(t)
	h.r.Fetch(context.Background())
	h.table.writeErr = model.NewInvalidArticleError("title is required")

	h.r.SetInput("t", "d")
	if err := h.r.Submit(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	alerts := h.alerts.all()
	if len(alerts) != 1 || alerts[0] != "Error: 記事の入力内容が不正です: title is required" {
		t.Errorf("alerts = %v", alerts)
	}
	if f := h.r.Form(); f.Title != "t" {
		t.Errorf("form should be kept on failure: %+v", f)
	}
	if len(h.r.Articles()) != 0 {
		t.Error("collection should be unchanged")
	}
}

// --- Edit / Update ---

func TestBeginEdit_OnlyOwnedArticles(t *testing.T) {
	h := newHarness(t, article(1, "alice", "mine"), article(2, "bob", "theirs"))
	h.r.Fetch(context.Background())

	if h.r.BeginEdit(2) {
		t.Error("BeginEdit should reject articles owned by others")
	}
	if h.r.BeginEdit(99) {
		t.Error("BeginEdit should reject unknown ids")
	}
	if !h.r.BeginEdit(1) {
		t.Fatal("BeginEdit(1) = false")
	}
	f := h.r.Form()
	if !f.Editing() || f.EditingID != 1 || f.Title != "mine" || f.Description != "mine body" {
		t.Errorf("Form = %+v", f)
	}

	h.r.CancelEdit()
	if f := h.r.Form(); f.Editing() || f.Title != "" {
		t.Errorf("after cancel: %+v", f)
	}
}

func TestSubmit_UpdateReplacesInPlaceAndExitsEditMode(t *testing.T) {
	h := newHarness(t, article(1, "bob", "b"), article(2, "alice", "a"), article(3, "carol", "c"))
	h.r.Fetch(context.Background())
	h.r.Start()
	defer h.r.Stop()

	h.r.BeginEdit(2)
	h.r.SetInput("edited", "new body")
	if err := h.r.Submit(context.Background()); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	got := h.r.Articles()
	if !equalIDs(ids(got), []int64{1, 2, 3}) {
		t.Fatalf("order changed: %v", ids(got))
	}
	if got[1].Title != "edited" || got[1].UpdatedAt == nil || !got[1].UpdatedAt.Equal(testNow) {
		t.Errorf("updated record = %+v", got[1])
	}
	if f := h.r.Form(); f.Editing() || f.Title != "" {
		t.Errorf("form = %+v", f)
	}
}

func TestSubmit_UpdateOfUnownedArticleIsRejected(t *testing.T) {
	h := newHarness(t, article(1, "bob", "theirs"))
	h.r.Fetch(context.Background())
	h.r.Start()
	defer h.r.Stop()
	before := h.r.Articles()

	// 編集モードを直接設定して、サーバー側の所有者チェックを確認する
	h.r.mu.Lock()
	h.r.form = Form{Title: "hijack", Description: "x", EditingID: 1}
	h.r.mu.Unlock()

	if err := h.r.Submit(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	after := h.r.Articles()
	if len(after) != 1 || after[0].Title != before[0].Title {
		t.Errorf("collection changed: %+v", after)
	}
	if len(h.alerts.all()) != 1 {
		t.Errorf("alerts = %v", h.alerts.all())
	}
	if f := h.r.Form(); !f.Editing() {
		t.Error("should stay in edit mode on failure")
	}
}

// --- Delete ---

func TestDelete_ConfirmedRemovesViaChangeEvent(t *testing.T) {
	h := newHarness(t, article(1, "alice", "a"), article(2, "bob", "b"))
	h.r.Fetch(context.Background())
	h.r.Start()
	defer h.r.Stop()

	var asked string
	err := h.r.Delete(context.Background(), 1, confirmFunc(func(_ context.Context, msg string) bool {
		asked = msg
		return true
	}))
	if err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if asked != MsgConfirmDelete {
		t.Errorf("confirm message = %q", asked)
	}
	for _, a := range h.r.Articles() {
		if a.ID == 1 {
			t.Fatal("deleted article still present")
		}
	}
}

func TestDelete_NotConfirmedDoesNothing(t *testing.T) {
	h := newHarness(t, article(1, "alice", "a"))
	h.r.Fetch(context.Background())

	err := h.r.Delete(context.Background(), 1, confirmFunc(func(context.Context, string) bool { return false }))
	if err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if h.table.called("delete") {
		t.Error("Delete should not reach the table")
	}
	if err := h.r.Delete(context.Background(), 1, nil); err != nil || h.table.called("delete") {
		t.Error("nil confirmer should be treated as declined")
	}
}

func TestDelete_UnownedIsRejectedWithAlert(t *testing.T) {
	h := newHarness(t, article(1, "bob", "b"))
	h.r.Fetch(context.Background())
	h.r.Start()
	defer h.r.Stop()

	err := h.r.Delete(context.Background(), 1, confirmFunc(func(context.Context, string) bool { return true }))
	if err == nil {
		t.Fatal("expected error")
	}
	if got := ids(h.r.Articles()); !equalIDs(got, []int64{1}) {
		t.Errorf("Articles = %v", got)
	}
	if len(h.alerts.all()) != 1 {
		t.Errorf("alerts = %v", h.alerts.all())
	}
}

func TestDelete_WithoutSessionAlerts(t *testing.T) {
	h := newHarness(t)
	h.sessions.set(nil)

	err := h.r.Delete(context.Background(), 1, confirmFunc(func(context.Context, string) bool {
		t.Error("should not ask for confirmation without session")
		return true
	}))
	if !errors.Is(err, ErrNoSession) {
		t.Errorf("err = %v", err)
	}
}

// --- 並行性 ---

func TestApply_ConcurrentEventsAndCommands(t *testing.T) {
	h := newHarness(t)
	h.r.Fetch(context.Background())

	var wg sync.WaitGroup
	for i := int64(1); i <= 50; i++ {
		wg.Add(2)
		go func(id int64) {
			defer wg.Done()
			a := article(id, "bob", "x")
			h.r.Apply(model.ChangeEvent{Type: model.ChangeInsert, New: &a})
		}(i)
		go func() {
			defer wg.Done()
			h.r.SetInput("t", "d")
			_ = h.r.Snapshot()
		}()
	}
	wg.Wait()

	if n := len(h.r.Articles()); n != 50 {
		t.Errorf("len = %d, want 50", n)
	}
}
