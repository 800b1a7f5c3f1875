package handlers

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"spc-alerts-go/internal/models"
	"spc-alerts-go/internal/push"
	"spc-alerts-go/internal/store"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSubStore is an in-memory SubscriptionStore.
type fakeSubStore struct {
	mu       sync.Mutex
	subs     []models.PushSubscription
	nextID   int64
	getCalls int
	saveErrs int // number of SaveSubscription calls that fail before it recovers
}

func (f *fakeSubStore) SaveSubscription(ctx context.Context, userID, endpoint, p256dh, auth string) (models.PushSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErrs > 0 {
		f.saveErrs--
		return models.PushSubscription{}, assert.AnError
	}
	for i, s := range f.subs {
		if s.UserID == userID {
			f.subs[i].Endpoint = endpoint
			f.subs[i].P256dh = p256dh
			f.subs[i].Auth = auth
			return f.subs[i], nil
		}
	}
	f.nextID++
	sub := models.PushSubscription{
		ID:        f.nextID,
		UserID:    userID,
		Endpoint:  endpoint,
		P256dh:    p256dh,
		Auth:      auth,
		CreatedAt: time.Now(),
	}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeSubStore) GetSubscriptions(ctx context.Context) ([]models.PushSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	return append([]models.PushSubscription(nil), f.subs...), nil
}

func (f *fakeSubStore) GetSubscriptionsForUsers(ctx context.Context, userIDs []string) ([]models.PushSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	wanted := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = true
	}
	var out []models.PushSubscription
	for _, s := range f.subs {
		if wanted[s.UserID] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSubStore) DeleteSubscription(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.subs {
		if s.ID == id {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeSubStore) DeleteSubscriptionForUser(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.subs {
		if s.UserID == userID {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeSubStore) CountSubscriptions(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs), nil
}

// fakeIncidentStore records ingested incidents; the SSE feed is not
// exercised here.
type fakeIncidentStore struct {
	mu          sync.Mutex
	incidents   []models.Incident
	listCalls   int
	searchCalls int
}

func (f *fakeIncidentStore) AddIncident(ctx context.Context, source, level, title, message string) (models.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inc := models.Incident{
		ID:        len(f.incidents) + 1,
		CreatedAt: time.Now().UTC(),
		Source:    source,
		Level:     level,
		Title:     title,
		Message:   message,
	}
	f.incidents = append(f.incidents, inc)
	return inc, nil
}

func (f *fakeIncidentStore) GetIncidents(ctx context.Context) ([]models.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return append([]models.Incident(nil), f.incidents...), nil
}

func (f *fakeIncidentStore) SearchIncidents(ctx context.Context, query, level, source string) ([]models.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	var out []models.Incident
	for _, inc := range f.incidents {
		if level != "" && inc.Level != level {
			continue
		}
		if source != "" && inc.Source != source {
			continue
		}
		out = append(out, inc)
	}
	return out, nil
}

func (f *fakeIncidentStore) Subscribe(ctx context.Context) *redis.PubSub {
	return nil
}

var _ store.SubscriptionStore = (*fakeSubStore)(nil)
var _ store.IncidentStore = (*fakeIncidentStore)(nil)

func newTestKeys(t *testing.T) (p256dh, auth string) {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	authBytes := make([]byte, 16)
	_, err = rand.Read(authBytes)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		base64.RawURLEncoding.EncodeToString(authBytes)
}

func newTestHandler(t *testing.T, subs *fakeSubStore) (*Handler, *fakeIncidentStore) {
	t.Helper()
	priv, pub, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	incidents := &fakeIncidentStore{}
	h := NewHandler(incidents, subs, push.NewService(subs, push.Config{
		VAPIDPublicKey:  pub,
		VAPIDPrivateKey: priv,
		Subscriber:      "alerts@spc.example",
	}))
	return h, incidents
}

func newRelay(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func addSub(t *testing.T, f *fakeSubStore, userID, endpoint string) {
	t.Helper()
	p256dh, auth := newTestKeys(t)
	_, err := f.SaveSubscription(context.Background(), userID, endpoint, p256dh, auth)
	require.NoError(t, err)
}

func doDispatch(t *testing.T, h *Handler, method, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, "/api/push/dispatch", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.DispatchHandler(rec, req)
	return rec
}

func TestDispatchMethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t, &fakeSubStore{})
	rec := doDispatch(t, h, http.MethodGet, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDispatchPreflight(t *testing.T) {
	h, _ := newTestHandler(t, &fakeSubStore{})
	rec := doDispatch(t, h, http.MethodOptions, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestDispatchInvalidJSON(t *testing.T) {
	store := &fakeSubStore{}
	h, _ := newTestHandler(t, store)
	rec := doDispatch(t, h, http.MethodPost, "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, store.getCalls)
}

func TestDispatchMissingRequiredFields(t *testing.T) {
	store := &fakeSubStore{}
	h, _ := newTestHandler(t, store)

	for _, body := range []string{
		`{"body":"Hello"}`,
		`{"title":"Test"}`,
		`{}`,
	} {
		rec := doDispatch(t, h, http.MethodPost, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %s", body)
	}
	assert.Equal(t, 0, store.getCalls, "validation failures must not hit the store")
}

func TestDispatchUnconfigured(t *testing.T) {
	subs := &fakeSubStore{}
	h := NewHandler(&fakeIncidentStore{}, subs, push.NewService(subs, push.Config{}))

	rec := doDispatch(t, h, http.MethodPost, `{"title":"Test","body":"Hello"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "configuration", resp["type"])
	assert.Equal(t, 0, subs.getCalls)
}

func TestDispatchTargetedScenario(t *testing.T) {
	relay := newRelay(t, http.StatusCreated)
	store := &fakeSubStore{}
	addSub(t, store, "u1", relay.URL+"/send/1")
	addSub(t, store, "u3", relay.URL+"/send/3")
	h, _ := newTestHandler(t, store)

	rec := doDispatch(t, h, http.MethodPost, `{"title":"Test","body":"Hello","user_ids":["u1","u2"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, float64(1), resp["total_subscriptions"])
	assert.Equal(t, float64(1), resp["delivered_to"])
	assert.Equal(t, float64(0), resp["failed"])
	assert.Equal(t, "targeted", resp["notification_type"])
	assert.Equal(t, []any{"u1", "u2"}, resp["targeted_users"])
	_, hasErrors := resp["errors"]
	assert.False(t, hasErrors, "errors list is omitted when empty")
}

func TestDispatchBroadcastWithStaleSubscriptions(t *testing.T) {
	okRelay := newRelay(t, http.StatusCreated)
	goneRelay := newRelay(t, http.StatusGone)

	store := &fakeSubStore{}
	addSub(t, store, "u1", okRelay.URL+"/1")
	addSub(t, store, "u2", goneRelay.URL+"/2")
	addSub(t, store, "u3", okRelay.URL+"/3")
	addSub(t, store, "u4", goneRelay.URL+"/4")
	addSub(t, store, "u5", okRelay.URL+"/5")
	h, _ := newTestHandler(t, store)

	rec := doDispatch(t, h, http.MethodPost, `{"title":"Test","body":"Hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "broadcast", resp["notification_type"])
	assert.Equal(t, float64(3), resp["delivered_to"])
	assert.Equal(t, float64(2), resp["failed"])
	assert.Equal(t, float64(5), resp["total_subscriptions"])
	assert.Nil(t, resp["targeted_users"])
	assert.Len(t, resp["errors"], 2)

	count, _ := store.CountSubscriptions(context.Background())
	assert.Equal(t, 3, count, "stale subscriptions are removed by the dispatch")
}

func TestDispatchZeroSubscribers(t *testing.T) {
	h, _ := newTestHandler(t, &fakeSubStore{})

	rec := doDispatch(t, h, http.MethodPost, `{"title":"Test","body":"Hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, float64(0), resp["delivered_to"])
	assert.Equal(t, float64(0), resp["failed"])
	assert.Equal(t, "no subscriptions stored", resp["message"])

	// Targeted flavor gets the other message.
	rec = doDispatch(t, h, http.MethodPost, `{"title":"Test","body":"Hello","user_ids":["ghost"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = map[string]any{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "no subscriptions found for the requested users", resp["message"])
}
