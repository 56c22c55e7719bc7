package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fieldops/internal/domain"
	"fieldops/internal/metrics"
	"fieldops/internal/repository"
	"fieldops/internal/service"
	"fieldops/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memPhotos struct {
	keys []string
	err  error
}

func (m *memPhotos) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.keys = append(m.keys, key)
	return "https://cdn.test/" + key, nil
}

type apiEnv struct {
	store   *repository.MemoryStore
	router  *Router
	metrics *metrics.Collector
	photos  *memPhotos
	stream  *store.NotificationStream
	notifs  *NotificationsHandler
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	st := repository.NewMemoryStore()
	for _, p := range []domain.Profile{
		{ProfileID: "p-admin", CompanyID: "c1", Role: domain.RoleAdmin, FullName: "Ada"},
		{ProfileID: "p-m1", CompanyID: "c1", Role: domain.RoleManager, FullName: "Max"},
		{ProfileID: "p-m2", CompanyID: "c1", Role: domain.RoleManager, FullName: "Mia"},
		{ProfileID: "p-cu1", CompanyID: "c1", Role: domain.RoleCustomer, FullName: "Cora"},
		{ProfileID: "p-t1", CompanyID: "c1", Role: domain.RoleTeam, FullName: "Tess"},
	} {
		st.AddProfile(p)
	}
	st.AddCustomer(domain.Customer{CustomerID: "C1", CompanyID: "c1", ProfileID: "p-cu1", Name: "Cora"})
	st.AddCustomer(domain.Customer{CustomerID: "C2", CompanyID: "c1", Name: "Walk-in"})
	st.AddTeamMember(domain.TeamMember{TeamMemberID: "T1", CompanyID: "c1", ProfileID: "p-t1", IsActive: true})
	st.AddServiceType("c1", "S1")

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	logger := zap.NewNop()
	m := metrics.NewCollector()
	stream := store.NewNotificationStream(rc, 100)
	photos := &memPhotos{}

	authz := service.NewAuthorizer(st)
	notifier := service.NewNotificationService(st, m, logger, stream)
	jobs := service.NewJobService(st, authz, notifier, m, logger)
	assignments := service.NewAssignmentService(st, authz, notifier, logger)
	updates := service.NewJobUpdateService(st, authz, notifier, photos, m, logger)
	locations := service.NewLocationService(st, authz, store.NewLocationCache(store.NewRedisKV(rc), time.Minute), m, logger)

	auth := NewAuthenticator(st.Repos().Profiles, logger)
	notifs := NewNotificationsHandler(auth, notifier, stream, logger)
	notifs.streamBlock = 20 * time.Millisecond

	r := NewRouter(m, logger)
	r.RegisterJobRoutes(NewJobsHandler(auth, jobs, assignments, updates, logger))
	r.RegisterLocationRoutes(NewLocationsHandler(auth, locations, logger))
	r.RegisterNotificationRoutes(notifs)
	r.RegisterOpsRoutes()

	return &apiEnv{store: st, router: r, metrics: m, photos: photos, stream: stream, notifs: notifs}
}

// do 以 user 身份发请求；body 为 nil 时不带 body
func (e *apiEnv) do(t *testing.T, user, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func tomorrow() string {
	return time.Now().AddDate(0, 0, 1).Format(domain.DateLayout)
}

func (e *apiEnv) createJob(t *testing.T) string {
	t.Helper()
	w := e.do(t, "p-admin", http.MethodPost, "/jobs", map[string]any{
		"customer_id":     "C1",
		"service_type_id": "S1",
		"title":           "Deep clean",
		"service_address": "1 Main St",
		"scheduled_date":  tomorrow(),
		"scheduled_time":  "09:30",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	job := decode(t, w)["job"].(map[string]any)
	return job["id"].(string)
}
