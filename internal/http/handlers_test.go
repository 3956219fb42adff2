package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/roadside-dispatch/internal/apperr"
	"github.com/example/roadside-dispatch/internal/auth"
	"github.com/example/roadside-dispatch/internal/idgen"
	"github.com/example/roadside-dispatch/internal/lifecycle"
	"github.com/example/roadside-dispatch/internal/logging"
	"github.com/example/roadside-dispatch/internal/matcher"
	"github.com/example/roadside-dispatch/internal/models"
	"github.com/example/roadside-dispatch/internal/ratelimit"
	"github.com/example/roadside-dispatch/internal/roster"
	"github.com/example/roadside-dispatch/internal/storage"
)

const driverPhone = "+4915112345678"

type testEnv struct {
	srv     *Server
	store   *storage.MemoryStore
	drivers *roster.MemoryDirectory
}

func newEnv(t *testing.T, sessions *auth.Sessions, limiter ratelimit.Limiter) *testEnv {
	t.Helper()
	store := storage.NewMemoryStore()
	drivers := roster.NewMemoryDirectory()
	_, err := drivers.Upsert(context.Background(), models.Driver{
		ID: "d1", Name: "Kai Berger", Phone: driverPhone, VehicleType: "tow truck",
		Loc: models.Coord{Lat: 53.55, Lon: 9.99}, Available: true, ManuallyOnline: true, Rating: 4.8,
	})
	require.NoError(t, err)
	logger := logging.Discard()
	lc := lifecycle.New(store, drivers, idgen.New(), nil, logger, lifecycle.Options{})
	srv := NewServer(Deps{
		Lifecycle:     lc,
		Drivers:       drivers,
		Ranker:        &matcher.Service{Active: store, Logger: logger},
		Sessions:      sessions,
		Limiter:       limiter,
		Logger:        logger,
		CallerID:      "+4940123456",
		PublicBaseURL: "https://help.example.com",
	})
	return &testEnv{srv: srv, store: store, drivers: drivers}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

const bookingBody = `{"helpId":"HLP1A2B-XY","driverId":"d1","status":"pending",
	"userLocation":{"lat":53.56,"lon":10.0,"address":"Jungfernstieg 1, Hamburg"},"userPhone":"+4917000000000"}`

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(apperr.Invalid("x", "y")))
	assert.Equal(t, http.StatusNotFound, statusFor(fmt.Errorf("driver: %w", apperr.ErrNotFound)))
	assert.Equal(t, http.StatusConflict, statusFor(apperr.ErrConflict))
	assert.Equal(t, http.StatusUnauthorized, statusFor(auth.ErrBadSecret))
	assert.Equal(t, http.StatusInternalServerError, statusFor(apperr.ErrDuplicateID))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func TestCreateAssignThenLookupByHelpID(t *testing.T) {
	e := newEnv(t, nil, nil)

	rec := e.do(t, http.MethodPost, "/api/v1/assignments", bookingBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var created createdResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "HLP1A2B-XY", created.HelpID)
	assert.Equal(t, models.StatusPending, created.Status)
	assert.False(t, created.CreatedAt.IsZero())

	rec = e.do(t, http.MethodPut, "/api/v1/assignments/"+created.AssignmentID, `{"status":"assigned"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/api/v1/assignments?helpId=HLP1A2B-XY", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var views []models.AssignmentView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, models.StatusAssigned, views[0].Status)
	assert.Equal(t, "Kai Berger", views[0].DriverName)
}

func TestCreateAssignmentErrors(t *testing.T) {
	e := newEnv(t, nil, nil)

	rec := e.do(t, http.MethodPost, "/api/v1/assignments", `{"driverId":"d1","userLocation":{"lat":0,"lon":0}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Details, "userLocation")

	rec = e.do(t, http.MethodPost, "/api/v1/assignments", `{"driverId":"ghost","userLocation":{"lat":53.5,"lon":10}}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/assignments", `{"driverId":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateAssignmentConflictAndIllegal(t *testing.T) {
	e := newEnv(t, nil, nil)
	rec := e.do(t, http.MethodPost, "/api/v1/assignments", bookingBody)
	var created createdResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	path := "/api/v1/assignments/" + created.AssignmentID

	rec = e.do(t, http.MethodPut, path, `{"status":"completed"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPut, path, `{"status":"completed","expectedStatus":"assigned"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodPut, path, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPut, path, `{"notes":"red Golf"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var v models.AssignmentView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, "red Golf", v.Notes)
	assert.Equal(t, models.StatusPending, v.Status)

	rec = e.do(t, http.MethodPut, "/api/v1/assignments/ASN1", `{"status":"assigned"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = e.do(t, http.MethodGet, path, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateAssignmentFailedTransitionKeepsDetails(t *testing.T) {
	e := newEnv(t, nil, nil)
	rec := e.do(t, http.MethodPost, "/api/v1/assignments", bookingBody)
	var created createdResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	path := "/api/v1/assignments/" + created.AssignmentID

	rec = e.do(t, http.MethodPut, path, `{"status":"completed","notes":"overwritten"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(t, http.MethodPut, path, `{"status":"cancelled","expectedStatus":"assigned","userPhone":"+491"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	stored, err := e.store.Get(context.Background(), created.AssignmentID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Empty(t, stored.Notes)
	assert.Equal(t, "+4917000000000", stored.UserPhone)

	rec = e.do(t, http.MethodPut, path, `{"status":"assigned","notes":"red Golf"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var v models.AssignmentView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, models.StatusAssigned, v.Status)
	assert.Equal(t, "red Golf", v.Notes)
}

func TestListAssignmentsRejectsBadFilters(t *testing.T) {
	e := newEnv(t, nil, nil)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/v1/assignments?status=parked", "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/v1/assignments?limit=-1", "").Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/v1/assignments?status=PENDING&limit=5", "").Code)
}

func TestRankDrivers(t *testing.T) {
	e := newEnv(t, nil, nil)

	rec := e.do(t, http.MethodGet, "/api/v1/drivers?lat=53.56&lon=10.00&radiusKm=30", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ranked []models.RankedDriver
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ranked))
	require.Len(t, ranked, 1)
	assert.Equal(t, 1.3, ranked[0].DistanceKm)
	assert.Equal(t, 10, ranked[0].ETAMinutes)

	rec = e.do(t, http.MethodPost, "/api/v1/assignments", bookingBody)
	var created createdResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	e.do(t, http.MethodPut, "/api/v1/assignments/"+created.AssignmentID, `{"status":"assigned"}`)

	rec = e.do(t, http.MethodGet, "/api/v1/drivers?lat=53.56&lon=10.00", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ranked))
	assert.Empty(t, ranked, "driver on an assigned job is not offered")

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/v1/drivers?lat=99&lon=10", "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/v1/drivers?lat=53&lon=10&radiusKm=-2", "").Code)
}

func TestDriverAdminEndpoints(t *testing.T) {
	e := newEnv(t, nil, nil)

	rec := e.do(t, http.MethodPost, "/api/v1/drivers",
		`{"id":"d2","name":"Lena","phone":"0049 151 999","loc":{"lat":53.6,"lon":10.1},"available":true,"manuallyOnline":true,"rating":4.1,
		"workingHours":{"mon":["08:00","18:00"],"sat":"24/7"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodPut, "/api/v1/drivers/d2/online", `{"online":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var d models.Driver
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.False(t, d.ManuallyOnline)
	assert.True(t, d.Available)
	assert.True(t, d.WorkingHours["sat"].AllDay)

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPut, "/api/v1/drivers/nope/online", `{"online":true}`).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPut, "/api/v1/drivers/d2/online", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/api/v1/drivers", `{"name":"no id"}`).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/api/v1/drivers", `{"id":"d3","rating":7}`).Code)

	rec = e.do(t, http.MethodGet, "/api/v1/drivers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []models.Driver
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 2)
}

func TestAdminRoutesRequireSession(t *testing.T) {
	e := newEnv(t, auth.NewSessions("open-sesame", "", time.Hour), nil)

	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/api/v1/assignments", "").Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/api/v1/drivers", "").Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/v1/drivers?lat=53.56&lon=10", "").Code, "ranking is public")
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/v1/assignments", bookingBody).Code, "booking is public")

	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodPost, "/api/v1/admin/login", `{"secret":"guess"}`).Code)
	rec := e.do(t, http.MethodPost, "/api/v1/admin/login", `{"secret":"open-sesame"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var login struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	require.NotEmpty(t, login.Token)

	rec = e.do(t, http.MethodGet, "/api/v1/assignments", "", "Authorization", "Bearer "+login.Token)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, http.MethodGet, "/api/v1/assignments?token="+login.Token, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, http.MethodGet, "/api/v1/assignments", "", "Authorization", "Bearer forged")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimitAndSecurityHeaders(t *testing.T) {
	e := newEnv(t, nil, ratelimit.NewMemoryLimiter(2, time.Minute))
	e.srv.TrustProxy = true

	for i := 0; i < 2; i++ {
		rec := e.do(t, http.MethodGet, "/api/v1/assignments", "", "X-Forwarded-For", "198.51.100.9, 203.0.113.7")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "203.0.113.7", rec.Header().Get("X-Client-IP"))
	}
	// a forged leftmost hop does not change the key
	rec := e.do(t, http.MethodGet, "/api/v1/assignments", "", "X-Forwarded-For", "10.9.8.7, 203.0.113.7")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = e.do(t, http.MethodGet, "/api/v1/assignments", "", "X-Real-IP", "198.51.100.1")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/healthz", "", "X-Forwarded-For", "203.0.113.7")
	assert.Equal(t, http.StatusOK, rec.Code, "limits apply to the API only")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRateLimitIgnoresForwardingHeadersByDefault(t *testing.T) {
	e := newEnv(t, nil, ratelimit.NewMemoryLimiter(1, time.Minute))

	rec := e.do(t, http.MethodGet, "/api/v1/assignments", "", "X-Forwarded-For", "203.0.113.1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "192.0.2.1", rec.Header().Get("X-Client-IP"))

	rec = e.do(t, http.MethodGet, "/api/v1/assignments", "", "X-Forwarded-For", "203.0.113.2")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	rec = e.do(t, http.MethodGet, "/api/v1/assignments", "", "X-Real-IP", "203.0.113.3")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestRateLimiterOutageFailsOpen(t *testing.T) {
	e := newEnv(t, nil, failingLimiter{})
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/v1/assignments", "").Code)
}

func TestHealthz(t *testing.T) {
	e := newEnv(t, nil, nil)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/healthz", "").Code)

	e.srv.Ready = func(context.Context) error { return errors.New("db down") }
	assert.Equal(t, http.StatusServiceUnavailable, e.do(t, http.MethodGet, "/healthz", "").Code)
}
