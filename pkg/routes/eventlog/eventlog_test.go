package eventlog

import (
	stdcontext "context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnarwell/trellis-sub000/internal/repositories/event"
	"github.com/jnarwell/trellis-sub000/pkg/context"
	"github.com/jnarwell/trellis-sub000/pkg/middleware"
	"github.com/jnarwell/trellis-sub000/pkg/models"
)

type fakeStore struct {
	tenantID string
	opts     event.QueryOptions
}

func (f *fakeStore) Query(_ stdcontext.Context, tenantID string, opts event.QueryOptions) ([]*models.Event, error) {
	f.tenantID = tenantID
	f.opts = opts
	return []*models.Event{{ID: "ev1", TenantID: tenantID, EventType: models.EventEntityCreated}}, nil
}

func newServer(store Store) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}), false)
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			c.SetRequest(req.WithContext(context.SetTenantID(req.Context(), "tenant-a")))
			return next(c)
		}
	})
	NewHandler(store).Register(e.Group(""))
	return e
}

func TestListParsesFilters(t *testing.T) {
	store := &fakeStore{}
	e := newServer(store)

	rec := httptest.NewRecorder()
	target := "/events?event_type=entity_created,property_changed&entity_id=e1&from=2026-01-01T00:00:00Z&limit=25"
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tenant-a", store.tenantID)
	assert.Equal(t, []models.EventType{models.EventEntityCreated, models.EventPropertyChanged}, store.opts.EventTypes)
	assert.Equal(t, "e1", store.opts.EntityID)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), store.opts.From)
	assert.Equal(t, 25, store.opts.Limit)
}

func TestListRejectsBadTimestamp(t *testing.T) {
	e := newServer(&fakeStore{})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?from=yesterday", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRejectsNegativeLimit(t *testing.T) {
	e := newServer(&fakeStore{})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?limit=-5", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
