package entity

import (
	stdcontext "context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnarwell/trellis-sub000/pkg/context"
	"github.com/jnarwell/trellis-sub000/pkg/entities"
	"github.com/jnarwell/trellis-sub000/pkg/errors"
	"github.com/jnarwell/trellis-sub000/pkg/middleware"
	"github.com/jnarwell/trellis-sub000/pkg/models"
	"github.com/jnarwell/trellis-sub000/pkg/query"
)

type fakeService struct {
	created   *entities.CreateInput
	updated   *entities.UpdateInput
	getOpts   *entities.GetOptions
	deletedID string
	hard      bool
	queryReq  *query.Request
	tenantID  string
	err       error
}

func (f *fakeService) Create(_ stdcontext.Context, tenantID, actorID string, input entities.CreateInput) (*models.Entity, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tenantID = tenantID
	f.created = &input
	return &models.Entity{ID: "e1", TenantID: tenantID, Type: input.Type, Version: 1, CreatedBy: actorID}, nil
}

func (f *fakeService) Get(_ stdcontext.Context, tenantID, id string, opts entities.GetOptions) (*models.Entity, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.getOpts = &opts
	return &models.Entity{ID: id, TenantID: tenantID, Type: "product", Version: 1}, nil
}

func (f *fakeService) Update(_ stdcontext.Context, tenantID, _, id string, input entities.UpdateInput) (*models.Entity, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.updated = &input
	return &models.Entity{ID: id, TenantID: tenantID, Type: "product", Version: 2}, nil
}

func (f *fakeService) Delete(_ stdcontext.Context, _, _, id string, hard bool) error {
	f.deletedID = id
	f.hard = hard
	return f.err
}

func (f *fakeService) Query(_ stdcontext.Context, req query.Request) (*entities.QueryResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.queryReq = &req
	return &entities.QueryResult{Data: []*models.Entity{{ID: "e1", TenantID: req.TenantID}}}, nil
}

func newServer(service Service) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}), false)
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := context.SetTenantID(req.Context(), "tenant-a")
			ctx = context.SetActorID(ctx, "user-1")
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	})
	NewHandler(service).Register(e.Group(""))
	return e
}

func TestCreateEntity(t *testing.T) {
	svc := &fakeService{}
	e := newServer(svc)

	body := `{"type":"product","properties":{"price":{"kind":"literal","value":{"kind":"number","value":10}}}}`
	req := httptest.NewRequest(http.MethodPost, "/entities", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "tenant-a", svc.tenantID)
	require.NotNil(t, svc.created)
	assert.Equal(t, "product", svc.created.Type)
	assert.Contains(t, svc.created.Properties, "price")
}

func TestCreateEntityRequiresType(t *testing.T) {
	e := newServer(&fakeService{})

	req := httptest.NewRequest(http.MethodPost, "/entities", strings.NewReader(`{"properties":{}}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetEntityNotFound(t *testing.T) {
	e := newServer(&fakeService{err: errors.New(errors.CodeNotFound, "entity missing")})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/entities/e404", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body middleware.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "NOT_FOUND", body.Code)
}

func TestGetEntityEvaluateFlags(t *testing.T) {
	svc := &fakeService{}
	e := newServer(svc)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/entities/e1?evaluate_computed=true&resolve_inherited", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.getOpts)
	assert.True(t, svc.getOpts.EvaluateComputed)
	assert.True(t, svc.getOpts.ResolveInherited)
}

func TestDeleteEntityHardFlag(t *testing.T) {
	svc := &fakeService{}
	e := newServer(svc)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/entities/e1?hard_delete=true", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "e1", svc.deletedID)
	assert.True(t, svc.hard)
}

func TestDeleteEntityDefaultsSoft(t *testing.T) {
	svc := &fakeService{}
	e := newServer(svc)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/entities/e1", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, svc.hard)
}

func TestQueryOverridesTenant(t *testing.T) {
	svc := &fakeService{}
	e := newServer(svc)

	body := `{"type":"product","limit":10}`
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.queryReq)
	assert.Equal(t, "tenant-a", svc.queryReq.TenantID)
	assert.Equal(t, "product", svc.queryReq.Type)
}

func TestVersionConflictMapsTo409(t *testing.T) {
	e := newServer(&fakeService{err: errors.New(errors.CodeVersionConflict, "entity e1 was modified concurrently")})

	req := httptest.NewRequest(http.MethodPut, "/entities/e1", strings.NewReader(`{"version":1,"set_properties":{}}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}
