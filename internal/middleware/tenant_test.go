package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/VictorHugoLeme/multitenancy/internal/service"
	"github.com/VictorHugoLeme/multitenancy/pkg/config"
	"github.com/VictorHugoLeme/multitenancy/pkg/multitenancy"
	"github.com/VictorHugoLeme/multitenancy/prometheus"
)

func TestMain(m *testing.M) {
	prometheus.InitMetrics(&config.Config{Metrics: config.MetricsConfig{Prefix: "middleware_test"}})
	os.Exit(m.Run())
}

func newMockPool(t *testing.T, name string) (*multitenancy.Pool, sqlmock.Sqlmock) {
	t.Helper()

	conn, mock, err := sqlmock.New()
	require.NoError(t, err)

	pool, err := multitenancy.NewPoolFromConn(conn, name)
	require.NoError(t, err)
	return pool, mock
}

// newBoundary loads a tenant service with BRA as the single active tenant and
// returns the middleware plus the management mock for per-request
// expectations.
func newBoundary(t *testing.T) (echo.MiddlewareFunc, sqlmock.Sqlmock) {
	t.Helper()

	cfg := &config.Config{
		Multitenancy: config.MultitenancyConfig{
			ManagementDBName: "db_tenants",
			TenantDBPrefix:   "db_",
		},
	}
	mgmt, mgmtMock := newMockPool(t, "db_tenants")
	braPool, _ := newMockPool(t, "db_bra")
	mgr := multitenancy.NewFakeManager(cfg, zap.NewNop(), mgmt, map[string]*multitenancy.Pool{"BRA": braPool})
	svc := service.NewTenantService(mgr, zap.NewNop())

	mgmtMock.ExpectQuery(`SELECT \* FROM "tenants" WHERE active = \$1`).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "name", "active"}).
			AddRow(1, "BRA", "Brazil", true))
	require.NoError(t, svc.LoadTenants(context.Background()))

	return TenantContext(svc), mgmtMock
}

func expectActiveCheck(mock sqlmock.Sqlmock, code string, count int) {
	mock.ExpectQuery(`SELECT count\(\*\) FROM "tenants" WHERE code = \$1 AND active = \$2`).
		WithArgs(code, true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(count))
}

func TestTenantContext(t *testing.T) {
	tests := []struct {
		name         string
		header       string
		setupMock    func(mock sqlmock.Sqlmock)
		wantStatus   int
		wantBody     string
		wantInScope  string
		handlerRuns  bool
	}{
		{
			name:       "missing header is a bad request",
			header:     "",
			setupMock:  func(sqlmock.Sqlmock) {},
			wantStatus: http.StatusBadRequest,
			wantBody:   "missing required header",
		},
		{
			name:   "unknown tenant is not found",
			header: "GER",
			setupMock: func(mock sqlmock.Sqlmock) {
				expectActiveCheck(mock, "GER", 0)
			},
			wantStatus: http.StatusNotFound,
			wantBody:   "not found or inactive",
		},
		{
			name:   "lookup failure is a server error",
			header: "BRA",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT count\(\*\) FROM "tenants"`).
					WillReturnError(errors.New("connection reset"))
			},
			wantStatus: http.StatusInternalServerError,
			wantBody:   "tenant lookup failed",
		},
		{
			name:   "active tenant reaches the handler in scope",
			header: "BRA",
			setupMock: func(mock sqlmock.Sqlmock) {
				expectActiveCheck(mock, "BRA", 1)
			},
			wantStatus:  http.StatusOK,
			wantInScope: "BRA",
			handlerRuns: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw, mgmtMock := newBoundary(t)
			tt.setupMock(mgmtMock)

			ran := false
			handler := mw(func(c echo.Context) error {
				ran = true
				code, ok := multitenancy.TenantFrom(c.Request().Context())
				assert.True(t, ok)
				assert.Equal(t, tt.wantInScope, code)
				return c.JSON(http.StatusOK, echo.Map{"tenant": code})
			})

			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/v1/products", nil)
			if tt.header != "" {
				req.Header.Set(TenantHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			require.NoError(t, handler(c))
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
			assert.Equal(t, tt.handlerRuns, ran)

			// Whatever happened inside, the request context the middleware
			// leaves behind carries no tenant.
			_, bound := multitenancy.TenantFrom(c.Request().Context())
			assert.False(t, bound)

			assert.NoError(t, mgmtMock.ExpectationsWereMet())
		})
	}
}

func TestTenantContextCacheDrift(t *testing.T) {
	// The database says the tenant is active, but the cache has not seen it
	// yet. The boundary rejects rather than entering an unusable scope.
	mw, mgmtMock := newBoundary(t)
	expectActiveCheck(mgmtMock, "GER", 1)

	handler := mw(func(c echo.Context) error {
		t.Error("handler should not run for an uncached tenant")
		return nil
	})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/products", nil)
	req.Header.Set(TenantHeader, "GER")
	rec := httptest.NewRecorder()

	require.NoError(t, handler(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NoError(t, mgmtMock.ExpectationsWereMet())
}
