package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/VictorHugoLeme/multitenancy/internal/service"
	"github.com/VictorHugoLeme/multitenancy/pkg/multitenancy"
)

// newProductStack wires product and general handlers over two tenant pools.
// LoadTenants fills the tenant scope cache so cross-tenant iteration works,
// riding the provisioning fast path since both pools are pre-seeded.
func newProductStack(t *testing.T) (*ProductHandler, *GeneralHandler, sqlmock.Sqlmock, sqlmock.Sqlmock, sqlmock.Sqlmock) {
	t.Helper()

	braPool, braMock := newMockPool(t, "db_bra")
	canPool, canMock := newMockPool(t, "db_can")
	mgmt, mgmtMock := newMockPool(t, "db_tenants")
	mgr := multitenancy.NewFakeManager(testConfig(), zap.NewNop(), mgmt, map[string]*multitenancy.Pool{
		"BRA": braPool,
		"CAN": canPool,
	})

	svc := service.NewTenantService(mgr, zap.NewNop())
	mgmtMock.ExpectQuery(`SELECT \* FROM "tenants" WHERE active = \$1`).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "name", "active"}).
			AddRow(1, "BRA", "Brazil", true).
			AddRow(2, "CAN", "Canada", true))
	require.NoError(t, svc.LoadTenants(context.Background()))

	products := service.NewProductService(mgr, svc, zap.NewNop())
	return NewProductHandler(products), NewGeneralHandler(products), braMock, canMock, mgmtMock
}

func scopedRequest(req *http.Request, code string) *http.Request {
	return req.WithContext(multitenancy.WithTenant(req.Context(), code))
}

func TestProductHandlerCreate(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setupMock  func(mock sqlmock.Sqlmock)
		wantStatus int
		wantBody   string
	}{
		{
			name:       "malformed body",
			body:       "{broken",
			setupMock:  func(sqlmock.Sqlmock) {},
			wantStatus: http.StatusBadRequest,
			wantBody:   "invalid request",
		},
		{
			name:       "missing name",
			body:       `{"description":"anonymous"}`,
			setupMock:  func(sqlmock.Sqlmock) {},
			wantStatus: http.StatusBadRequest,
			wantBody:   "name is required",
		},
		{
			name: "created",
			body: `{"name":"Coffee","description":"Beans","price":12.5}`,
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`INSERT INTO "products"`).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
				mock.ExpectCommit()
			},
			wantStatus: http.StatusCreated,
			wantBody:   `"name":"Coffee"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, braMock, canMock, _ := newProductStack(t)
			tt.setupMock(braMock)

			rec := httptest.NewRecorder()
			req := scopedRequest(jsonRequest(http.MethodPost, "/v1/products", tt.body), "BRA")
			c := echo.New().NewContext(req, rec)

			require.NoError(t, h.Create(c))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
			assert.NoError(t, braMock.ExpectationsWereMet())
			// The sibling tenant's database must never see the write.
			assert.NoError(t, canMock.ExpectationsWereMet())
		})
	}
}

func TestProductHandlerList(t *testing.T) {
	h, _, _, canMock, _ := newProductStack(t)
	canMock.ExpectQuery(`SELECT \* FROM "products" ORDER BY id`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price"}).
			AddRow(1, "Maple Syrup", 8.25))

	rec := httptest.NewRecorder()
	req := scopedRequest(httptest.NewRequest(http.MethodGet, "/v1/products", nil), "CAN")
	c := echo.New().NewContext(req, rec)

	require.NoError(t, h.List(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"Maple Syrup"`)
	assert.NoError(t, canMock.ExpectationsWereMet())
}

func TestProductHandlerListUnknownScope(t *testing.T) {
	h, _, _, _, _ := newProductStack(t)

	rec := httptest.NewRecorder()
	req := scopedRequest(httptest.NewRequest(http.MethodGet, "/v1/products", nil), "GER")
	c := echo.New().NewContext(req, rec)

	require.NoError(t, h.List(c))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to retrieve products")
}

func TestGeneralHandlerCountProducts(t *testing.T) {
	_, h, braMock, canMock, mgmtMock := newProductStack(t)

	mgmtMock.ExpectQuery(`SELECT \* FROM "tenants" WHERE active = \$1 ORDER BY code`).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "name", "active"}).
			AddRow(1, "BRA", "Brazil", true).
			AddRow(2, "CAN", "Canada", true))
	braMock.ExpectQuery(`SELECT count\(\*\) FROM "products"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	canMock.ExpectQuery(`SELECT count\(\*\) FROM "products"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/v1/general/products/count", nil), rec)

	require.NoError(t, h.CountProducts(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":7`)
	assert.NoError(t, mgmtMock.ExpectationsWereMet())
	assert.NoError(t, braMock.ExpectationsWereMet())
	assert.NoError(t, canMock.ExpectationsWereMet())
}

func TestHealthCheck(t *testing.T) {
	braPool, _ := newMockPool(t, "db_bra")
	mgmt, mgmtMock := newMockPool(t, "db_tenants")
	mgr := multitenancy.NewFakeManager(testConfig(), zap.NewNop(), mgmt, map[string]*multitenancy.Pool{"BRA": braPool})
	h := NewHealthHandler(mgr)

	t.Run("basic", func(t *testing.T) {
		rec := httptest.NewRecorder()
		c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)

		require.NoError(t, h.HealthCheck(c))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"ok"`)
		assert.Contains(t, rec.Body.String(), `"tenant_pools":1`)
	})

	t.Run("db check ok", func(t *testing.T) {
		mgmtMock.ExpectQuery(`SELECT 1`).
			WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

		rec := httptest.NewRecorder()
		c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/health?check=db", nil), rec)

		require.NoError(t, h.HealthCheck(c))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"db_status":"ok"`)
		assert.NoError(t, mgmtMock.ExpectationsWereMet())
	})

	t.Run("db check failing", func(t *testing.T) {
		mgmtMock.ExpectQuery(`SELECT 1`).
			WillReturnError(assert.AnError)

		rec := httptest.NewRecorder()
		c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/health?check=db", nil), rec)

		require.NoError(t, h.HealthCheck(c))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), `"db_status":"error"`)
		assert.NoError(t, mgmtMock.ExpectationsWereMet())
	})
}
