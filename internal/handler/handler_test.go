package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/culturearts-api/internal/dto"
	"github.com/noah-isme/culturearts-api/internal/middleware"
	"github.com/noah-isme/culturearts-api/internal/models"
	"github.com/noah-isme/culturearts-api/internal/service"
	appErrors "github.com/noah-isme/culturearts-api/pkg/errors"
)

var (
	staffClaims   = &models.JWTClaims{UserID: "staff-1", Role: models.RoleStaff}
	studentClaims = &models.JWTClaims{UserID: "S42", Role: models.RoleStudent}
)

func newGinContext(method, path string, body []byte, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

type envelope struct {
	Data       json.RawMessage        `json:"data"`
	Error      *appErrors.Error       `json:"error"`
	Pagination *models.Pagination     `json:"pagination"`
	Meta       map[string]interface{} `json:"meta"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

type catalogServiceMock struct {
	page      *service.ItemPage
	item      *models.InventoryItem
	err       error
	lastQuery dto.ItemQuery
	lastID    string
	lastActor *models.JWTClaims
}

func (m *catalogServiceMock) ListAvailable(ctx context.Context, query dto.ItemQuery) (*service.ItemPage, error) {
	m.lastQuery = query
	return m.page, m.err
}

func (m *catalogServiceMock) List(ctx context.Context, query dto.ItemQuery) (*service.ItemPage, error) {
	m.lastQuery = query
	return m.page, m.err
}

func (m *catalogServiceMock) Get(ctx context.Context, id string) (*models.InventoryItem, error) {
	m.lastID = id
	return m.item, m.err
}

func (m *catalogServiceMock) Create(ctx context.Context, actor *models.JWTClaims, req dto.CreateItemRequest) (*models.InventoryItem, error) {
	m.lastActor = actor
	return m.item, m.err
}

func (m *catalogServiceMock) UpdateCondition(ctx context.Context, actor *models.JWTClaims, itemID string, req dto.UpdateConditionRequest) (*models.InventoryItem, error) {
	m.lastID = itemID
	return m.item, m.err
}

func (m *catalogServiceMock) SetStatus(ctx context.Context, actor *models.JWTClaims, itemID string, req dto.UpdateItemStatusRequest) (*models.InventoryItem, error) {
	m.lastID = itemID
	return m.item, m.err
}

type reportServiceMock struct {
	result *service.ExportResult
	err    error
	format string
}

func (m *reportServiceMock) BorrowedReport(ctx context.Context, actor *models.JWTClaims, format string) (*service.ExportResult, error) {
	m.format = format
	return m.result, m.err
}

type approvalServiceMock struct {
	bindings []models.BorrowBinding
	request  *models.BorrowRequest
	err      error
	lastReq  dto.ApproveBorrowRequest
}

func (m *approvalServiceMock) Approve(ctx context.Context, actor *models.JWTClaims, requestID string, req dto.ApproveBorrowRequest) ([]models.BorrowBinding, error) {
	m.lastReq = req
	return m.bindings, m.err
}

func (m *approvalServiceMock) Reject(ctx context.Context, actor *models.JWTClaims, requestID string, req dto.RejectBorrowRequest) (*models.BorrowRequest, error) {
	return m.request, m.err
}

type returnConfirmerMock struct {
	request *models.ReturnRequest
	err     error
	lastReq dto.ConfirmReturnRequest
}

func (m *returnConfirmerMock) ConfirmReturn(ctx context.Context, actor *models.JWTClaims, returnID string, req dto.ConfirmReturnRequest) (*models.ReturnRequest, error) {
	m.lastReq = req
	return m.request, m.err
}

func TestInventoryHandlerListAvailableSetsMeta(t *testing.T) {
	svc := &catalogServiceMock{page: &service.ItemPage{
		Items:      []models.InventoryItem{{ID: "item-1", Name: "Barong Tagalog"}},
		Pagination: models.Pagination{Page: 1, PageSize: 20, TotalCount: 1},
		CacheHit:   true,
	}}
	h := NewInventoryHandler(svc, nil)

	c, w := newGinContext(http.MethodGet, "/inventory/items/available?category=costume&search=barong&page=2&page_size=5", nil, nil)
	c.Set("response_meta", map[string]interface{}{})
	h.ListAvailable(c)

	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Pagination)
	assert.Equal(t, 1, env.Pagination.TotalCount)
	assert.Equal(t, true, env.Meta["cache_hit"])
	assert.Equal(t, dto.ItemQuery{Category: "costume", Search: "barong", Page: 2, PageSize: 5}, svc.lastQuery)
}

func TestInventoryHandlerGetNotFound(t *testing.T) {
	h := NewInventoryHandler(&catalogServiceMock{err: appErrors.ErrItemNotFound}, nil)
	c, w := newGinContext(http.MethodGet, "/inventory/items/missing", nil, nil)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}
	h.Get(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, "ITEM_NOT_FOUND", env.Error.Code)
}

func TestInventoryHandlerCreateRequiresClaims(t *testing.T) {
	h := NewInventoryHandler(&catalogServiceMock{item: &models.InventoryItem{ID: "item-1"}}, nil)
	body, _ := json.Marshal(dto.CreateItemRequest{Name: "Gong", Category: "equipment", Condition: "good"})
	c, w := newGinContext(http.MethodPost, "/inventory/items", body, nil)
	h.Create(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestInventoryHandlerCreate(t *testing.T) {
	svc := &catalogServiceMock{item: &models.InventoryItem{ID: "item-1", Name: "Gong"}}
	h := NewInventoryHandler(svc, nil)
	body, _ := json.Marshal(dto.CreateItemRequest{Name: "Gong", Category: "equipment", Condition: "good"})
	c, w := newGinContext(http.MethodPost, "/inventory/items", body, staffClaims)
	h.Create(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Same(t, staffClaims, svc.lastActor)
}

func TestInventoryHandlerSetStatusConflict(t *testing.T) {
	svc := &catalogServiceMock{err: appErrors.Clone(appErrors.ErrItemUnavailable, "item is borrowed")}
	h := NewInventoryHandler(svc, nil)
	body := []byte(`{"status":"maintenance"}`)
	c, w := newGinContext(http.MethodPatch, "/inventory/items/item-1/status", body, staffClaims)
	c.Params = gin.Params{{Key: "id", Value: "item-1"}}
	h.SetStatus(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "item-1", svc.lastID)
}

func TestInventoryHandlerBorrowedReport(t *testing.T) {
	reports := &reportServiceMock{result: &service.ExportResult{
		Filename:    "borrowed-items.csv",
		ContentType: "text/csv",
		Payload:     []byte("Item,Student\n"),
	}}
	h := NewInventoryHandler(nil, reports)
	c, w := newGinContext(http.MethodGet, "/inventory/reports/borrowed?format=csv", nil, staffClaims)
	h.BorrowedReport(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "csv", reports.format)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "borrowed-items.csv")
	assert.Equal(t, "Item,Student\n", w.Body.String())
}

func TestBorrowHandlerApproveRejectsMalformedPayload(t *testing.T) {
	h := NewBorrowHandler(nil, &approvalServiceMock{})
	c, w := newGinContext(http.MethodPost, "/borrow-requests/req-1/approve", []byte(`{"item_ids":`), staffClaims)
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	h.Approve(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBorrowHandlerApproveMapsUnavailable(t *testing.T) {
	approval := &approvalServiceMock{err: appErrors.Clone(appErrors.ErrItemUnavailable, "")}
	h := NewBorrowHandler(nil, approval)
	c, w := newGinContext(http.MethodPost, "/borrow-requests/req-1/approve", []byte(`{"item_ids":["a","b"]}`), staffClaims)
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	h.Approve(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, []string{"a", "b"}, approval.lastReq.ItemIDs)
	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, "ITEM_UNAVAILABLE", env.Error.Code)
}

func TestBorrowHandlerApprove(t *testing.T) {
	approval := &approvalServiceMock{bindings: []models.BorrowBinding{{ID: "bind-1", ItemID: "a", BorrowRequestID: "req-1"}}}
	h := NewBorrowHandler(nil, approval)
	c, w := newGinContext(http.MethodPost, "/borrow-requests/req-1/approve", []byte(`{"item_ids":["a"]}`), staffClaims)
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	h.Approve(c)

	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	var data struct {
		RequestID string                 `json:"request_id"`
		Bindings  []models.BorrowBinding `json:"bindings"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "req-1", data.RequestID)
	require.Len(t, data.Bindings, 1)
	assert.Equal(t, "bind-1", data.Bindings[0].ID)
}

func TestBorrowHandlerRejectAcceptsEmptyBody(t *testing.T) {
	approval := &approvalServiceMock{request: &models.BorrowRequest{ID: "req-1", Status: models.BorrowRequestRejected}}
	h := NewBorrowHandler(nil, approval)
	c, w := newGinContext(http.MethodPost, "/borrow-requests/req-1/reject", nil, staffClaims)
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	h.Reject(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReturnHandlerConfirmFinalized(t *testing.T) {
	processor := &returnConfirmerMock{err: appErrors.Clone(appErrors.ErrRequestFinalized, "")}
	h := NewReturnHandler(nil, processor)
	c, w := newGinContext(http.MethodPost, "/return-requests/ret-1/confirm", []byte(`{"condition":"worn-out"}`), staffClaims)
	c.Params = gin.Params{{Key: "id", Value: "ret-1"}}
	h.Confirm(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "worn-out", processor.lastReq.Condition)
}

func TestReturnHandlerConfirmWithoutClaims(t *testing.T) {
	h := NewReturnHandler(nil, &returnConfirmerMock{})
	c, w := newGinContext(http.MethodPost, "/return-requests/ret-1/confirm", nil, nil)
	h.Confirm(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandlersWithoutServiceReportInternal(t *testing.T) {
	c, w := newGinContext(http.MethodGet, "/return-requests", nil, studentClaims)
	NewReturnHandler(nil, nil).List(c)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestMetricsHandlerReady(t *testing.T) {
	h := NewMetricsHandler(nil, map[string]ReadinessCheck{
		"database": func(context.Context) error { return nil },
		"cache":    func(context.Context) error { return assert.AnError },
	})
	c, w := newGinContext(http.MethodGet, "/ready", nil, nil)
	h.Ready(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"database":"ok"`)
}
