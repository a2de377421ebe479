package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ivmarkov/ticketflow/internal/domain"
)

type MockEventUseCase struct {
	mock.Mock
}

func (m *MockEventUseCase) List(ctx context.Context) ([]domain.Event, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Event), args.Error(1)
}

func (m *MockEventUseCase) GetByID(ctx context.Context, id int64) (*domain.Event, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Event), args.Error(1)
}

func (m *MockEventUseCase) ListTicketClasses(ctx context.Context, eventID int64) ([]domain.TicketClass, error) {
	args := m.Called(ctx, eventID)
	return args.Get(0).([]domain.TicketClass), args.Error(1)
}

func TestEventHandler_list(t *testing.T) {
	mockService := &MockEventUseCase{}
	handler := NewEventHandler(mockService)

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/events", nil)

	events := []domain.Event{
		{ID: 1, Name: "Concert", Venue: "Arena", StartsAt: time.Now().Add(24 * time.Hour), EndsAt: time.Now().Add(28 * time.Hour)},
	}
	mockService.On("List", c.Request.Context()).Return(events, nil)

	handler.list(c)

	assert.Equal(t, http.StatusOK, w.Code)
	mockService.AssertExpectations(t)
}

func TestEventHandler_get(t *testing.T) {
	mockService := &MockEventUseCase{}
	handler := NewEventHandler(mockService)

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	c.Params = gin.Params{{Key: "id", Value: "1"}}
	c.Request = httptest.NewRequest("GET", "/events/1", nil)

	event := &domain.Event{ID: 1, Name: "Concert", Venue: "Arena", StartsAt: time.Now().Add(24 * time.Hour), EndsAt: time.Now().Add(28 * time.Hour)}
	classes := []domain.TicketClass{
		{ID: 10, EventID: 1, Name: "GA", PriceCents: 5000, Currency: "USD", Capacity: 100, Sold: 20, Reserved: 5, MaxPerOrder: 8},
	}

	mockService.On("GetByID", c.Request.Context(), int64(1)).Return(event, nil)
	mockService.On("ListTicketClasses", c.Request.Context(), int64(1)).Return(classes, nil)

	handler.get(c)

	assert.Equal(t, http.StatusOK, w.Code)

	var response eventDetailResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "Concert", response.Name)
	assert.Len(t, response.TicketClasses, 1)
	assert.Equal(t, 75, response.TicketClasses[0].Available)

	mockService.AssertExpectations(t)
}

func TestEventHandler_get_badID(t *testing.T) {
	mockService := &MockEventUseCase{}
	handler := NewEventHandler(mockService)

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	c.Params = gin.Params{{Key: "id", Value: "abc"}}
	c.Request = httptest.NewRequest("GET", "/events/abc", nil)

	handler.get(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockService.AssertNotCalled(t, "GetByID")
}
