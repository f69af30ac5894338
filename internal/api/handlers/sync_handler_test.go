package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"firisync/internal/exchange"
	"firisync/internal/models"
	"firisync/internal/service"
	"firisync/pkg/utils"
)

const testSecret = "super-secret-value-0001"

func connectBody(userID string) string {
	return fmt.Sprintf(`{"user_id":%q,"api_key":"test-api-key-000001","client_id":"client-0001","secret":%q}`, userID, testSecret)
}

// ============ SyncHandler Tests ============

func TestSyncHandler_UpsertConnection(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name       string
		body       string
		serviceErr error
		wantStatus int
	}{
		{name: "success", body: connectBody(userID.String()), wantStatus: http.StatusOK},
		{name: "invalid json", body: `{"user_id":`, wantStatus: http.StatusBadRequest},
		{name: "invalid user id", body: connectBody("not-a-uuid"), wantStatus: http.StatusBadRequest},
		{
			name:       "invalid credentials",
			body:       connectBody(userID.String()),
			serviceErr: errors.Join(service.ErrInvalidCredentials, utils.ValidationErrors{{Field: "secret", Message: "too short"}}),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "database error",
			body:       connectBody(userID.String()),
			serviceErr: ErrMockDatabase,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSvc := NewMockSyncService()
			mockSvc.connectErr = tt.serviceErr
			handler := NewSyncHandler(mockSvc, nil)

			req := httptest.NewRequest(http.MethodPut, "/api/v1/connections", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			handler.UpsertConnection(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if strings.Contains(w.Body.String(), testSecret) {
				t.Error("response must not contain the secret")
			}

			if tt.wantStatus == http.StatusOK {
				var conn models.ExchangeConnection
				if err := json.NewDecoder(w.Body).Decode(&conn); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}
				if conn.UserID != userID || conn.ClientID != "client-0001" {
					t.Errorf("unexpected connection: %+v", conn)
				}
				if mockSvc.lastCreds.Secret != testSecret {
					t.Error("secret was not passed to the service")
				}
			}
		})
	}
}

func TestSyncHandler_TriggerSync(t *testing.T) {
	connID := uuid.New()

	tests := []struct {
		name       string
		id         string
		serviceErr error
		wantStatus int
		wantCode   string
	}{
		{name: "success", id: connID.String(), wantStatus: http.StatusOK},
		{name: "invalid id", id: "42", wantStatus: http.StatusBadRequest, wantCode: "invalid_id"},
		{name: "not found", id: connID.String(), serviceErr: service.ErrConnectionNotFound, wantStatus: http.StatusNotFound, wantCode: "not_found"},
		{name: "credentials unavailable", id: connID.String(), serviceErr: service.ErrCredentialsUnavailable, wantStatus: http.StatusConflict, wantCode: "credentials_unavailable"},
		{
			name:       "exchange auth error",
			id:         connID.String(),
			serviceErr: &exchange.AuthError{Endpoint: "/v2/history/orders", Timestamp: "1700000000", Validity: "60", Payload: "170000000060"},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "exchange_auth",
		},
		{name: "cancelled", id: connID.String(), serviceErr: context.Canceled, wantStatus: http.StatusServiceUnavailable, wantCode: "cancelled"},
		{name: "internal", id: connID.String(), serviceErr: ErrMockDatabase, wantStatus: http.StatusInternalServerError, wantCode: "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSvc := NewMockSyncService()
			mockSvc.syncErr = tt.serviceErr
			handler := NewSyncHandler(mockSvc, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/connections/"+tt.id+"/sync", nil)
			req = mux.SetURLVars(req, map[string]string{"id": tt.id})
			w := httptest.NewRecorder()

			handler.TriggerSync(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}

			if tt.wantCode != "" {
				var resp ErrorResponse
				if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}
				if resp.Code != tt.wantCode {
					t.Errorf("expected code %q, got %q", tt.wantCode, resp.Code)
				}
				return
			}

			var summary models.SyncSummary
			if err := json.NewDecoder(w.Body).Decode(&summary); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if summary.ConnectionID != connID || summary.TotalRaw != 3 {
				t.Errorf("unexpected summary: %+v", summary)
			}
		})
	}
}

func TestSyncHandler_AuthErrorDetailsHidden(t *testing.T) {
	mockSvc := NewMockSyncService()
	mockSvc.syncErr = &exchange.AuthError{Payload: "170000000060", Body: `{"message":"bad signature"}`}
	handler := NewSyncHandler(mockSvc, nil)

	id := uuid.New().String()
	req := mux.SetURLVars(httptest.NewRequest(http.MethodPost, "/", nil), map[string]string{"id": id})
	w := httptest.NewRecorder()

	handler.TriggerSync(w, req)

	if strings.Contains(w.Body.String(), "170000000060") {
		t.Error("signed payload must not be returned to the client")
	}
}

func TestSyncHandler_NeedsReview(t *testing.T) {
	connID := uuid.New()

	tests := []struct {
		name       string
		id         string
		serviceErr error
		wantStatus int
		wantCode   string
	}{
		{name: "success", id: connID.String(), wantStatus: http.StatusOK},
		{name: "invalid id", id: "abc", wantStatus: http.StatusBadRequest, wantCode: "invalid_id"},
		{name: "not found", id: connID.String(), serviceErr: service.ErrConnectionNotFound, wantStatus: http.StatusNotFound, wantCode: "not_found"},
		{name: "internal", id: connID.String(), serviceErr: ErrMockDatabase, wantStatus: http.StatusInternalServerError, wantCode: "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSvc := NewMockSyncService()
			mockSvc.reviewErr = tt.serviceErr
			handler := NewSyncHandler(mockSvc, nil)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/connections/"+tt.id+"/needs-review", nil)
			req = mux.SetURLVars(req, map[string]string{"id": tt.id})
			w := httptest.NewRecorder()

			handler.NeedsReview(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}

			if tt.wantCode != "" {
				var resp ErrorResponse
				if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}
				if resp.Code != tt.wantCode {
					t.Errorf("expected code %q, got %q", tt.wantCode, resp.Code)
				}
				return
			}

			var report models.ReviewReport
			if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if report.ConnectionID != connID || report.LedgerRows != 2 || report.RawRecords != 3 {
				t.Errorf("unexpected report: %+v", report)
			}
			if len(report.Entries) != 1 || report.Entries[0].TxnType != models.TxnTradeMatch {
				t.Errorf("unexpected entries: %+v", report.Entries)
			}
		})
	}
}

func TestSyncHandler_SyncWithCredentials(t *testing.T) {
	mockSvc := NewMockSyncService()
	handler := NewSyncHandler(mockSvc, nil)

	userID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", strings.NewReader(connectBody(userID.String())))
	w := httptest.NewRecorder()

	handler.SyncWithCredentials(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if mockSvc.lastUserID != userID {
		t.Errorf("expected user %s, got %s", userID, mockSvc.lastUserID)
	}
	if mockSvc.lastSyncID == uuid.Nil {
		t.Error("sync was not triggered")
	}
}

// ============ HealthHandler Tests ============

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		checker    CryptoChecker
		wantStatus int
	}{
		{name: "healthy", checker: NewMockSyncService(), wantStatus: http.StatusOK},
		{name: "broken key", checker: &MockSyncService{healthErr: errors.New("decryption failed")}, wantStatus: http.StatusServiceUnavailable},
		{name: "no cipher", checker: nil, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHealthHandler(tt.checker, nil)

			w := httptest.NewRecorder()
			handler.Crypto(w, httptest.NewRequest(http.MethodGet, "/health/crypto", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}

	w := httptest.NewRecorder()
	NewHealthHandler(nil, nil).Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Errorf("unexpected /health response: %d %q", w.Code, w.Body.String())
	}
}
