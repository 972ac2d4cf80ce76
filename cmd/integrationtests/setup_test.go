package integrationtests

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"plate-auction/internal/auth"
	bidding "plate-auction/internal/biddingService"
	model "plate-auction/internal/models"
	"plate-auction/internal/repository"
	"plate-auction/internal/server"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
)

const testSecret = "integration-secret"

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// testEnv is a full router over an in-memory store and a controllable clock
type testEnv struct {
	router   *gin.Engine
	repo     *repository.MemoryRepo
	clock    *clockwork.FakeClock
	provider *auth.Provider
}

// SetupTestEnv initializes the router with in-memory repository for integration testing, seeded with lots.
func SetupTestEnv(t *testing.T, lots ...model.Lot) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := repository.NewMemoryRepo()
	for _, lot := range lots {
		repo.AddLot(lot)
	}

	clock := clockwork.NewFakeClockAt(testStart)
	service := bidding.NewBiddingService(repo, repo, clock, bidding.DefaultOptions())
	provider := auth.NewProvider(testSecret, clock)

	return &testEnv{
		router:   server.SetupRouter(service, provider),
		repo:     repo,
		clock:    clock,
		provider: provider,
	}
}

// OpenLot returns a lot accepting bids for the next day
func OpenLot(id string) model.Lot {
	return model.Lot{
		LotID:       id,
		PlateNumber: "A" + id,
		Description: "plate " + id,
		Deadline:    testStart.Add(24 * time.Hour),
		Active:      true,
		OwnerID:     "staff",
	}
}

// Token issues a bearer token for userID
func (e *testEnv) Token(t *testing.T, userID string) string {
	t.Helper()

	token, err := e.provider.Issue(model.User{UserID: userID, Username: userID}, time.Hour)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

// ExecuteRequestAndParse executes an HTTP request on the router as the given token (empty for anonymous)
// and returns the decoded envelope
func (e *testEnv) ExecuteRequestAndParse(t *testing.T, method, url, token string, body any) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()

	var reqBody []byte
	var err error

	switch v := body.(type) {
	case nil:
	case []byte:
		reqBody = v
	case string:
		reqBody = []byte(v)
	default:
		reqBody, err = json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	e.router.ServeHTTP(w, req)

	var resp map[string]any
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
	}

	return resp, w
}

// Data returns the envelope's data object
func Data(t *testing.T, resp map[string]any) map[string]any {
	t.Helper()

	data, ok := resp["data"].(map[string]any)
	if !ok {
		t.Fatalf("response has no data object: %v", resp)
	}
	return data
}
