package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/waktihq/notify/pkg/auth"
)

var (
	baseURL    string
	authToken  string
	serviceKey string
	testUserID uuid.UUID
)

// APIResponse represents the API response structure
type APIResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// TestResponse wraps the API response for testing
type TestResponse struct {
	Status  string
	Message string
	Data    map[string]interface{}
	RawData string
}

func (r TestResponse) IsSuccess() bool {
	return r.Status == "success"
}

func (r TestResponse) GetString(key string) string {
	if r.Data == nil {
		return ""
	}
	if v, ok := r.Data[key].(string); ok {
		return v
	}
	return ""
}

func checkAPIServer() error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(baseURL + "/health/live")
	if err != nil {
		return fmt.Errorf("API server not reachable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API server returned %d", resp.StatusCode)
	}
	return nil
}

func TestMain(m *testing.M) {
	baseURL = os.Getenv("NOTIFY_API_URL")
	if baseURL == "" {
		fmt.Println("NOTIFY_API_URL not set, skipping API tests")
		os.Exit(0)
	}
	serviceKey = os.Getenv("NOTIFY_SERVICE_KEY")

	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		if err := checkAPIServer(); err != nil {
			if i == maxRetries-1 {
				fmt.Printf("Error: %v\nMake sure the API server is running at %s\n", err, baseURL)
				os.Exit(1)
			}
			fmt.Printf("Waiting for API server (attempt %d/%d)...\n", i+1, maxRetries)
			time.Sleep(2 * time.Second)
			continue
		}
		break
	}

	setupAuth()

	os.Exit(m.Run())
}

// setupAuth mints a token for a synthetic user with the same secret the
// server validates against.
func setupAuth() {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Println("JWT_SECRET not set, cannot mint test token")
		os.Exit(1)
	}

	testUserID = uuid.New()
	jwtSvc := auth.NewJWTService(secret, time.Hour)
	token, err := jwtSvc.GenerateToken(testUserID, fmt.Sprintf("user_%d@example.com", time.Now().Unix()))
	if err != nil {
		fmt.Printf("Failed to mint test token: %v\n", err)
		os.Exit(1)
	}
	authToken = token
}

func makeRequest(method, path string, body interface{}, token string) TestResponse {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return TestResponse{Status: "error", Message: err.Error()}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, baseURL+path, reader)
	if err != nil {
		return TestResponse{Status: "error", Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return TestResponse{Status: "error", Message: err.Error()}
	}
	defer resp.Body.Close()

	return parseResponse(resp)
}

func makeServiceRequest(method, path string, body interface{}) TestResponse {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return TestResponse{Status: "error", Message: err.Error()}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, baseURL+path, reader)
	if err != nil {
		return TestResponse{Status: "error", Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Key", serviceKey)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return TestResponse{Status: "error", Message: err.Error()}
	}
	defer resp.Body.Close()

	return parseResponse(resp)
}

func parseResponse(resp *http.Response) TestResponse {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return TestResponse{Status: "error", Message: err.Error()}
	}

	var apiResp APIResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return TestResponse{Status: "error", Message: string(raw)}
	}

	out := TestResponse{
		Status:  apiResp.Status,
		Message: apiResp.Message,
		RawData: string(apiResp.Data),
	}
	if len(apiResp.Data) > 0 {
		var data map[string]interface{}
		if err := json.Unmarshal(apiResp.Data, &data); err == nil {
			out.Data = data
		}
	}
	return out
}
