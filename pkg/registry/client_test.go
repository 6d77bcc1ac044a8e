package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trial-match-server/internal/domain"
)

const studyJSON = `{
	"protocolSection": {
		"identificationModule": {
			"nctId": "NCT07062263",
			"briefTitle": "HER2+ Biliary Cancer Treatment Study"
		},
		"eligibilityModule": {
			"eligibilityCriteria": "Inclusion Criteria: Patients aged 18 - 75 years with HER2 positive biliary cancer.\n\nExclusion Criteria: Active CNS metastases."
		}
	}
}`

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func newTestClient(serverURL string) *Client {
	return NewClient(Config{
		BaseURL:   serverURL,
		Timeout:   5 * time.Second,
		RateLimit: 100,
	})
}

func TestClient_GetTrial(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/studies/NCT07062263", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Write([]byte(studyJSON))
	})

	record, err := newTestClient(server.URL).GetTrial(context.Background(), "NCT07062263")
	require.NoError(t, err)

	assert.Equal(t, "NCT07062263", record.ID)
	assert.Equal(t, "HER2+ Biliary Cancer Treatment Study", record.Title)
	assert.Contains(t, record.InclusionCriteria, "18 - 75 years")
	assert.NotContains(t, record.InclusionCriteria, "CNS metastases")
	assert.Contains(t, record.ExclusionCriteria, "CNS metastases")
}

func TestClient_GetTrial_NotFound(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := newTestClient(server.URL).GetTrial(context.Background(), "NCT00000000")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClient_GetTrial_ServerError(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := newTestClient(server.URL).GetTrial(context.Background(), "NCT07062263")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestClient_SearchTrials(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/studies", r.URL.Path)
		assert.Equal(t, "biliary cancer", r.URL.Query().Get("query.cond"))
		assert.Equal(t, "5", r.URL.Query().Get("pageSize"))
		w.Write([]byte(`{"studies": [` + studyJSON + `]}`))
	})

	records, err := newTestClient(server.URL).SearchTrials(context.Background(), "biliary cancer", 5)
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, "NCT07062263", records[0].ID)
}

func TestClient_APIKeyHeader(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		w.Write([]byte(studyJSON))
	})

	client := NewClient(Config{BaseURL: server.URL, APIKey: "secret", RateLimit: 100})
	_, err := client.GetTrial(context.Background(), "NCT07062263")
	require.NoError(t, err)
}

func TestSplitCriteria(t *testing.T) {
	tests := []struct {
		name          string
		text          string
		wantInclusion string
		wantExclusion string
	}{
		{
			name:          "both sections",
			text:          "Inclusion Criteria: adults with cancer. Exclusion Criteria: pregnancy.",
			wantInclusion: "adults with cancer.",
			wantExclusion: "pregnancy.",
		},
		{
			name:          "no headings",
			text:          "adults with cancer",
			wantInclusion: "adults with cancer",
			wantExclusion: "",
		},
		{
			name:          "exclusion only",
			text:          "Exclusion Criteria: pregnancy",
			wantInclusion: "",
			wantExclusion: "pregnancy",
		},
		{
			name:          "empty",
			text:          "",
			wantInclusion: "",
			wantExclusion: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inclusion, exclusion := splitCriteria(tt.text)
			assert.Equal(t, tt.wantInclusion, inclusion)
			assert.Equal(t, tt.wantExclusion, exclusion)
		})
	}
}

func TestResilientClient_BreakerOpensAfterFailures(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	resilient := NewResilientClient(newTestClient(server.URL), nil, logger)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := resilient.GetTrial(ctx, "NCT07062263")
		require.Error(t, err)
	}

	// The breaker is now open: calls fail fast without hitting upstream.
	_, err := resilient.GetTrial(ctx, "NCT07062263")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
}

func TestResilientClient_PassThrough(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(studyJSON))
	})

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	resilient := NewResilientClient(newTestClient(server.URL), nil, logger)

	record, err := resilient.GetTrial(context.Background(), "NCT07062263")
	require.NoError(t, err)
	assert.Equal(t, "NCT07062263", record.ID)
}
