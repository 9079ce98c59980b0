package docstore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swasthya-ai/sahayak/types"
)

func searchPayload() string {
	return `{
		"documents": [
			{
				"id": "doc-1",
				"content": "ORS for dehydration",
				"similarity": 0.82,
				"metadata": {"source": "who", "title": "Diarrhea care", "language": "en", "category": "diarrhea", "link": "https://who.int/ors"}
			},
			{
				"id": "doc-2",
				"content": "zinc supplementation",
				"similarity": 0.61,
				"metadata": {"source": "mohfw", "title": "Child health", "language": "hi", "category": "nutrition"}
			}
		]
	}`
}

// --- Search / HybridSearch ---

func TestClient_Search(t *testing.T) {
	var gotReq searchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/search", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(searchPayload()))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	docs, err := c.Search(context.Background(), []float64{0.1, 0.2}, 0.45, 5)
	require.NoError(t, err)

	assert.Equal(t, []float64{0.1, 0.2}, gotReq.Vector)
	assert.Equal(t, 0.45, gotReq.Threshold)
	assert.Equal(t, 5, gotReq.Limit)

	require.Len(t, docs, 2)
	assert.Equal(t, "doc-1", docs[0].ID)
	assert.Equal(t, 0.82, docs[0].EmbeddingSimilarity)
	assert.Equal(t, 0.82, docs[0].Score)
	assert.Equal(t, "who", docs[0].Metadata.Source)
	assert.Equal(t, types.LangEnglish, docs[0].Metadata.Language)
	assert.Equal(t, "https://who.int/ors", docs[0].Metadata.Link)
	assert.Equal(t, types.LangHindi, docs[1].Metadata.Language)
}

func TestClient_HybridSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/hybrid-search", r.URL.Path)
		var req hybridSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "fever remedy", req.Text)
		w.Write([]byte(searchPayload()))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	docs, err := c.HybridSearch(context.Background(), []float64{0.3}, "fever remedy", 5)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestClient_AuthorizationHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		w.Write([]byte(`{"documents": []}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "secret-token"})
	_, err := c.Search(context.Background(), nil, 0.5, 5)
	require.NoError(t, err)
}

// --- 错误分类 ---

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCode  types.ErrorCode
		transient bool
	}{
		{"429 is transient", http.StatusTooManyRequests, types.ErrUpstreamError, true},
		{"504 is a timeout", http.StatusGatewayTimeout, types.ErrUpstreamTimeout, true},
		{"500 is transient", http.StatusInternalServerError, types.ErrUpstreamError, true},
		{"503 is transient", http.StatusServiceUnavailable, types.ErrUpstreamError, true},
		{"400 is permanent", http.StatusBadRequest, types.ErrUpstreamRejected, false},
		{"404 is permanent", http.StatusNotFound, types.ErrUpstreamRejected, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewClient(Config{BaseURL: srv.URL})
			_, err := c.Search(context.Background(), nil, 0.5, 5)
			require.Error(t, err)

			assert.Equal(t, tt.wantCode, types.GetErrorCode(err))
			assert.Equal(t, tt.transient, types.IsTransient(err))

			var appErr *types.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.status, appErr.HTTPStatus)
			assert.Equal(t, "docstore", appErr.Upstream)
		})
	}
}

func TestClient_TransportErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // 立刻关闭，连接必然失败

	c := NewClient(Config{BaseURL: srv.URL, Timeout: time.Second})
	_, err := c.Search(context.Background(), nil, 0.5, 5)
	require.Error(t, err)
	assert.True(t, types.IsTransient(err))
	assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
}

func TestClient_ContextCancellationPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The server only watches for client disconnect (and cancels
		// r.Context()) once the request body has been consumed.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.Search(ctx, nil, 0.5, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.Search(context.Background(), nil, 0.5, 5)
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamRejected, types.GetErrorCode(err))
	assert.False(t, types.IsTransient(err))
}

// --- IndexDocuments ---

func TestClient_IndexDocuments(t *testing.T) {
	var gotReq indexRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/documents", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(`{"indexed": 2}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	indexed, err := c.IndexDocuments(context.Background(), []IndexDocument{
		{
			ID:               "src-1-0",
			Content:          "Give ORS after each loose stool.",
			SequenceIndex:    0,
			SourceDocumentID: "src-1",
			TokenEstimate:    8,
			Embedding:        []float64{0.1, 0.2},
			Metadata:         types.DocumentMetadata{Source: "who", Title: "Diarrhea care", Language: types.LangEnglish},
		},
		{
			ID:               "src-1-1",
			Content:          "Continue feeding during illness.",
			SequenceIndex:    1,
			SourceDocumentID: "src-1",
			TokenEstimate:    8,
			Embedding:        []float64{0.3, 0.4},
			Metadata:         types.DocumentMetadata{Source: "who", Title: "Diarrhea care", Language: types.LangEnglish},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, indexed)

	require.Len(t, gotReq.Documents, 2)
	assert.Equal(t, "src-1-0", gotReq.Documents[0].ID)
	assert.Equal(t, uint(1), gotReq.Documents[1].SequenceIndex)
	assert.Equal(t, []float64{0.3, 0.4}, gotReq.Documents[1].Embedding)
	assert.Equal(t, "who", gotReq.Documents[0].Metadata.Source)
}

func TestClient_IndexDocumentsEmptyInputSkipsRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	indexed, err := c.IndexDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, indexed)
	assert.False(t, called)
}
