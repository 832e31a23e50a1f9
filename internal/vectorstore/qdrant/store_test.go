package qdrant

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wellbot/wellbot/internal/vectorstore"
)

func TestNewStoreRequiresAddress(t *testing.T) {
	_, err := NewStore(Config{})
	require.Error(t, err)
}

func TestNewStoreAddsScheme(t *testing.T) {
	store, err := NewStore(Config{Address: "localhost:6333"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:6333", store.apiBase)
}

func TestSearchBuildsFilter(t *testing.T) {
	var captured map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/user_memory/points/search", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		_, _ = w.Write([]byte(`{"result": [
			{"id": "m1", "score": 0.91, "payload": {"content": "likes mangoes", "source": "memory_distiller", "user_id": "alice"}},
			{"id": 7, "score": 0.42, "payload": {"content": "lives in Berlin"}}
		]}`))
	}))
	defer server.Close()

	store, err := NewStore(Config{Address: server.URL, APIKey: "test-key"})
	require.NoError(t, err)

	minEpoch := 1723180800.0
	filter := &vectorstore.Filter{
		Equals:            map[string]string{"user_id": "alice"},
		MinTimestampEpoch: &minEpoch,
	}

	docs, err := store.Search(context.Background(), "user_memory", []float32{0.1, 0.2}, 4, filter)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "m1", docs[0].ID)
	assert.Equal(t, "likes mangoes", docs[0].Content)
	assert.Equal(t, "memory_distiller", docs[0].Source)
	assert.InDelta(t, 0.91, docs[0].Score, 1e-9)
	assert.Equal(t, "alice", docs[0].Metadata["user_id"])
	// Integer point ids come back as strings on the gateway boundary.
	assert.Equal(t, "7", docs[1].ID)

	assert.EqualValues(t, 4, captured["limit"])
	assert.Equal(t, true, captured["with_payload"])

	qf, ok := captured["filter"].(map[string]any)
	require.True(t, ok)
	must, ok := qf["must"].([]any)
	require.True(t, ok)
	require.Len(t, must, 2)

	var sawMatch, sawRange bool
	for _, cond := range must {
		c := cond.(map[string]any)
		if m, ok := c["match"].(map[string]any); ok {
			assert.Equal(t, "user_id", c["key"])
			assert.Equal(t, "alice", m["value"])
			sawMatch = true
		}
		if rg, ok := c["range"].(map[string]any); ok {
			assert.Equal(t, "timestamp_epoch", c["key"])
			assert.EqualValues(t, minEpoch, rg["gte"])
			sawRange = true
		}
	}
	assert.True(t, sawMatch)
	assert.True(t, sawRange)
}

func TestSearchNoFilterOmitsFilterKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, hasFilter := body["filter"]
		assert.False(t, hasFilter)
		_, _ = w.Write([]byte(`{"result": []}`))
	}))
	defer server.Close()

	store, err := NewStore(Config{Address: server.URL})
	require.NoError(t, err)

	docs, err := store.Search(context.Background(), "kb_docs", []float32{0.5}, 4, nil)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestSearchUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"status": "error"}`))
	}))
	defer server.Close()

	store, err := NewStore(Config{Address: server.URL})
	require.NoError(t, err)

	_, err = store.Search(context.Background(), "kb_docs", []float32{0.5}, 4, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=502")
}

func TestUpsertGeneratesID(t *testing.T) {
	var captured map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/collections/user_memory/points", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("wait"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"result": {"status": "completed"}}`))
	}))
	defer server.Close()

	store, err := NewStore(Config{Address: server.URL})
	require.NoError(t, err)

	id, err := store.Upsert(context.Background(), "user_memory", vectorstore.Point{
		Vector:   []float32{0.1, 0.2},
		Content:  "- likes mangoes",
		Metadata: map[string]any{"user_id": "alice", "source": "memory_distiller"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	points := captured["points"].([]any)
	require.Len(t, points, 1)
	point := points[0].(map[string]any)
	assert.Equal(t, id, point["id"])

	payload := point["payload"].(map[string]any)
	assert.Equal(t, "- likes mangoes", payload["content"])
	assert.Equal(t, "alice", payload["user_id"])
}

func TestEnsureCollectionCreatesWhenMissing(t *testing.T) {
	var createdCollection, indexedField bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/collections/kb_docs/exists":
			_, _ = w.Write([]byte(`{"result": {"exists": false}}`))
		case r.URL.Path == "/collections/kb_docs" && r.Method == http.MethodPut:
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			vectors := body["vectors"].(map[string]any)
			assert.EqualValues(t, 768, vectors["size"])
			assert.Equal(t, "Cosine", vectors["distance"])
			createdCollection = true
			_, _ = w.Write([]byte(`{"result": true}`))
		case r.URL.Path == "/collections/kb_docs/index":
			indexedField = true
			_, _ = w.Write([]byte(`{"result": true}`))
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	store, err := NewStore(Config{Address: server.URL})
	require.NoError(t, err)

	require.NoError(t, store.EnsureCollection(context.Background(), "kb_docs", 768, "Cosine"))
	assert.True(t, createdCollection)
	assert.True(t, indexedField)
}

func TestEnsureCollectionSkipsCreateWhenPresent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/collections/user_memory/exists":
			_, _ = w.Write([]byte(`{"result": {"exists": true}}`))
		case r.URL.Path == "/collections/user_memory/index":
			_, _ = w.Write([]byte(`{"result": true}`))
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	store, err := NewStore(Config{Address: server.URL})
	require.NoError(t, err)

	require.NoError(t, store.EnsureCollection(context.Background(), "user_memory", 768, ""))
}
