package catalog

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(repo *mockRepo) http.Handler {
	h := NewHandler(slog.Default(), NewService(repo, nil, nil))
	r := chi.NewRouter()
	r.Route("/catalog", h.MountRoutes)
	return r
}

func TestHandlerList(t *testing.T) {
	router := newTestRouter(newMockRepo(sampleItems()...))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/catalog/?active=true", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Items []struct {
			Code           string `json:"code"`
			ReferencePrice string `json:"reference_price"`
			FormattedPrice string `json:"formatted_price"`
		} `json:"items"`
		Total   int  `json:"total"`
		HasMore bool `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Total)
	assert.False(t, body.HasMore)
	require.Len(t, body.Items, 2)
	assert.Equal(t, "P1", body.Items[0].Code)
	assert.Equal(t, "5000", body.Items[0].ReferencePrice)
	assert.Contains(t, body.Items[0].FormattedPrice, "$")
}

func TestHandlerListRejectsBadPaging(t *testing.T) {
	router := newTestRouter(newMockRepo(sampleItems()...))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/catalog/?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/catalog/?limit=9000", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), `"limit":"lte"`)
}

func TestHandlerListError(t *testing.T) {
	repo := newMockRepo()
	repo.listErr = errors.New("boom")
	router := newTestRouter(repo)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/catalog/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestHandlerShow(t *testing.T) {
	router := newTestRouter(newMockRepo(sampleItems()...))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/catalog/P2", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"name":"Aceite 1L"`)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/catalog/P404", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), `"detail":"catalog: item not found"`)
}
