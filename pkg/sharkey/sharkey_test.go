package sharkey

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(srv *httptest.Server, retries int) *Client {
	return New(srv.URL+"/", "tok", Options{Timeout: 2 * time.Second, Retries: retries, Client: srv.Client()})
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestCallSendsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/meta", r.URL.Path)
		body := decodeBody(t, r)
		assert.Equal(t, "tok", body["i"])
		assert.Equal(t, true, body["detail"])
		w.Write([]byte(`{"name":"pocket"}`))
	}))
	defer srv.Close()

	var out struct{ Name string }
	c := newTestClient(srv, 0)
	require.NoError(t, c.Call(context.Background(), "meta", map[string]any{"detail": true}, &out))
	assert.Equal(t, "pocket", out.Name)
	assert.Equal(t, srv.URL, c.Base())
}

func TestCallParsesValidationError(t *testing.T) {
	const body = `{"error":{"message":"Invalid param.","code":"INVALID_PARAM","id":"3d81ceae","kind":"client","info":{"param":"#/properties/startsAt","reason":"must be integer"}}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	err := newTestClient(srv, 3).Call(context.Background(), "admin/ad/create", nil, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "INVALID_PARAM", apiErr.Code)
	assert.Equal(t, "startsAt", apiErr.Field())
	assert.Equal(t, "must be integer", apiErr.Reason)
	assert.True(t, apiErr.Validation())
	assert.Contains(t, apiErr.Error(), body)
}

func TestCallRetriesOverload(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	var out []any
	require.NoError(t, newTestClient(srv, 3).Call(context.Background(), "admin/ad/list", nil, &out))
	assert.Equal(t, int32(3), calls.Load())
}

func TestCallDoesNotRetryValidation(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"INVALID_PARAM"}}`))
	}))
	defer srv.Close()

	err := newTestClient(srv, 3).Call(context.Background(), "admin/ad/update", nil, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEnsureFolder(t *testing.T) {
	created := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/drive/folders":
			w.Write([]byte(`[{"id":"f0","name":"Other"}]`))
		case "/api/drive/folders/create":
			body := decodeBody(t, r)
			assert.Equal(t, "Advertisements", body["name"])
			created = true
			w.Write([]byte(`{"id":"f1","name":"Advertisements"}`))
		}
	}))
	defer srv.Close()

	id, err := newTestClient(srv, 0).EnsureFolder(context.Background(), "Advertisements")
	require.NoError(t, err)
	assert.Equal(t, "f1", id)
	assert.True(t, created)

	id, err = newTestClient(srv, 0).EnsureFolder(context.Background(), "Other")
	require.NoError(t, err)
	assert.Equal(t, "f0", id)
}

func TestUploadIsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/drive/files/create", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "tok", r.FormValue("i"))
		assert.Equal(t, "f1", r.FormValue("folderId"))
		assert.Equal(t, "2026-10-15_cats_a.example.png", r.FormValue("name"))

		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, []byte("PNGDATA"), data)

		w.Write([]byte(`{"id":"d1","name":"2026-10-15_cats_a.example.png","url":"https://files/d1.png","folderId":"f1"}`))
	}))
	defer srv.Close()

	file, err := newTestClient(srv, 0).Upload(context.Background(), "f1", "2026-10-15_cats_a.example.png", []byte("PNGDATA"))
	require.NoError(t, err)
	assert.Equal(t, "d1", file.ID)
	assert.Equal(t, "https://files/d1.png", file.URL)
}

func TestRename(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, "d1", body["fileId"])
		assert.Equal(t, "new.png", body["name"])
		assert.Equal(t, "f1", body["folderId"])
		w.Write([]byte(`{"id":"d1","name":"new.png","url":"https://files/d1.png"}`))
	}))
	defer srv.Close()

	file, err := newTestClient(srv, 0).Rename(context.Background(), "d1", "new.png", "f1")
	require.NoError(t, err)
	assert.Equal(t, "new.png", file.Name)
}

func TestListAdsPaginates(t *testing.T) {
	var pages []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		until, _ := body["untilId"].(string)
		pages = append(pages, until)

		var batch []map[string]any
		if until == "" {
			for i := 0; i < adPageSize; i++ {
				batch = append(batch, map[string]any{"id": "a" + string(rune('A'+i%26)) + string(rune('0'+i/26))})
			}
		} else {
			batch = append(batch, map[string]any{"id": "last", "title": "[TagAd] #cats — featured"})
		}
		json.NewEncoder(w).Encode(batch)
	}))
	defer srv.Close()

	ads, err := newTestClient(srv, 0).ListAds(context.Background())
	require.NoError(t, err)
	assert.Len(t, ads, adPageSize+1)
	assert.Len(t, pages, 2)
	assert.Equal(t, "[TagAd] #cats — featured", ads[len(ads)-1].Title())
}

func TestCreateAndUpdateAd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/admin/ad/create":
			w.Write([]byte(`{"id":"ad1","title":"t"}`))
		case "/api/admin/ad/update":
			body := decodeBody(t, r)
			assert.Equal(t, "ad1", body["id"])
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv, 0)
	ad, err := c.CreateAd(context.Background(), map[string]any{"title": "t"})
	require.NoError(t, err)
	assert.Equal(t, "ad1", ad.ID())
	require.NoError(t, c.UpdateAd(context.Background(), map[string]any{"id": "ad1"}))
}

func TestCreatesAreNotResentAfterGatewayError(t *testing.T) {
	for _, endpoint := range []string{"admin/ad/create", "drive/files/create"} {
		t.Run(endpoint, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if calls.Add(1) == 1 {
					w.WriteHeader(http.StatusGatewayTimeout)
					return
				}
				w.Write([]byte(`{"id":"x1"}`))
			}))
			defer srv.Close()

			c := newTestClient(srv, 2)
			var err error
			if endpoint == "admin/ad/create" {
				_, err = c.CreateAd(context.Background(), map[string]any{"title": "[TagAd] #cats"})
			} else {
				_, err = c.Upload(context.Background(), "", "cats.png", []byte("PNG"))
			}

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, http.StatusGatewayTimeout, apiErr.Status)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestCreateRetriesTooManyRequests(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"id":"a1","title":"[TagAd] #cats"}`))
	}))
	defer srv.Close()

	ad, err := newTestClient(srv, 2).CreateAd(context.Background(), map[string]any{"title": "[TagAd] #cats"})
	require.NoError(t, err)
	assert.Equal(t, "a1", ad.ID())
	assert.Equal(t, int32(2), calls.Load())
}
