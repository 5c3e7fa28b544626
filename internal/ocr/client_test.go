package ocr_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/markl/internal/domain"
	"github.com/davidbz/markl/internal/ocr"
)

func newClientFor(t *testing.T, serverURL string) *ocr.Client {
	t.Helper()
	client, err := ocr.NewClient(ocr.Config{BaseURL: serverURL, APIKey: "test-key"})
	require.NoError(t, err)
	return client
}

func TestClient_ExtractForFile(t *testing.T) {
	t.Run("should post the extraction request and parse the text", func(t *testing.T) {
		var captured map[string]string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/ocr/extract", r.URL.Path)
			require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

			_, _ = w.Write([]byte(`{"fullText":"scanned text"}`))
		}))
		defer server.Close()

		result, err := newClientFor(t, server.URL).ExtractForFile(
			context.Background(), "user-1", "file-1", domain.OCROptions{Provider: "mistral"})

		require.NoError(t, err)
		require.Equal(t, "scanned text", result.FullText)
		require.Equal(t, "user-1", captured["userId"])
		require.Equal(t, "file-1", captured["fileId"])
		require.Equal(t, "mistral", captured["provider"])
	})

	t.Run("should map 404 to a not-found failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "no such file", http.StatusNotFound)
		}))
		defer server.Close()

		_, err := newClientFor(t, server.URL).ExtractForFile(
			context.Background(), "user-1", "missing", domain.OCROptions{})

		require.Error(t, err)
		require.Equal(t, domain.KindNotFound, domain.KindOf(err))
	})

	t.Run("should classify other failures as provider errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "engine crashed", http.StatusInternalServerError)
		}))
		defer server.Close()

		_, err := newClientFor(t, server.URL).ExtractForFile(
			context.Background(), "user-1", "file-1", domain.OCROptions{})

		require.Error(t, err)
		require.Equal(t, domain.KindProvider, domain.KindOf(err))
	})
}

func TestClient_GetSettings(t *testing.T) {
	t.Run("should fetch per-user settings", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/ocr/settings", r.URL.Path)
			require.Equal(t, "user-1", r.URL.Query().Get("userId"))

			_, _ = w.Write([]byte(`{"enabled":true,"defaultProvider":"mistral"}`))
		}))
		defer server.Close()

		settings, err := newClientFor(t, server.URL).GetSettings(context.Background(), "user-1")

		require.NoError(t, err)
		require.True(t, settings.Enabled)
		require.Equal(t, "mistral", settings.DefaultProvider)
	})
}

func TestNewClient(t *testing.T) {
	t.Run("should require a base URL", func(t *testing.T) {
		_, err := ocr.NewClient(ocr.Config{})
		require.Error(t, err)
	})
}
