package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsNormalize(t *testing.T) {
	o := Options{URL: "http://127.0.0.1:8080/calendario/", OutputPath: "out.png"}
	require.NoError(t, o.normalize())
	assert.Equal(t, DefaultWidth, o.Width)
	assert.Equal(t, DefaultHeight, o.Height)
	assert.Equal(t, DefaultTimeout, o.Timeout)

	assert.Error(t, (&Options{OutputPath: "x"}).normalize())
	assert.Error(t, (&Options{URL: "http://x"}).normalize())
}

func TestCapturePNGValidatesBeforeLaunching(t *testing.T) {
	err := CapturePNG(context.Background(), Options{})
	assert.ErrorContains(t, err, "URL is required")
}

func TestHeaders(t *testing.T) {
	assert.Nil(t, Options{}.headers())
	h := Options{Username: "admin", Password: "s3cret"}.headers()
	assert.Equal(t, "Basic YWRtaW46czNjcmV0", h["Authorization"])
}

func TestCookieParams(t *testing.T) {
	assert.Nil(t, Options{URL: "http://x/"}.cookieParams())

	params := Options{
		URL:     "http://127.0.0.1:8080/calendario/",
		Cookies: map[string]string{"sessionid": "svc", "csrftoken": "tok"},
	}.cookieParams()
	require.Len(t, params, 2)
	assert.Equal(t, "csrftoken", params[0].Name)
	assert.Equal(t, "sessionid", params[1].Name)
	assert.Equal(t, "svc", params[1].Value)
	assert.Equal(t, "http://127.0.0.1:8080/calendario/", params[1].URL)
}

func TestLocalURL(t *testing.T) {
	tests := []struct {
		listen, want string
	}{
		{"127.0.0.1:8080", "http://127.0.0.1:8080/calendario/"},
		{"0.0.0.0:9000", "http://127.0.0.1:9000/calendario/"},
		{":8080", "http://127.0.0.1:8080/calendario/"},
		{"[::]:8080", "http://127.0.0.1:8080/calendario/"},
		{"intranet.local:80", "http://intranet.local:80/calendario/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LocalURL(tt.listen, "/calendario/"), tt.listen)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "preview.png")
	require.NoError(t, writeFileAtomic(path, []byte("one")))
	require.NoError(t, writeFileAtomic(path, []byte("two")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}
