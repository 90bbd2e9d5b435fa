package reader

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalResource(t *testing.T) {
	res, err := openResource(filepath.Join("testdata", "triangle.yaml"), nil)
	require.NoError(t, err)
	defer res.Close()

	assert.False(t, res.IsRemote())
}

func TestLocalRelativeResource(t *testing.T) {
	parent, err := openResource(filepath.Join("testdata", "triangle.yaml"), nil)
	require.NoError(t, err)
	defer parent.Close()

	res, err := openResource("meshes/quad.yaml", parent)
	require.NoError(t, err)
	defer res.Close()

	abs, err := filepath.Abs(filepath.Join("testdata", "meshes", "quad.yaml"))
	require.NoError(t, err)
	assert.Equal(t, abs, res.Path())
}

func TestHttpResource(t *testing.T) {
	server := httptest.NewServer(http.FileServer(http.Dir("testdata")))
	defer server.Close()

	res, err := openResource(server.URL+"/triangle.yaml", nil)
	require.NoError(t, err)
	defer res.Close()
	assert.True(t, res.IsRemote())

	_, err = openResource(server.URL+"/file-not-found.yaml", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestRelativeHttpResources(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		switch r.URL.Path {
		case "/scenes/room.yaml", "/scenes/meshes/wall.yaml":
			w.Write([]byte(r.URL.Path))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	parent, err := openResource(server.URL+"/scenes/room.yaml", nil)
	require.NoError(t, err)
	defer parent.Close()

	res, err := openResource("meshes/wall.yaml", parent)
	require.NoError(t, err)
	defer res.Close()

	body, err := io.ReadAll(res)
	require.NoError(t, err)
	assert.Equal(t, "/scenes/meshes/wall.yaml", string(body))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestUnsupportedResourceScheme(t *testing.T) {
	_, err := openResource("gopher://digging.go", nil)
	require.Error(t, err)
	assert.Equal(t, `resource: unsupported scheme "gopher"`, err.Error())
}
