package snapshot

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldvault/vaultengine/internal/objclient"
	"github.com/coldvault/vaultengine/internal/objfmt"
)

func TestCommitUploadsAndPostsHistory(t *testing.T) {
	var mu sync.Mutex
	uploaded := map[string][]byte{}
	var historyBody string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/devices/mydevice/history":
			b, _ := io.ReadAll(r.Body)
			historyBody = string(b)
			w.WriteHeader(http.StatusCreated)

		case r.Method == http.MethodPost:
			b, _ := io.ReadAll(r.Body)
			mu.Lock()
			uploaded[r.URL.Path] = b
			mu.Unlock()
			w.WriteHeader(http.StatusCreated)

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := objclient.New(objclient.Options{BaseURL: srv.URL})
	require.NoError(t, err)

	c := New(client, "mydevice", '/')
	c.now = func() time.Time { return time.Unix(1700000000, 0) }

	results := []RootResult{
		{Path: "/home/user/docs", Hash: objfmt.ObjSeq{objfmt.Sum([]byte("docs-root"))}, TreeSize: 1000, Owner: "u", Group: "g"},
		{Path: "/srv/data", Hash: objfmt.ObjSeq{objfmt.Sum([]byte("data-root"))}, TreeSize: 2000, Owner: "u", Group: "g"},
	}

	root, status, err := c.Commit(context.Background(), results)
	require.NoError(t, err)
	assert.Equal(t, 201, status)
	assert.False(t, root.IsZero())

	assert.Len(t, uploaded, 1)
	assert.Contains(t, historyBody, "<type>c</type>")
	assert.Contains(t, historyBody, root.String())
}

func TestCommitMarksPartialWhenAnyRootIsPartial(t *testing.T) {
	var historyBody string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/devices/mydevice/history" {
			b, _ := io.ReadAll(r.Body)
			historyBody = string(b)
		}

		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client, err := objclient.New(objclient.Options{BaseURL: srv.URL})
	require.NoError(t, err)

	c := New(client, "mydevice", '/')

	results := []RootResult{
		{Path: "/a", Hash: objfmt.ObjSeq{objfmt.Sum([]byte("a"))}, TreeSize: 1, Partial: true},
	}

	_, _, err = c.Commit(context.Background(), results)
	require.NoError(t, err)
	assert.Contains(t, historyBody, "<type>p</type>")
}

func TestCommitSlugifiesRootPath(t *testing.T) {
	c := &Committer{pathSeparator: '/'}
	assert.Equal(t, "_home_user_docs", c.slug("/home/user/docs"))
}

func TestCommitRejectsEmptyResults(t *testing.T) {
	c := New(nil, "mydevice", '/')

	_, _, err := c.Commit(context.Background(), nil)
	assert.Error(t, err)
}
