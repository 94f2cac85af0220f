package httpdebug

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wiredbg/internal/proc"
)

type fakeTree struct{ root *proc.Task }

func (f fakeTree) Root() *proc.Task { return f.root }

type fakeHealth struct{ online bool }

func (f fakeHealth) DevOnline() bool { return f.online }

type noopLifecycle struct{}

func (noopLifecycle) Initialize() proc.Outcome { return proc.Positive }
func (noopLifecycle) Process() proc.Outcome    { return proc.Pending }

func TestHealthz_ReportsDevOnline(t *testing.T) {
	root := proc.NewTask(&noopLifecycle{}, "App", nil)
	srv := New("127.0.0.1:0", fakeTree{root: root}, fakeHealth{online: true}, hclog.NewNullLogger())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body["devOnline"])
}

func TestTree_DumpsTaskHierarchy(t *testing.T) {
	root := proc.NewTask(&noopLifecycle{}, "App", nil)
	child := proc.NewTask(&noopLifecycle{}, "WireTransfer", nil)
	root.Start(child)

	srv := New("127.0.0.1:0", fakeTree{root: root}, fakeHealth{}, hclog.NewNullLogger())

	req := httptest.NewRequest(http.MethodGet, "/tree", nil)
	rec := httptest.NewRecorder()
	srv.Engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var n node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &n))
	assert.Equal(t, "App", n.Name)
	require.Len(t, n.Children, 1)
	assert.Equal(t, "WireTransfer", n.Children[0].Name)
}
