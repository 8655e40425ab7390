package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/ringkv/internal/health"
	"github.com/devrev/ringkv/internal/model"
	"github.com/devrev/ringkv/internal/ring"
	"github.com/devrev/ringkv/internal/service"
	"github.com/devrev/ringkv/internal/storage/diskmanager"
	"github.com/devrev/ringkv/internal/util"
)

func newAdmin(t *testing.T, n *testNode) http.Handler {
	t.Helper()
	checker := health.NewHealthChecker(&health.HealthCheckConfig{
		NodeName: "node1",
		DataDir:  t.TempDir(),
		Stat: func(string) (diskmanager.Usage, error) {
			return diskmanager.Usage{UsagePercent: 10, AvailableBytes: 1 << 30}, nil
		},
	}, zap.NewNop())
	checker.RunChecks()

	return NewAdminServer(&AdminServerConfig{Host: "127.0.0.1"}, n.node, checker, nil, n.registry, n.metrics, zap.NewNop()).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func decodeInfo(t *testing.T, rec *httptest.ResponseRecorder) service.NodeInfo {
	t.Helper()
	var info service.NodeInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	return info
}

func TestAdminWriteLock(t *testing.T) {
	n := newTestNode(t, "node1", 5000)
	h := newAdmin(t, n)

	rec := do(t, h, http.MethodPost, "/admin/write-lock", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, n.node.IsWriteLocked())
	assert.True(t, decodeInfo(t, do(t, h, http.MethodGet, "/admin/status", nil)).WriteLocked)

	rec = do(t, h, http.MethodDelete, "/admin/write-lock", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, n.node.IsWriteLocked())
}

func TestAdminStatus(t *testing.T) {
	n := newTestNode(t, "node1", 5000)
	rec := do(t, newAdmin(t, n), http.MethodGet, "/admin/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	info := decodeInfo(t, rec)
	assert.Equal(t, "node1", info.Name)
	assert.Equal(t, 5000, info.Port)
	assert.Equal(t, "LRU", string(info.CacheStrategy))
	assert.Equal(t, 8, info.CacheSize)
}

func TestAdminMetadataAndRing(t *testing.T) {
	n := newTestNode(t, "node1", 5000)
	h := newAdmin(t, n)

	rec := do(t, h, http.MethodPut, "/admin/metadata", model.NodeDescriptor{Name: "node1", Host: "10.0.0.1", Port: 6000})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10.0.0.1", decodeInfo(t, rec).Host)

	rec = do(t, h, http.MethodPut, "/admin/metadata", model.NodeDescriptor{Host: "10.0.0.1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	r, err := ring.Build([]ring.Member{
		{Name: "node1", Host: "127.0.0.1", Port: 5000},
		{Name: "node2", Host: "127.0.0.1", Port: 5001},
	})
	require.NoError(t, err)

	rec = do(t, h, http.MethodPut, "/admin/ring", r.Nodes())
	require.Equal(t, http.StatusOK, rec.Code)
	info := decodeInfo(t, rec)
	assert.Equal(t, 2, info.RingSize)

	self, _ := r.Lookup("node1")
	assert.Equal(t, self.RangeStart, info.RangeStart)
	assert.Equal(t, self.RangeEnd, info.RangeEnd)

	dup := []model.NodeDescriptor{{Name: "a"}, {Name: "a"}}
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/admin/ring", dup).Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/admin/ring", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminClearCacheAndStorage(t *testing.T) {
	n := newTestNode(t, "node1", 5000)
	h := newAdmin(t, n)

	_, err := n.node.Put("k", "v")
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/admin/cache", nil).Code)
	assert.False(t, n.node.InCache("k"))
	assert.True(t, n.node.InStorage("k"))

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/admin/storage", nil).Code)
	assert.False(t, n.node.InStorage("k"))
}

func TestAdminMigrateErrors(t *testing.T) {
	n := newTestNode(t, "node1", 5000)
	h := newAdmin(t, n)

	rec := do(t, h, http.MethodPost, "/admin/migrate", MigrateRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/admin/migrate", MigrateRequest{Target: "node2"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	n.node.SetMigrationService(service.NewMigrationService(service.MigrationConfig{}, n.metrics, zap.NewNop()))
	rec = do(t, h, http.MethodPost, "/admin/migrate", MigrateRequest{Target: "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error", body.Status)
	assert.Equal(t, "unknown_node", body.ErrorCode)
}

func TestAdminMigrateCopiesRangeToTarget(t *testing.T) {
	target := newTestNode(t, "node2", 0)
	srv := startKVServer(t, target, KVServerConfig{MaxConnections: 2, Backlog: 2})

	source := newTestNode(t, "node1", 5000)
	r, err := ring.Build([]ring.Member{
		{Name: "node1", Host: "127.0.0.1", Port: 5000},
		{Name: "node2", Host: "127.0.0.1", Port: tcpPort(t, srv)},
	})
	require.NoError(t, err)
	source.node.UpdateRing(r)
	source.node.SetMigrationService(service.NewMigrationService(service.MigrationConfig{
		DialTimeout:    time.Second,
		RequestTimeout: 2 * time.Second,
	}, source.metrics, zap.NewNop()))

	keys := make([]string, 20)
	for i := range keys {
		keys[i] = fmt.Sprintf("key%d", i)
		_, err := source.node.Put(keys[i], "value"+keys[i])
		require.NoError(t, err)
	}

	// node1's own range, exclusive of both ends
	self, _ := r.Lookup("node1")
	req := MigrateRequest{Low: self.RangeStart, High: self.RangeEnd, Target: "node2"}
	rec := do(t, newAdmin(t, source), http.MethodPost, "/admin/migrate", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result service.MigrationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	rng := model.HashRange{Low: req.Low, High: req.High}
	sent := 0
	for _, k := range keys {
		inside := rng.Contains(util.HashString(k))
		assert.Equal(t, inside, target.node.InStorage(k), k)
		assert.True(t, source.node.InStorage(k), k)
		if inside {
			sent++
			v, err := target.node.Get(k)
			require.NoError(t, err)
			assert.Equal(t, "value"+k, v)
		}
	}
	assert.Equal(t, sent, result.KeysSent)
	assert.Equal(t, len(keys), result.KeysScanned)
}

func tcpPort(t *testing.T, srv *KVServer) int {
	t.Helper()
	addr, ok := srv.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}

func TestAdminMetricsAndHealth(t *testing.T) {
	n := newTestNode(t, "node1", 5000)
	h := newAdmin(t, n)
	_, err := n.node.Get("missing")
	require.Error(t, err)

	rec := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ringkv_cache_misses_total")

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health/live", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health/ready", nil).Code)
}

func TestAdminRouting(t *testing.T) {
	h := newAdmin(t, newTestNode(t, "node1", 5000))

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/admin/unknown", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/admin/write-lock", nil).Code)
}

func TestAdminLocateKey(t *testing.T) {
	n := newTestNode(t, "node1", 5000)
	h := newAdmin(t, n)

	_, err := n.node.Put("k", "v")
	require.NoError(t, err)

	var loc service.KeyLocation
	rec := do(t, h, http.MethodGet, "/admin/keys/k", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loc))
	assert.Equal(t, util.HashString("k"), loc.Hash)
	assert.Equal(t, "node1", loc.Owner)
	assert.True(t, loc.Responsible)
	assert.True(t, loc.InCache)
	assert.True(t, loc.InStorage)

	r, err := ring.Build([]ring.Member{
		{Name: "node1", Host: "127.0.0.1", Port: 5000},
		{Name: "node2", Host: "127.0.0.1", Port: 5001},
		{Name: "node3", Host: "127.0.0.1", Port: 5002},
	})
	require.NoError(t, err)
	n.node.UpdateRing(r)

	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("key%d", i)
		rec := do(t, h, http.MethodGet, "/admin/keys/"+key, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loc))

		owner, _ := r.Owner(key)
		assert.Equal(t, owner.Name, loc.Owner, key)
		assert.Equal(t, owner.Name == "node1", loc.Responsible, key)
		assert.False(t, loc.InStorage)
	}

	rec = do(t, h, http.MethodGet, "/admin/keys/"+strings.Repeat("k", 21), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRebalancePlan(t *testing.T) {
	n := newTestNode(t, "node1", 5000)
	h := newAdmin(t, n)

	members := []ring.Member{
		{Name: "node1", Host: "127.0.0.1", Port: 5000},
		{Name: "node2", Host: "127.0.0.1", Port: 5001},
	}
	r, err := ring.Build(members)
	require.NoError(t, err)
	n.node.UpdateRing(r)

	joining := ring.Member{Name: "node3", Host: "127.0.0.1", Port: 5002}
	next, rng, succ, err := r.With(joining)
	require.NoError(t, err)

	var plan RebalancePlan
	rec := do(t, h, http.MethodPost, "/admin/ring/plan", PlanRequest{Join: &joining})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	assert.Equal(t, rng, plan.Range)
	assert.Equal(t, succ, plan.Source)
	assert.Equal(t, "node3", plan.Target)
	assert.Equal(t, next.Nodes(), plan.Nodes)

	_, rng, succ, err = r.Without("node2")
	require.NoError(t, err)
	rec = do(t, h, http.MethodPost, "/admin/ring/plan", PlanRequest{Leave: "node2"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	assert.Equal(t, rng, plan.Range)
	assert.Equal(t, "node2", plan.Source)
	assert.Equal(t, succ, plan.Target)
	assert.Equal(t, "node1", plan.Target)
	assert.Len(t, plan.Nodes, 1)

	rec = do(t, h, http.MethodPost, "/admin/ring/plan", PlanRequest{Leave: "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/admin/ring/plan", PlanRequest{Join: &members[1]})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/admin/ring/plan", PlanRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type staticMembers []service.GossipMeta

func (m staticMembers) Members() []service.GossipMeta { return m }

func TestAdminMembers(t *testing.T) {
	n := newTestNode(t, "node1", 5000)
	admin := NewAdminServer(&AdminServerConfig{Host: "127.0.0.1"}, n.node, nil, nil, n.registry, n.metrics, zap.NewNop())

	rec := do(t, admin.Handler(), http.MethodGet, "/admin/members", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	admin.SetGossip(staticMembers{
		{Record: model.RegistryRecord{NodeName: "node1", NodeHost: "127.0.0.1", NodePort: 5000}},
		{Record: model.RegistryRecord{NodeName: "node2", NodeHost: "127.0.0.1", NodePort: 5001}, WriteLocked: true},
	})
	rec = do(t, admin.Handler(), http.MethodGet, "/admin/members", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var members []service.GossipMeta
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &members))
	require.Len(t, members, 2)
	assert.Equal(t, "node2", members[1].Record.NodeName)
	assert.True(t, members[1].WriteLocked)
}
