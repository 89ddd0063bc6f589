package daemon_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/harunnryd/sdd/internal/auth"
	"github.com/harunnryd/sdd/internal/config"
	"github.com/harunnryd/sdd/internal/daemon"
	"github.com/harunnryd/sdd/internal/daemon/components"
	"github.com/harunnryd/sdd/internal/engine"
	"github.com/harunnryd/sdd/internal/engine/enginetest"
	"github.com/harunnryd/sdd/internal/resource"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHost struct{}

func (stubHost) Memory(context.Context) (resource.HostMemory, error) {
	return resource.HostMemory{Total: 4 << 30, Used: 1 << 30}, nil
}
func (stubHost) CPUPercent(context.Context, time.Duration) (float64, error) { return 5, nil }
func (stubHost) CPUCount(context.Context) (int, error)                      { return 2, nil }

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:            freePort(t),
			ShutdownTimeout: "2s",
		},
		Sandbox: config.SandboxConfig{ScratchDir: filepath.Join(t.TempDir(), "scratch")},
		Auth:    config.AuthConfig{Signature: "integration"},
		Janitor: config.JanitorConfig{Enabled: true, Schedule: "@every 1h"},
		Daemon:  config.DaemonConfig{ShutdownTimeout: "5s"},
	}
}

type stack struct {
	d      *daemon.Daemon
	eng    *enginetest.Fake
	bridge *components.BridgeComponent
	http   *components.HTTPServerComponent
}

func newStack(t *testing.T, cfg *config.Config) *stack {
	t.Helper()
	f := enginetest.New()
	f.Containers["web"] = engine.ContainerInfo{ID: "web", Name: "web", Running: true}
	f.ExecFunc = func(ctx context.Context, id string, cfg engine.ExecConfig) (engine.ExecResult, error) {
		return engine.ExecResult{Stdout: []byte("etc/\nhosts\n")}, nil
	}

	d, err := daemon.NewDaemon(cfg)
	require.NoError(t, err)

	engineComp := components.NewEngineComponentWith(f, &cfg.Engine)
	bridgeComp := components.NewBridgeComponent(cfg, engineComp).WithHost(stubHost{})
	janitorComp := components.NewJanitorComponent(&cfg.Janitor, engineComp, bridgeComp)
	httpComp := components.NewHTTPServerComponentWithDependencies(d, cfg, "test", engineComp, bridgeComp,
		[]string{"Engine", "Bridge", "Janitor"})

	d.AddComponent(httpComp)
	d.AddComponent(janitorComp)
	d.AddComponent(bridgeComp)
	d.AddComponent(engineComp)

	return &stack{d: d, eng: f, bridge: bridgeComp, http: httpComp}
}

func TestDaemonFullLifecycle(t *testing.T) {
	cfg := testConfig(t)
	st := newStack(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startDone := make(chan error, 1)
	go func() { startDone <- st.d.Start(ctx) }()

	require.Eventually(t, func() bool { return st.d.Health() == daemon.StatusRunning },
		5*time.Second, 20*time.Millisecond)

	base := "http://" + st.http.Addr()

	t.Run("health lists every component", func(t *testing.T) {
		resp, err := http.Get(base + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Status     string                    `json:"status"`
			Version    string                    `json:"version"`
			Components map[string]map[string]any `json:"components"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "ok", body.Status)
		assert.Equal(t, "test", body.Version)
		assert.Len(t, body.Components, 4)
		for name, c := range body.Components {
			assert.Equal(t, true, c["healthy"], name)
		}
	})

	t.Run("file listing needs a token", func(t *testing.T) {
		resp, err := http.Get(base + "/docker/container/ls?id=web")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		token, err := st.bridge.GetServices().Gate.Issue(
			auth.Subject{ID: "ops", Permissions: []auth.Permission{auth.SeeContainers}}, time.Minute)
		require.NoError(t, err)

		req, _ := http.NewRequest(http.MethodGet, base+"/docker/container/ls?id=web", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err = http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		assert.Contains(t, string(body), "hosts")
	})

	cancel()
	select {
	case err := <-startDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not shut down")
	}
	assert.Equal(t, daemon.StatusStopped, st.d.Health())

	_, err := http.Get(base + "/health")
	assert.Error(t, err, "listener should be closed")
}

func TestDaemon_PortInUseFailsStartup(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig(t)
	cfg.Server.Port = ln.Addr().(*net.TCPAddr).Port
	st := newStack(t, cfg)

	err = st.d.Start(context.Background())
	require.ErrorContains(t, err, "component startup failed")
	assert.Equal(t, daemon.StatusStopped, st.d.Health())
}
