package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/sdd/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// events records lifecycle calls across components in order.
type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, s)
}

func (e *events) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

type mockComponent struct {
	name         string
	dependencies []string
	ev           *events
	initCalled   bool
	startCalled  bool
	stopCalled   bool
	initError    error
	startError   error
	stopError    error
	healthError  error
	healthResult *ComponentHealth
}

func newMockComponent(name string, dependencies []string, ev *events) *mockComponent {
	if ev == nil {
		ev = &events{}
	}
	return &mockComponent{
		name:         name,
		dependencies: dependencies,
		ev:           ev,
		healthResult: &ComponentHealth{Name: name, Healthy: true},
	}
}

func (m *mockComponent) Name() string           { return m.name }
func (m *mockComponent) Dependencies() []string { return m.dependencies }

func (m *mockComponent) Init(ctx context.Context) error {
	m.initCalled = true
	m.ev.add("init:" + m.name)
	return m.initError
}

func (m *mockComponent) Start(ctx context.Context) error {
	m.startCalled = true
	m.ev.add("start:" + m.name)
	return m.startError
}

func (m *mockComponent) Stop(ctx context.Context) error {
	m.stopCalled = true
	m.ev.add("stop:" + m.name)
	return m.stopError
}

func (m *mockComponent) Health(ctx context.Context) (*ComponentHealth, error) {
	return m.healthResult, m.healthError
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:  config.ServerConfig{Port: 8080},
		Sandbox: config.SandboxConfig{ScratchDir: filepath.Join(t.TempDir(), "scratch")},
	}
}

func TestNewDaemon(t *testing.T) {
	d, err := NewDaemon(testConfig(t))
	require.NoError(t, err)
	assert.Empty(t, d.components)
	assert.Equal(t, StatusStarting, d.Health())

	_, err = NewDaemon(nil)
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	t.Run("creates scratch dir", func(t *testing.T) {
		cfg := testConfig(t)
		d, _ := NewDaemon(cfg)
		require.NoError(t, d.validateConfig())
		assert.DirExists(t, cfg.Sandbox.ScratchDir)
	})

	t.Run("bad port", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Server.Port = 70000
		d, _ := NewDaemon(cfg)
		assert.ErrorContains(t, d.validateConfig(), "invalid port")
	})

	t.Run("missing scratch dir", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Sandbox.ScratchDir = ""
		d, _ := NewDaemon(cfg)
		assert.Error(t, d.validateConfig())
	})
}

func TestProbeScratch_LeavesNoProbe(t *testing.T) {
	cfg := testConfig(t)
	d, _ := NewDaemon(cfg)
	require.NoError(t, d.validateConfig())
	require.NoError(t, d.probeScratch(context.Background(), time.Second))

	entries, err := os.ReadDir(cfg.Sandbox.ScratchDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLifecycleOrder(t *testing.T) {
	ev := &events{}
	d, _ := NewDaemon(testConfig(t))

	// registered out of dependency order on purpose
	d.AddComponent(newMockComponent("HTTPServer", []string{"Engine", "Bridge"}, ev))
	d.AddComponent(newMockComponent("Bridge", []string{"Engine"}, ev))
	d.AddComponent(newMockComponent("Engine", nil, ev))

	ctx := context.Background()
	require.NoError(t, d.initComponents(ctx))
	require.NoError(t, d.startComponents(ctx))
	d.stopComponents(ctx, false)

	assert.Equal(t, []string{
		"init:Engine", "init:Bridge", "init:HTTPServer",
		"start:Engine", "start:Bridge", "start:HTTPServer",
		"stop:HTTPServer", "stop:Bridge", "stop:Engine",
	}, ev.all())
	assert.Equal(t, StatusStopped, d.Health())
}

func TestInitComponents_Errors(t *testing.T) {
	tests := []struct {
		name  string
		comps []*mockComponent
	}{
		{"circular", []*mockComponent{
			newMockComponent("A", []string{"B"}, nil),
			newMockComponent("B", []string{"A"}, nil),
		}},
		{"missing dependency", []*mockComponent{
			newMockComponent("A", []string{"Ghost"}, nil),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := NewDaemon(testConfig(t))
			for _, c := range tt.comps {
				d.AddComponent(c)
			}
			assert.Error(t, d.initComponents(context.Background()))
		})
	}
}

func TestInitComponents_StopsAtFirstFailure(t *testing.T) {
	d, _ := NewDaemon(testConfig(t))
	a := newMockComponent("A", nil, nil)
	b := newMockComponent("B", []string{"A"}, nil)
	b.initError = fmt.Errorf("boom")
	c := newMockComponent("C", []string{"B"}, nil)
	d.AddComponent(a)
	d.AddComponent(b)
	d.AddComponent(c)

	err := d.initComponents(context.Background())
	require.ErrorContains(t, err, "component B init failed")
	assert.True(t, a.initCalled)
	assert.False(t, c.initCalled)
}

func TestStopComponents_ContinuesPastErrors(t *testing.T) {
	d, _ := NewDaemon(testConfig(t))
	a := newMockComponent("A", nil, nil)
	b := newMockComponent("B", nil, nil)
	b.stopError = fmt.Errorf("stuck")
	d.AddComponent(a)
	d.AddComponent(b)

	d.stopComponents(context.Background(), false)
	assert.True(t, a.stopCalled)
	assert.True(t, b.stopCalled)
}

func TestComponentHealth(t *testing.T) {
	d, _ := NewDaemon(testConfig(t))

	ok := newMockComponent("Ok", nil, nil)
	sick := newMockComponent("Sick", nil, nil)
	sick.healthResult.Healthy = false
	sick.healthResult.Error = fmt.Errorf("mock error")
	broken := newMockComponent("Broken", nil, nil)
	broken.healthResult = nil
	broken.healthError = fmt.Errorf("probe failed")

	d.AddComponent(ok)
	d.AddComponent(sick)
	d.AddComponent(broken)

	healths := d.ComponentHealth()
	require.Len(t, healths, 3)
	assert.True(t, healths["Ok"].Healthy)
	assert.False(t, healths["Sick"].Healthy)
	assert.Error(t, healths["Sick"].Error)
	assert.False(t, healths["Broken"].Healthy)
	assert.EqualError(t, healths["Broken"].Error, "probe failed")
}

func TestRollback_StopsOnlyInitialized(t *testing.T) {
	ev := &events{}
	d, _ := NewDaemon(testConfig(t))
	a := newMockComponent("A", nil, ev)
	b := newMockComponent("B", []string{"A"}, ev)
	b.initError = fmt.Errorf("boom")
	d.AddComponent(a)
	d.AddComponent(b)

	ctx := context.Background()
	require.Error(t, d.initComponents(ctx))
	d.rollback(ctx)

	assert.Equal(t, []string{"init:A", "init:B", "stop:A"}, ev.all())
	assert.False(t, b.stopCalled)
	assert.Equal(t, StatusStopped, d.Health())
}

func TestResolveOrder(t *testing.T) {
	comps := []Component{
		newMockComponent("HTTPServer", []string{"Bridge", "Janitor"}, nil),
		newMockComponent("Janitor", []string{"Engine", "Bridge"}, nil),
		newMockComponent("Bridge", []string{"Engine"}, nil),
		newMockComponent("Metrics", nil, nil),
		newMockComponent("Engine", nil, nil),
	}

	order, err := resolveOrder(comps)
	require.NoError(t, err)
	assert.Equal(t, []string{"Metrics", "Engine", "Bridge", "Janitor", "HTTPServer"}, order)

	_, err = resolveOrder([]Component{
		newMockComponent("A", []string{"B"}, nil),
		newMockComponent("B", []string{"A"}, nil),
		newMockComponent("C", nil, nil),
	})
	assert.EqualError(t, err, "circular dependency among A, B")
}

func TestTimings_RejectsBadDuration(t *testing.T) {
	cfg := testConfig(t)
	cfg.Daemon.PreflightTimeout = "soon"
	d, _ := NewDaemon(cfg)

	err := d.Start(context.Background())
	assert.ErrorContains(t, err, "parse daemon preflight timeout")
}

func TestComponentLookup(t *testing.T) {
	d, _ := NewDaemon(testConfig(t))
	d.AddComponent(newMockComponent("A", nil, nil))

	assert.NotNil(t, d.Component("A"))
	assert.Nil(t, d.Component("Nope"))
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	ev := &events{}
	d, _ := NewDaemon(testConfig(t))
	d.AddComponent(newMockComponent("A", nil, ev))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	require.Eventually(t, func() bool { return d.Health() == StatusRunning }, 2*time.Second, 10*time.Millisecond)
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusStopped, d.Health())
	assert.Equal(t, []string{"init:A", "start:A", "stop:A"}, ev.all())
}

func TestStart_StartupFailureShutsDown(t *testing.T) {
	d, _ := NewDaemon(testConfig(t))
	a := newMockComponent("A", nil, nil)
	b := newMockComponent("B", []string{"A"}, nil)
	b.startError = fmt.Errorf("port in use")
	d.AddComponent(a)
	d.AddComponent(b)

	err := d.Start(context.Background())
	require.ErrorContains(t, err, "component startup failed")
	assert.True(t, a.stopCalled)
	assert.Equal(t, StatusStopped, d.Health())
}
