package components

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/harunnryd/sdd/internal/config"
	"github.com/harunnryd/sdd/internal/engine"
	"github.com/harunnryd/sdd/internal/engine/enginetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPServerComponent_DefaultDependencies(t *testing.T) {
	comp := NewHTTPServerComponent(nil, &config.Config{}, "dev", nil, nil)
	assert.Equal(t, []string{"Engine", "Bridge"}, comp.Dependencies())
}

func TestNewHTTPServerComponentWithDependencies_Copy(t *testing.T) {
	custom := []string{"Engine"}
	comp := NewHTTPServerComponentWithDependencies(nil, &config.Config{}, "dev", nil, nil, custom)

	custom[0] = "Mutated"
	deps := comp.Dependencies()
	require.Equal(t, []string{"Engine"}, deps)

	deps[0] = "MutatedAgain"
	assert.Equal(t, "Engine", comp.Dependencies()[0], "Dependencies() must return a copy")
}

func TestHTTPServerComponent_InitRequiresDependencies(t *testing.T) {
	cfg := &config.Config{}
	engineComp := NewEngineComponentWith(enginetest.New(), &cfg.Engine)
	comp := NewHTTPServerComponent(nil, cfg, "dev", engineComp, NewBridgeComponent(cfg, engineComp))

	assert.ErrorContains(t, comp.Init(context.Background()), "not initialized")

	h, err := comp.Health(context.Background())
	require.NoError(t, err)
	assert.False(t, h.Healthy)
}

type unreachable struct {
	*enginetest.Fake
	closed bool
}

func (u *unreachable) Ping(context.Context) error { return errors.New("connection refused") }
func (u *unreachable) Close() error {
	u.closed = true
	return nil
}

func TestEngineComponent_InitFailsWhenUnreachable(t *testing.T) {
	eng := &unreachable{Fake: enginetest.New()}
	comp := NewEngineComponentWith(eng, &config.EngineConfig{PingTimeout: "100ms"})

	err := comp.Init(context.Background())
	require.ErrorContains(t, err, "engine unreachable")
	assert.True(t, eng.closed)
	assert.Nil(t, comp.GetEngine())
}

func TestEngineComponent_Lifecycle(t *testing.T) {
	comp := NewEngineComponentWith(enginetest.New(), &config.EngineConfig{})
	ctx := context.Background()

	assert.Error(t, comp.Start(ctx))
	require.NoError(t, comp.Init(ctx))
	require.NoError(t, comp.Start(ctx))

	h, err := comp.Health(ctx)
	require.NoError(t, err)
	assert.True(t, h.Healthy)

	require.NoError(t, comp.Stop(ctx))
	h, _ = comp.Health(ctx)
	assert.False(t, h.Healthy)
}

func TestBridgeAndJanitorComponents(t *testing.T) {
	cfg := &config.Config{Sandbox: config.SandboxConfig{ScratchDir: filepath.Join(t.TempDir(), "scratch")}}
	f := enginetest.New()
	engineComp := NewEngineComponentWith(f, &cfg.Engine)
	bridgeComp := NewBridgeComponent(cfg, engineComp)
	janitorComp := NewJanitorComponent(&cfg.Janitor, engineComp, bridgeComp)
	ctx := context.Background()

	require.NoError(t, engineComp.Init(ctx))
	require.NoError(t, bridgeComp.Init(ctx))
	require.NoError(t, janitorComp.Init(ctx))

	svc := bridgeComp.GetServices()
	require.NotNil(t, svc)
	assert.NotNil(t, svc.Logs)
	assert.NotNil(t, svc.Exec)
	assert.NotNil(t, svc.Files)
	assert.NotNil(t, svc.Usage)
	assert.NotNil(t, svc.Gate)

	require.NoError(t, bridgeComp.Start(ctx))
	require.NoError(t, janitorComp.Start(ctx))

	last, err := janitorComp.GetJanitor().LastRun()
	assert.False(t, last.IsZero(), "start sweeps once")
	assert.NoError(t, err)

	h, err := janitorComp.Health(ctx)
	require.NoError(t, err)
	assert.True(t, h.Healthy)

	require.NoError(t, janitorComp.Stop(ctx))
	require.NoError(t, bridgeComp.Stop(ctx))
}

func TestJanitorComponent_BadSchedule(t *testing.T) {
	cfg := &config.Config{
		Sandbox: config.SandboxConfig{ScratchDir: t.TempDir()},
		Janitor: config.JanitorConfig{Schedule: "whenever"},
	}
	engineComp := NewEngineComponentWith(enginetest.New(), &cfg.Engine)
	bridgeComp := NewBridgeComponent(cfg, engineComp)
	ctx := context.Background()
	require.NoError(t, engineComp.Init(ctx))
	require.NoError(t, bridgeComp.Init(ctx))

	err := NewJanitorComponent(&cfg.Janitor, engineComp, bridgeComp).Init(ctx)
	assert.ErrorContains(t, err, "invalid janitor schedule")
}

var _ engine.Engine = (*unreachable)(nil)
