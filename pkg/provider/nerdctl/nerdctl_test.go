package nerdctl

import (
	"context"
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devyard/vm/pkg/config"
	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/provider"
	"github.com/devyard/vm/pkg/types"
)

func testBackend() *Backend {
	cfg := &config.VmConfig{
		Provider: "container-b",
		Project:  config.ProjectConfig{Name: "webapp", WorkspacePath: "/workspace"},
	}
	return New(cfg, provider.Context{})
}

func TestKind(t *testing.T) {
	assert.Equal(t, types.ProviderContainerB, testBackend().Kind())
}

func TestContainerName(t *testing.T) {
	b := testBackend()
	assert.Equal(t, "webapp-dev", b.containerName(""))
	assert.Equal(t, "webapp-ci", b.containerName("ci"))
}

func TestExecCwd(t *testing.T) {
	b := testBackend()
	assert.Equal(t, "/workspace", b.execCwd(&specs.Spec{}))

	b.cfg.Project.WorkspacePath = ""
	assert.Equal(t, "/src", b.execCwd(&specs.Spec{Process: &specs.Process{Cwd: "/src"}}))
	assert.Equal(t, "/workspace", b.execCwd(&specs.Spec{}))
}

func TestExecRequiresCommand(t *testing.T) {
	err := testBackend().Exec(context.Background(), "", nil)
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindValidation))
}

func TestFactoryRegistration(t *testing.T) {
	p, err := provider.New(types.ProviderContainerB, testBackend().cfg, provider.Context{})
	require.NoError(t, err)
	assert.Equal(t, types.ProviderContainerB, p.Kind())
}

func TestConnectFailsWithDependencyError(t *testing.T) {
	b := testBackend()
	b.SetSocket("/nonexistent/containerd.sock")

	_, err := b.connect()
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindDependency))
}
