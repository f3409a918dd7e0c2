package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devyard/vm/pkg/config"
	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/types"
)

func TestNewUnknownKind(t *testing.T) {
	_, err := New("vagrant", &config.VmConfig{}, Context{})

	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindValidation))
	assert.Contains(t, err.Error(), "container-a")
}

func TestNewUnregisteredKind(t *testing.T) {
	// native-vm is a valid kind but nothing registers it in this test
	// binary.
	_, err := New(types.ProviderNativeVM, &config.VmConfig{}, Context{})

	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindValidation))
	assert.Contains(t, err.Error(), "not available")
}

func TestRegisterAndNew(t *testing.T) {
	stub := NewStub()
	Register(types.ProviderContainerA, func(cfg *config.VmConfig, pctx Context) (Provider, error) {
		return stub, nil
	})

	p, err := New(types.ProviderContainerA, &config.VmConfig{}, Context{})
	require.NoError(t, err)
	assert.Same(t, Provider(stub), p)
}

func TestStubCreateAssignsFixedID(t *testing.T) {
	stub := NewStub()
	ctx := context.Background()

	require.NoError(t, stub.CreateInstance(ctx, "webapp-dev"))

	report, err := stub.Status(ctx, "webapp-dev")
	require.NoError(t, err)
	assert.Equal(t, "container-abc123", report.ContainerID)
	assert.True(t, report.IsRunning)
}

func TestStubFailCreate(t *testing.T) {
	stub := NewStub()
	stub.FailCreate = true

	err := stub.CreateInstance(context.Background(), "webapp-dev")
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindProvider))
}

func TestStubLifecycle(t *testing.T) {
	stub := NewStub()
	ctx := context.Background()

	require.NoError(t, stub.CreateInstance(ctx, "webapp-dev"))
	require.NoError(t, stub.Stop(ctx, "webapp-dev"))

	report, err := stub.Status(ctx, "webapp-dev")
	require.NoError(t, err)
	assert.False(t, report.IsRunning)

	require.NoError(t, stub.Destroy(ctx, "webapp-dev"))
	assert.Equal(t, []string{"webapp-dev"}, stub.Destroyed())

	_, err = stub.Status(ctx, "webapp-dev")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestStubResolveInstanceName(t *testing.T) {
	stub := NewStub()
	ctx := context.Background()
	require.NoError(t, stub.CreateInstance(ctx, "webapp-dev"))
	require.NoError(t, stub.CreateInstance(ctx, "webapp-staging"))

	name, err := stub.ResolveInstanceName("webapp-d")
	require.NoError(t, err)
	assert.Equal(t, "webapp-dev", name)

	_, err = stub.ResolveInstanceName("webapp-")
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindValidation), "ambiguous prefix")

	_, err = stub.ResolveInstanceName("zzz")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}
