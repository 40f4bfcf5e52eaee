package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/taskweave/taskweave/workflow"
)

func simpleDefinition(t *testing.T) *workflow.Definition {
	t.Helper()

	d := workflow.NewDefinition("Open", "Open", "Done")
	require.NoError(t, d.AddTransition("Open", "finish", "Done"))
	d.MarkTerminal("Done")

	return d
}

func Test_Registry_VersionsGrowPerTenantAndTaskType(t *testing.T) {
	ctx := context.Background()
	r := New()

	v, err := r.Register(ctx, "acme", "bug", simpleDefinition(t))
	require.NoError(t, err)
	require.Equal(t, 1, v)

	v, err = r.Register(ctx, "acme", "bug", simpleDefinition(t))
	require.NoError(t, err)
	require.Equal(t, 2, v)

	// Separate task type has its own version counter
	v, err = r.Register(ctx, "acme", "feature", simpleDefinition(t))
	require.NoError(t, err)
	require.Equal(t, 1, v)

	// Separate tenant, too
	v, err = r.Register(ctx, "globex", "bug", simpleDefinition(t))
	require.NoError(t, err)
	require.Equal(t, 1, v)
}

func Test_Registry_RejectsInvalidDefinition(t *testing.T) {
	r := New()

	d := workflow.NewDefinition("Open", "Open")
	require.NoError(t, d.AddTransition("Open", "finish", "Nowhere"))

	_, err := r.Register(context.Background(), "acme", "bug", d)
	require.Error(t, err)

	var derr *workflow.DefinitionError
	require.ErrorAs(t, err, &derr)
}

func Test_Registry_ResolveReturnsLatest(t *testing.T) {
	ctx := context.Background()
	r := New()

	_, err := r.Register(ctx, "acme", "bug", simpleDefinition(t))
	require.NoError(t, err)

	second := simpleDefinition(t)
	require.NoError(t, second.AddTransition("Open", "cancel", "Done"))
	_, err = r.Register(ctx, "acme", "bug", second)
	require.NoError(t, err)

	vd, err := r.Resolve(ctx, "acme", "bug")
	require.NoError(t, err)
	require.Equal(t, 2, vd.Version)
	require.NotNil(t, vd.Transition("Open", "cancel"))
}

func Test_Registry_ResolveVersionIsStable(t *testing.T) {
	ctx := context.Background()
	r := New()

	first := simpleDefinition(t)
	_, err := r.Register(ctx, "acme", "bug", first)
	require.NoError(t, err)

	second := simpleDefinition(t)
	require.NoError(t, second.AddTransition("Open", "cancel", "Done"))
	_, err = r.Register(ctx, "acme", "bug", second)
	require.NoError(t, err)

	vd, err := r.ResolveVersion(ctx, "acme", "bug", 1)
	require.NoError(t, err)
	require.Equal(t, 1, vd.Version)
	require.Nil(t, vd.Transition("Open", "cancel"))
}

func Test_Registry_NotFound(t *testing.T) {
	ctx := context.Background()
	r := New()

	_, err := r.Resolve(ctx, "acme", "bug")
	var nf *ErrDefinitionNotFound
	require.ErrorAs(t, err, &nf)

	_, err = r.Register(ctx, "acme", "bug", simpleDefinition(t))
	require.NoError(t, err)

	_, err = r.ResolveVersion(ctx, "acme", "bug", 2)
	require.ErrorAs(t, err, &nf)

	_, err = r.ResolveVersion(ctx, "acme", "bug", 0)
	require.ErrorAs(t, err, &nf)
}

func Test_Registry_LiveUpgradeIsPerTenant(t *testing.T) {
	r := New(WithLiveUpgrade("acme"))

	require.True(t, r.LiveUpgrade("acme"))
	require.False(t, r.LiveUpgrade("globex"))
}
