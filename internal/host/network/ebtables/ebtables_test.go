package ebtables

import (
	"context"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spin-stack/cvdnet/internal/host/command/commandtest"
)

func TestDetect(t *testing.T) {
	ctx := context.Background()

	t.Run("modern available", func(t *testing.T) {
		rec := commandtest.NewRecorder()
		tool, err := Detect(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, Modern, tool)
		assert.Equal(t, []string{"ebtables -t broute -L"}, rec.Lines())
	})

	t.Run("falls back to legacy", func(t *testing.T) {
		rec := commandtest.NewRecorder()
		rec.Fail("ebtables -t broute")
		tool, err := Detect(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, Legacy, tool)
		assert.Equal(t, "ebtables-legacy", tool.Binary())
	})

	t.Run("neither variant", func(t *testing.T) {
		rec := commandtest.NewRecorder()
		rec.Fail("broute -L")
		_, err := Detect(ctx, rec)
		require.ErrorIs(t, err, ErrNoTool)
	})
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	rec := commandtest.NewRecorder()

	tool, err := Resolve(ctx, rec, ModeLegacy)
	require.NoError(t, err)
	assert.Equal(t, Legacy, tool)

	tool, err = Resolve(ctx, rec, ModeModern)
	require.NoError(t, err)
	assert.Equal(t, Modern, tool)
	assert.Empty(t, rec.Lines(), "explicit modes must not probe the host")

	_, err = Resolve(ctx, rec, ModeAuto)
	require.NoError(t, err)
	assert.Len(t, rec.Lines(), 1)

	_, err = Resolve(ctx, rec, "nft")
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidArgument(err))
}

func TestRuleCommands(t *testing.T) {
	assert.Equal(t,
		"ebtables -t broute -A BROUTING -p ipv4 --in-if cvd-etap-01 -j DROP",
		BrouteCommand(Modern, "cvd-etap-01", IPv4, true).String())
	assert.Equal(t,
		"ebtables-legacy -t broute -D BROUTING -p ipv6 --in-if cvd-etap-01 -j DROP",
		BrouteCommand(Legacy, "cvd-etap-01", IPv6, false).String())
	assert.Equal(t,
		"ebtables -t filter -A FORWARD -p ipv6 --out-if cvd-etap-02 -j DROP",
		FilterCommand(Modern, "cvd-etap-02", IPv6, true).String())
}

func TestBrouteAddRemoveSymmetry(t *testing.T) {
	ctx := context.Background()
	rec := commandtest.NewRecorder()
	rules := NewRules(rec)

	require.NoError(t, rules.EbtablesBroute(ctx, "cvd-etap-01", IPv4, true, Legacy))
	require.NoError(t, rules.EbtablesBroute(ctx, "cvd-etap-01", IPv4, false, Legacy))

	lines := rec.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, BrouteCommand(Legacy, "cvd-etap-01", IPv4, true).Args[4:], BrouteCommand(Legacy, "cvd-etap-01", IPv4, false).Args[4:])
	assert.Contains(t, lines[0], " -A BROUTING ")
	assert.Contains(t, lines[1], " -D BROUTING ")
}

func TestRemoveAbsentRuleSucceeds(t *testing.T) {
	ctx := context.Background()
	rec := commandtest.NewRecorder()
	rec.NotFound(" -D ")
	rules := NewRules(rec)

	assert.NoError(t, rules.EbtablesBroute(ctx, "cvd-etap-01", IPv4, false, Modern))
	assert.NoError(t, rules.EbtablesFilter(ctx, "cvd-etap-01", IPv6, false, Modern))
	assert.NoError(t, rules.DestroyEbtables(ctx, "cvd-etap-01", IPv4, Modern))
}

func TestInstallFailureIsReported(t *testing.T) {
	ctx := context.Background()
	rec := commandtest.NewRecorder()
	rec.NotFound("-A BROUTING")
	rules := NewRules(rec)

	err := rules.EbtablesBroute(ctx, "cvd-etap-01", IPv4, true, Modern)
	require.Error(t, err)
}

func TestCreateEbtables(t *testing.T) {
	ctx := context.Background()

	t.Run("installs broute then filter", func(t *testing.T) {
		rec := commandtest.NewRecorder()
		require.NoError(t, NewRules(rec).CreateEbtables(ctx, "cvd-etap-01", IPv6, Modern))
		assert.Equal(t, []string{
			"ebtables -t broute -A BROUTING -p ipv6 --in-if cvd-etap-01 -j DROP",
			"ebtables -t filter -A FORWARD -p ipv6 --out-if cvd-etap-01 -j DROP",
		}, rec.Lines())
	})

	t.Run("filter failure removes broute", func(t *testing.T) {
		rec := commandtest.NewRecorder()
		rec.Fail("-A FORWARD")
		err := NewRules(rec).CreateEbtables(ctx, "cvd-etap-01", IPv4, Legacy)
		require.Error(t, err)
		assert.Equal(t, []string{
			"ebtables-legacy -t broute -A BROUTING -p ipv4 --in-if cvd-etap-01 -j DROP",
			"ebtables-legacy -t filter -A FORWARD -p ipv4 --out-if cvd-etap-01 -j DROP",
			"ebtables-legacy -t broute -D BROUTING -p ipv4 --in-if cvd-etap-01 -j DROP",
		}, rec.Lines())
	})

	t.Run("broute failure stops", func(t *testing.T) {
		rec := commandtest.NewRecorder()
		rec.Fail("-A BROUTING")
		require.Error(t, NewRules(rec).CreateEbtables(ctx, "cvd-etap-01", IPv4, Modern))
		assert.Len(t, rec.Lines(), 1)
	})
}

func TestDestroyEbtablesAttemptsBoth(t *testing.T) {
	ctx := context.Background()
	rec := commandtest.NewRecorder()
	rec.Fail("-D BROUTING")

	err := NewRules(rec).DestroyEbtables(ctx, "cvd-etap-01", IPv4, Modern)
	require.Error(t, err)
	assert.Len(t, rec.Lines(), 2)
	assert.Len(t, rec.Matching("-D FORWARD"), 1)
}
