package link

import (
	"context"
	"net/netip"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spin-stack/cvdnet/internal/host/command/commandtest"
)

func newTestManager(group string) (*Manager, *commandtest.Recorder) {
	rec := commandtest.NewRecorder()
	return NewManager(NewIPRoute(rec, group)), rec
}

func TestCreateTap(t *testing.T) {
	ctx := context.Background()

	t.Run("adds and brings up", func(t *testing.T) {
		m, rec := newTestManager("cvdnetwork")
		require.NoError(t, m.CreateTap(ctx, "cvd-mtap-01"))
		assert.Equal(t, []string{
			"ip tuntap add dev cvd-mtap-01 mode tap group cvdnetwork vnet_hdr",
			"ip link set dev cvd-mtap-01 up",
		}, rec.Lines())
	})

	t.Run("no group", func(t *testing.T) {
		m, rec := newTestManager("")
		require.NoError(t, m.AddTapIface(ctx, "cvd-mtap-01"))
		assert.Equal(t, []string{"ip tuntap add dev cvd-mtap-01 mode tap vnet_hdr"}, rec.Lines())
	})

	t.Run("existing device fails", func(t *testing.T) {
		m, rec := newTestManager("cvdnetwork")
		rec.Exists("tuntap add")
		err := m.CreateTap(ctx, "cvd-mtap-01")
		require.Error(t, err)
		assert.True(t, errdefs.IsAlreadyExists(err))
		assert.Len(t, rec.Lines(), 1)
	})

	t.Run("bring up failure deletes tap", func(t *testing.T) {
		m, rec := newTestManager("cvdnetwork")
		rec.Fail("cvd-mtap-01 up")
		require.Error(t, m.CreateTap(ctx, "cvd-mtap-01"))
		assert.Equal(t, "ip link delete cvd-mtap-01", rec.Lines()[2])
	})
}

func TestDestroyIface(t *testing.T) {
	ctx := context.Background()

	t.Run("present", func(t *testing.T) {
		m, rec := newTestManager("")
		require.NoError(t, m.DestroyIface(ctx, "cvd-etap-02"))
		assert.Equal(t, []string{
			"ip link set dev cvd-etap-02 down",
			"ip link delete cvd-etap-02",
		}, rec.Lines())
	})

	t.Run("absent is a no-op", func(t *testing.T) {
		m, rec := newTestManager("")
		rec.NotFound("cvd-etap-02")
		require.NoError(t, m.DestroyIface(ctx, "cvd-etap-02"))
		assert.Len(t, rec.Lines(), 1)
		assert.Empty(t, rec.Succeeded())
	})

	t.Run("shutdown failure still deletes", func(t *testing.T) {
		m, rec := newTestManager("")
		rec.Fail("down")
		require.NoError(t, m.DestroyIface(ctx, "cvd-etap-02"))
		assert.Len(t, rec.Matching("link delete"), 1)
	})

	t.Run("delete failure is reported", func(t *testing.T) {
		m, rec := newTestManager("")
		rec.Fail("link delete")
		require.Error(t, m.DestroyIface(ctx, "cvd-etap-02"))
	})

	t.Run("delete of missing device is raw", func(t *testing.T) {
		m, rec := newTestManager("")
		rec.NotFound("link delete")
		err := m.DeleteIface(ctx, "cvd-etap-02")
		require.Error(t, err)
		assert.True(t, errdefs.IsNotFound(err))
	})
}

func TestBridge(t *testing.T) {
	ctx := context.Background()

	m, rec := newTestManager("")
	require.NoError(t, m.CreateBridge(ctx, "cvd-ebr-00"))
	require.NoError(t, m.DestroyBridge(ctx, "cvd-ebr-00"))
	assert.Equal(t, []string{
		"ip link add name cvd-ebr-00 type bridge forward_delay 0 stp_state 0",
		"ip link set dev cvd-ebr-00 up",
		"ip link set dev cvd-ebr-00 down",
		"ip link delete cvd-ebr-00",
	}, rec.Lines())

	m, rec = newTestManager("")
	rec.Fail("dev cvd-ebr-00 up")
	require.Error(t, m.CreateBridge(ctx, "cvd-ebr-00"))
	assert.Len(t, rec.Matching("link delete cvd-ebr-00"), 1)
}

func TestLinkTapToBridge(t *testing.T) {
	ctx := context.Background()

	m, rec := newTestManager("")
	require.NoError(t, m.LinkTapToBridge(ctx, "cvd-etap-01", "cvd-ebr"))
	assert.Equal(t, []string{"ip link set dev cvd-etap-01 master cvd-ebr"}, rec.Lines())

	m, rec = newTestManager("")
	rec.NotFound("master")
	err := m.LinkTapToBridge(ctx, "cvd-etap-01", "missing-br")
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestGateway(t *testing.T) {
	ctx := context.Background()
	gw := netip.MustParsePrefix("192.168.97.21/30")

	m, rec := newTestManager("")
	require.NoError(t, m.AddGateway(ctx, "cvd-mtap-05", gw))
	require.NoError(t, m.DestroyGateway(ctx, "cvd-mtap-05", gw))
	assert.Equal(t, []string{
		"ip addr add 192.168.97.21/30 broadcast + dev cvd-mtap-05",
		"ip addr del 192.168.97.21/30 broadcast + dev cvd-mtap-05",
	}, rec.Lines())

	m, rec = newTestManager("")
	rec.NotFound("addr del")
	assert.NoError(t, m.DestroyGateway(ctx, "cvd-mtap-05", gw))

	m, rec = newTestManager("")
	rec.NotFound("addr add")
	assert.Error(t, m.AddGateway(ctx, "cvd-mtap-05", gw))
}
