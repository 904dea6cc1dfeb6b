package network

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spin-stack/cvdnet/internal/config"
	"github.com/spin-stack/cvdnet/internal/host/command"
	"github.com/spin-stack/cvdnet/internal/host/command/commandtest"
	"github.com/spin-stack/cvdnet/internal/host/network/dhcp"
	"github.com/spin-stack/cvdnet/internal/host/network/ebtables"
	"github.com/spin-stack/cvdnet/internal/host/network/link"
	"github.com/spin-stack/cvdnet/internal/host/network/nat"
)

const dnsmasqBin = "/usr/sbin/dnsmasq"

func newTestManager(t *testing.T) (*Manager, *commandtest.Recorder, string) {
	t.Helper()
	runDir := t.TempDir()
	rec := commandtest.NewRecorder()
	m := NewManager(Deps{
		Runner:  rec,
		Links:   link.NewManager(link.NewIPRoute(rec, "cvdnetwork")),
		Rules:   ebtables.NewRules(rec),
		NAT:     nat.NewCommand(rec),
		Dnsmasq: dhcp.New(rec, config.PathsConfig{RunDir: runDir, DnsmasqPath: dnsmasqBin}, nil),
	})
	return m, rec, runDir
}

func TestCreateMobileIface(t *testing.T) {
	ctx := context.Background()
	m, rec, _ := newTestManager(t)

	att, err := m.CreateMobileIface(ctx, "cvd-mtap-05", 5, "192.168.97.21")
	require.NoError(t, err)
	assert.Equal(t, "cvd-mtap-05", att.Name)
	assert.Equal(t, "192.168.97.21", att.Address.Gateway.String())
	assert.Equal(t, "192.168.97.22", att.Address.Guest.String())
	assert.Equal(t, []string{
		"ip tuntap add dev cvd-mtap-05 mode tap group cvdnetwork vnet_hdr",
		"ip link set dev cvd-mtap-05 up",
		"ip addr add 192.168.97.21/30 broadcast + dev cvd-mtap-05",
		"iptables -w -t nat -A POSTROUTING -s 192.168.97.20/30 -j MASQUERADE",
	}, rec.Lines())

	rec.Reset()
	require.NoError(t, m.DestroyMobileIface(ctx, "cvd-mtap-05", 5, "192.168.97.21"))
	assert.Equal(t, []string{
		"iptables -w -t nat -D POSTROUTING -s 192.168.97.20/30 -j MASQUERADE",
		"ip addr del 192.168.97.21/30 broadcast + dev cvd-mtap-05",
		"ip link set dev cvd-mtap-05 down",
		"ip link delete cvd-mtap-05",
	}, rec.Lines())

	snap := m.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.Setup[KindMobile].Successes)
	assert.Equal(t, int64(1), snap.Teardown[KindMobile].Successes)
}

func TestCreateMobileIfaceRejectsBeforeMutating(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		iface  string
		id     int
		ipaddr string
		target error
	}{
		{name: "id too large", iface: "cvd-mtap-64", id: 64, ipaddr: "192.168.97", target: ErrInvalidInstanceID},
		{name: "negative id", iface: "cvd-mtap-00", id: -1, ipaddr: "192.168.97", target: ErrInvalidInstanceID},
		{name: "bad prefix", iface: "cvd-mtap-01", id: 1, ipaddr: "192.168", target: ErrInvalidPrefix},
		{name: "empty name", iface: "", id: 1, ipaddr: "192.168.97", target: ErrInvalidName},
		{name: "long name", iface: "cvd-mtap-0123456", id: 1, ipaddr: "192.168.97", target: ErrInvalidName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, rec, _ := newTestManager(t)
			_, err := m.CreateMobileIface(ctx, tt.iface, tt.id, tt.ipaddr)
			require.ErrorIs(t, err, tt.target)
			assert.True(t, errdefs.IsInvalidArgument(err))

			err = m.DestroyMobileIface(ctx, tt.iface, tt.id, tt.ipaddr)
			require.ErrorIs(t, err, tt.target)
			assert.Empty(t, rec.Lines())
		})
	}
}

func TestCreateMobileIfaceRollback(t *testing.T) {
	ctx := context.Background()
	m, rec, _ := newTestManager(t)
	rec.Fail("-A POSTROUTING")

	_, err := m.CreateMobileIface(ctx, "cvd-mtap-05", 5, "192.168.97")
	require.Error(t, err)
	assert.Equal(t, []string{
		"ip tuntap add dev cvd-mtap-05 mode tap group cvdnetwork vnet_hdr",
		"ip link set dev cvd-mtap-05 up",
		"ip addr add 192.168.97.21/30 broadcast + dev cvd-mtap-05",
		"iptables -w -t nat -A POSTROUTING -s 192.168.97.20/30 -j MASQUERADE",
		"ip addr del 192.168.97.21/30 broadcast + dev cvd-mtap-05",
		"ip link set dev cvd-mtap-05 down",
		"ip link delete cvd-mtap-05",
	}, rec.Lines())

	snap := m.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.Setup[KindMobile].Failures)
	assert.Equal(t, int64(1), snap.Rollbacks)
}

func TestCreateMobileIfaceExisting(t *testing.T) {
	m, rec, _ := newTestManager(t)
	rec.Exists("tuntap add")

	_, err := m.CreateMobileIface(context.Background(), "cvd-mtap-05", 5, "192.168.97")
	require.Error(t, err)
	assert.True(t, errdefs.IsAlreadyExists(err))
	assert.Len(t, rec.Lines(), 1)

	snap := m.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.Setup[KindMobile].Conflicts)
	assert.Equal(t, int64(0), snap.Rollbacks)
}

func TestDestroyMobileIfaceNeverCreated(t *testing.T) {
	m, rec, _ := newTestManager(t)
	rec.NotFound("cvd-mtap-07")
	rec.NotFound("POSTROUTING")

	require.NoError(t, m.DestroyMobileIface(context.Background(), "cvd-mtap-07", 7, "192.168.97"))
	assert.Empty(t, rec.Succeeded())
}

func TestEthernetIfaceRoundTrip(t *testing.T) {
	ctx := context.Background()
	m, rec, _ := newTestManager(t)

	cfg, err := m.CreateEthernetIface(ctx, EthernetRequest{
		Name:     "cvd-etap-01",
		Bridge:   "cvd-ebr",
		Families: Families{IPv4: true},
		Tool:     ebtables.Legacy,
	})
	require.NoError(t, err)
	assert.Equal(t, []EthernetStep{StepTap, StepLinked, StepEbtablesIPv6}, cfg.Steps())
	assert.Equal(t, "cvd-ebr", cfg.Bridge())
	assert.Equal(t, ebtables.Legacy, cfg.Tool())
	assert.Equal(t, []string{
		"ip tuntap add dev cvd-etap-01 mode tap group cvdnetwork vnet_hdr",
		"ip link set dev cvd-etap-01 up",
		"ip link set dev cvd-etap-01 master cvd-ebr",
		"ebtables-legacy -t broute -A BROUTING -p ipv6 --in-if cvd-etap-01 -j DROP",
		"ebtables-legacy -t filter -A FORWARD -p ipv6 --out-if cvd-etap-01 -j DROP",
	}, rec.Lines())

	rec.Reset()
	require.NoError(t, m.CleanupEthernetIface(ctx, cfg))
	assert.Equal(t, []string{
		"ebtables-legacy -t broute -D BROUTING -p ipv6 --in-if cvd-etap-01 -j DROP",
		"ebtables-legacy -t filter -D FORWARD -p ipv6 --out-if cvd-etap-01 -j DROP",
		"ip link set dev cvd-etap-01 down",
		"ip link delete cvd-etap-01",
	}, rec.Lines())
}

func TestCreateEthernetIfaceBothFamilies(t *testing.T) {
	m, rec, _ := newTestManager(t)

	cfg, err := m.CreateEthernetIface(context.Background(), EthernetRequest{
		Name:     "cvd-etap-01",
		Bridge:   "cvd-ebr",
		Families: Families{IPv4: true, IPv6: true},
	})
	require.NoError(t, err)
	assert.Equal(t, []EthernetStep{StepTap, StepLinked}, cfg.Steps())
	assert.Empty(t, rec.Matching("ebtables"))
}

func TestCreateEthernetIfaceRejectsNoFamily(t *testing.T) {
	m, rec, _ := newTestManager(t)

	_, err := m.CreateEthernetIface(context.Background(), EthernetRequest{Name: "cvd-etap-01", Bridge: "cvd-ebr"})
	require.ErrorIs(t, err, ErrNoAddressFamily)
	assert.Empty(t, rec.Lines())
}

func TestCreateEthernetIfaceRollback(t *testing.T) {
	ctx := context.Background()

	t.Run("filter rule fails", func(t *testing.T) {
		m, rec, _ := newTestManager(t)
		rec.Fail("-A FORWARD")

		_, err := m.CreateEthernetIface(ctx, EthernetRequest{
			Name:     "cvd-etap-01",
			Bridge:   "cvd-ebr",
			Families: Families{IPv6: true},
		})
		require.Error(t, err)
		assert.Equal(t, []string{
			"ip tuntap add dev cvd-etap-01 mode tap group cvdnetwork vnet_hdr",
			"ip link set dev cvd-etap-01 up",
			"ip link set dev cvd-etap-01 master cvd-ebr",
			"ebtables -t broute -A BROUTING -p ipv4 --in-if cvd-etap-01 -j DROP",
			"ebtables -t filter -A FORWARD -p ipv4 --out-if cvd-etap-01 -j DROP",
			"ebtables -t broute -D BROUTING -p ipv4 --in-if cvd-etap-01 -j DROP",
			"ip link set dev cvd-etap-01 down",
			"ip link delete cvd-etap-01",
		}, rec.Lines())
		assert.Empty(t, rec.Matching("ipv6"))
	})

	t.Run("bridge missing", func(t *testing.T) {
		m, rec, _ := newTestManager(t)
		rec.NotFound("master")

		_, err := m.CreateEthernetIface(ctx, EthernetRequest{
			Name:     "cvd-etap-01",
			Bridge:   "cvd-ebr",
			Families: Families{IPv4: true},
		})
		require.Error(t, err)
		assert.True(t, errdefs.IsNotFound(err))
		assert.Equal(t, []string{
			"ip tuntap add dev cvd-etap-01 mode tap group cvdnetwork vnet_hdr",
			"ip link set dev cvd-etap-01 up",
			"ip link set dev cvd-etap-01 master cvd-ebr",
			"ip link set dev cvd-etap-01 down",
			"ip link delete cvd-etap-01",
		}, rec.Lines())
	})
}

func TestCleanupEthernetIfaceOnlyRecordedSteps(t *testing.T) {
	m, rec, _ := newTestManager(t)

	cfg := EthernetNetworkConfig{name: "cvd-etap-02", bridge: "cvd-ebr"}.
		with(StepTap).
		with(StepLinked).
		with(StepEbtablesIPv4)

	require.NoError(t, m.CleanupEthernetIface(context.Background(), cfg))
	assert.Equal(t, []string{
		"ebtables -t broute -D BROUTING -p ipv4 --in-if cvd-etap-02 -j DROP",
		"ebtables -t filter -D FORWARD -p ipv4 --out-if cvd-etap-02 -j DROP",
		"ip link set dev cvd-etap-02 down",
		"ip link delete cvd-etap-02",
	}, rec.Lines())
}

func TestCleanupEthernetIfaceContinuesPastFailures(t *testing.T) {
	m, rec, _ := newTestManager(t)
	rec.Fail("-t broute -D")

	err := m.CleanupEthernetIface(context.Background(), FullEthernetConfig("cvd-etap-03", "cvd-ebr", ebtables.Modern))
	require.Error(t, err)
	assert.Contains(t, rec.Lines(), "ip link delete cvd-etap-03")
	assert.Equal(t, int64(1), m.Metrics().Snapshot().Teardown[KindEthernet].Failures)
}

func TestDestroyEthernetIfaceNeverCreated(t *testing.T) {
	m, rec, _ := newTestManager(t)
	rec.NotFound("cvd-etap-09")

	require.NoError(t, m.DestroyEthernetIface(context.Background(), "cvd-etap-09", "cvd-ebr", ebtables.Modern))
	assert.Empty(t, rec.Succeeded())
	assert.Len(t, rec.Matching("ebtables"), 4)
}

func TestSetupBridgeGateway(t *testing.T) {
	ctx := context.Background()
	m, rec, _ := newTestManager(t)

	cfg, err := m.SetupBridgeGateway(ctx, "cvd-ebr", "192.168.98.1")
	require.NoError(t, err)
	assert.Equal(t, []GatewayStep{StepGateway, StepDnsmasq, StepNAT}, cfg.Steps())
	assert.Equal(t, "192.168.98.0/24", cfg.Address().Network.String())

	lines := rec.Lines()
	require.Len(t, lines, 3)
	assert.Equal(t, "ip addr add 192.168.98.1/24 broadcast + dev cvd-ebr", lines[0])
	assert.Contains(t, lines[1], dnsmasqBin+" ")
	assert.Contains(t, lines[1], "--dhcp-range=192.168.98.2,192.168.98.254")
	assert.Equal(t, "iptables -w -t nat -A POSTROUTING -s 192.168.98.0/24 -j MASQUERADE", lines[2])

	rec.Reset()
	require.NoError(t, m.CleanupBridgeGateway(ctx, cfg))
	assert.Equal(t, []string{
		"iptables -w -t nat -D POSTROUTING -s 192.168.98.0/24 -j MASQUERADE",
		"ip addr del 192.168.98.1/24 broadcast + dev cvd-ebr",
	}, rec.Lines())
}

func TestSetupBridgeGatewayRollback(t *testing.T) {
	ctx := context.Background()

	t.Run("nat fails", func(t *testing.T) {
		m, rec, _ := newTestManager(t)
		rec.Fail("-A POSTROUTING")

		_, err := m.SetupBridgeGateway(ctx, "cvd-ebr", "192.168.98")
		require.Error(t, err)
		lines := rec.Lines()
		require.Len(t, lines, 4)
		assert.Equal(t, "ip addr del 192.168.98.1/24 broadcast + dev cvd-ebr", lines[3])
	})

	t.Run("dnsmasq fails", func(t *testing.T) {
		m, rec, _ := newTestManager(t)
		rec.Fail(dnsmasqBin)

		_, err := m.SetupBridgeGateway(ctx, "cvd-ebr", "192.168.98")
		require.Error(t, err)
		assert.Empty(t, rec.Matching("iptables"))
		assert.Equal(t, "ip addr del 192.168.98.1/24 broadcast + dev cvd-ebr", rec.Lines()[2])
	})

	t.Run("address fails", func(t *testing.T) {
		m, rec, _ := newTestManager(t)
		rec.NotFound("addr add")

		_, err := m.SetupBridgeGateway(ctx, "cvd-ebr", "192.168.98")
		require.Error(t, err)
		assert.Len(t, rec.Lines(), 1)
		assert.Equal(t, int64(0), m.Metrics().Snapshot().Rollbacks)
	})
}

func TestEthernetBridgeIface(t *testing.T) {
	ctx := context.Background()

	t.Run("create and destroy", func(t *testing.T) {
		m, rec, _ := newTestManager(t)

		_, err := m.CreateEthernetBridgeIface(ctx, "cvd-ebr", "192.168.98")
		require.NoError(t, err)
		lines := rec.Lines()
		require.Len(t, lines, 5)
		assert.Equal(t, "ip link add name cvd-ebr type bridge forward_delay 0 stp_state 0", lines[0])
		assert.Equal(t, "ip link set dev cvd-ebr up", lines[1])

		rec.Reset()
		require.NoError(t, m.DestroyEthernetBridgeIface(ctx, "cvd-ebr", "192.168.98"))
		assert.Equal(t, []string{
			"iptables -w -t nat -D POSTROUTING -s 192.168.98.0/24 -j MASQUERADE",
			"ip addr del 192.168.98.1/24 broadcast + dev cvd-ebr",
			"ip link set dev cvd-ebr down",
			"ip link delete cvd-ebr",
		}, rec.Lines())
	})

	t.Run("gateway failure removes bridge", func(t *testing.T) {
		m, rec, _ := newTestManager(t)
		rec.Fail(dnsmasqBin)

		_, err := m.CreateEthernetBridgeIface(ctx, "cvd-wbr", "192.168.96")
		require.Error(t, err)
		lines := rec.Lines()
		assert.Equal(t, []string{
			"ip addr del 192.168.96.1/24 broadcast + dev cvd-wbr",
			"ip link set dev cvd-wbr down",
			"ip link delete cvd-wbr",
		}, lines[len(lines)-3:])
		assert.Equal(t, int64(2), m.Metrics().Snapshot().Rollbacks)
	})

	t.Run("destroy never created", func(t *testing.T) {
		m, rec, _ := newTestManager(t)
		rec.NotFound("cvd-ebr")
		rec.NotFound("POSTROUTING")

		require.NoError(t, m.DestroyEthernetBridgeIface(ctx, "cvd-ebr", "192.168.98"))
		assert.Empty(t, rec.Succeeded())
	})
}

func TestStopDnsmasqTwice(t *testing.T) {
	ctx := context.Background()
	m, rec, runDir := newTestManager(t)

	// A pid far above pid_max never names a live process.
	pidFile := filepath.Join(runDir, "cvdnet-dnsmasq-cvd-ebr.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte("2147483600\n"), 0o644))

	require.NoError(t, m.StopDnsmasq(ctx, "cvd-ebr"))
	require.NoError(t, m.StopDnsmasq(ctx, "cvd-ebr"))
	assert.NoFileExists(t, pidFile)
	assert.Empty(t, rec.Lines())
}

func TestFilterToolResolvedOnce(t *testing.T) {
	ctx := context.Background()
	m, rec, _ := newTestManager(t)
	rec.Fail("ebtables -t broute -L")

	tool, err := m.FilterTool(ctx)
	require.NoError(t, err)
	assert.Equal(t, ebtables.Legacy, tool)

	again, err := m.FilterTool(ctx)
	require.NoError(t, err)
	assert.Equal(t, tool, again)
	assert.Len(t, rec.Lines(), 2)
}

// ctxRunner fails every command whose context is done.
type ctxRunner struct {
	calls int
}

func (r *ctxRunner) Run(ctx context.Context, _ command.Command) error {
	r.calls++
	return ctx.Err()
}

func TestFilterToolRetriesFailedResolution(t *testing.T) {
	runner := &ctxRunner{}
	m := NewManager(Deps{Runner: runner})

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.FilterTool(cancelled)
	require.ErrorIs(t, err, ebtables.ErrNoTool)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, runner.calls)

	tool, err := m.FilterTool(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ebtables.Modern, tool)
	assert.Equal(t, 3, runner.calls)

	again, err := m.FilterTool(cancelled)
	require.NoError(t, err)
	assert.Equal(t, tool, again)
	assert.Equal(t, 3, runner.calls)
}
