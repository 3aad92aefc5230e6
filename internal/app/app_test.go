package app

import (
	"testing"
	"time"

	"giveawaybot/internal/config"
	"giveawaybot/internal/giveaway"
	"giveawaybot/internal/scheduler"
	logx "giveawaybot/pkg/logx"
)

func testConfig() *config.Config {
	c := &config.Config{}
	c.Telegram.Token = "t"
	c.Telegram.AdminIDs = []int64{1, 2}
	c.Telegram.ChannelID = -100
	c.Giveaway.AutoPublish = "everywhere"
	config.ApplyDefaults(c)
	return c
}

func TestMapGiveawayOptions(t *testing.T) {
	t.Parallel()
	c := testConfig()
	opt := mapGiveawayOptions(c)
	if opt.ChannelID != -100 || len(opt.AdminIDs) != 2 || opt.AutoPublish != giveaway.TargetEverywhere {
		t.Fatalf("options = %+v", opt)
	}
	if opt.Location.String() != c.Location().String() {
		t.Fatalf("location = %s", opt.Location)
	}
	if opt.AdminRate.RequestsPerSecond != 10 || opt.AnnounceRate.Burst != 5 {
		t.Fatalf("rates = %+v / %+v", opt.AdminRate, opt.AnnounceRate)
	}

	c.Telegram.AdminIDs[0] = 99
	if opt.AdminIDs[0] != 1 {
		t.Fatal("admin ids must be copied")
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	c := testConfig()
	c.Storage.BusyTimeout = "2s"
	sc, err := mapStorageConfig(c)
	if err != nil {
		t.Fatal(err)
	}
	if sc.Path != config.DefaultStoragePath || sc.BusyTimeout != 2*time.Second {
		t.Fatalf("storage config = %+v", sc)
	}

	c.Storage.Path = "  "
	if _, err := mapStorageConfig(c); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestSyncCloseJob(t *testing.T) {
	t.Parallel()
	a := &App{sched: scheduler.New(time.UTC, logx.Nop())}

	off := testConfig()
	if err := a.syncCloseJob(nil, off); err != nil {
		t.Fatal(err)
	}
	if n := len(a.sched.Snapshots()); n != 0 {
		t.Fatalf("auto_close off registered %d jobs", n)
	}

	on := testConfig()
	on.Giveaway.AutoClose = true
	if err := a.syncCloseJob(off, on); err != nil {
		t.Fatal(err)
	}
	snaps := a.sched.Snapshots()
	if len(snaps) != 1 || snaps[0].Name != closeJobName || snaps[0].Spec != config.DefaultCloseSpec {
		t.Fatalf("snapshots = %+v", snaps)
	}

	bad := testConfig()
	bad.Giveaway.AutoClose = true
	bad.Giveaway.CloseSpec = "every so often"
	if err := a.syncCloseJob(on, bad); err == nil {
		t.Fatal("expected error for an invalid schedule")
	}

	if err := a.syncCloseJob(bad, off); err != nil {
		t.Fatal(err)
	}
	if n := len(a.sched.Snapshots()); n != 0 {
		t.Fatalf("auto_close off left %d jobs", n)
	}
}
