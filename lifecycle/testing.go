package lifecycle

import (
	"log/slog"
	"time"

	"github.com/bluesky-social/warden/casestore"
	"github.com/bluesky-social/warden/enforcement"
	"github.com/bluesky-social/warden/flagstore"
	"github.com/bluesky-social/warden/models"
	"github.com/bluesky-social/warden/notify"
	"github.com/bluesky-social/warden/setstore"
	"github.com/bluesky-social/warden/sleeplist"
)

// TestFixture bundles an Engine wired entirely to in-memory components, with handles on each of them.
type TestFixture struct {
	Engine *Engine
	Store  *casestore.MemCaseStore
	Flags  *flagstore.MemFlagStore
	Sets   *setstore.MemSetStore
	Clock  *sleeplist.ManualClock
	Events *notify.Recorder
}

var FixtureEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const FixtureExemptSet = "exempt-accounts"

func EngineTestFixture() *TestFixture {
	flags := flagstore.NewMemFlagStore()
	sets := setstore.NewMemSetStore()
	sets.Put(FixtureExemptSet, []string{"did:plc:staff"})
	events := &notify.Recorder{}
	f := &TestFixture{
		Store:  casestore.NewMemCaseStore(),
		Flags:  flags,
		Sets:   sets,
		Clock:  sleeplist.NewManualClock(FixtureEpoch),
		Events: events,
	}
	f.Engine = &Engine{
		Logger: slog.Default(),
		Store:  f.Store,
		Enforcers: enforcement.NewRegistry(
			enforcement.NewFlagEnforcer(models.KindSuspend, flags),
			enforcement.NewFlagEnforcer(models.KindMute, flags),
			enforcement.NewFlagEnforcer(models.KindRestrict, flags),
		),
		Notifier: events,
		Audit:    events,
		Errors:   events,
		Exempt:   &SetExempter{Sets: sets, SetName: FixtureExemptSet},
		Clock:    f.Clock,
	}
	return f
}
