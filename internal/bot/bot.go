package bot

import (
	"context"
	"sync"
	"time"

	"giveawaybot/internal/broadcast"
	"giveawaybot/internal/eventbus"
	"giveawaybot/internal/giveaway"
	"giveawaybot/internal/scheduler"
	kit "giveawaybot/internal/transport"
	logx "giveawaybot/pkg/logx"
)

// Jobs is the broadcast queue as seen by the bot.
type Jobs interface {
	Submit(req broadcast.JobRequest) (string, error)
	Status(id string) (broadcast.JobStatus, bool)
}

// Schedules exposes scheduled job state for the status card.
type Schedules interface {
	Snapshots() []scheduler.Snapshot
}

type Deps struct {
	Adapter   kit.Adapter
	Giveaways *giveaway.Service
	Jobs      Jobs
	Schedules Schedules
	Bus       eventbus.Bus
	Catalog   *Catalog
	Log       logx.Logger

	Admins        []int64
	BroadcastRate broadcast.RateConfig
}

// Bot wires the chat commands to the giveaway and broadcast services.
type Bot struct {
	router  *Router
	adapter kit.Adapter
	svc     *giveaway.Service
	jobs    Jobs
	sched   Schedules
	bus     eventbus.Bus
	msgs    *Catalog
	log     logx.Logger

	mu   sync.RWMutex
	rate broadcast.RateConfig
}

func New(d Deps) *Bot {
	if d.Catalog == nil {
		d.Catalog = DefaultCatalog()
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	log := d.Log.With(logx.String("comp", "bot"))
	return &Bot{
		router:  NewRouter(d.Log, d.Adapter, d.Catalog, d.Admins),
		adapter: d.Adapter,
		svc:     d.Giveaways,
		jobs:    d.Jobs,
		sched:   d.Schedules,
		bus:     d.Bus,
		msgs:    d.Catalog,
		log:     log,
		rate:    d.BroadcastRate,
	}
}

// Apply swaps the hot-reloadable settings.
func (b *Bot) Apply(admins []int64, rate broadcast.RateConfig) {
	b.router.SetAdmins(admins)
	b.mu.Lock()
	b.rate = rate
	b.mu.Unlock()
}

func (b *Bot) broadcastRate() broadcast.RateConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rate
}

func (b *Bot) Commands() []Command {
	admin := func(name string, h HandlerFunc) Command {
		return Command{Name: name, Access: AccessAdminOnly, Timeout: time.Minute, Handle: h}
	}
	return []Command{
		{Name: "start", Description: "join the current giveaway", Access: AccessEveryone, Timeout: 30 * time.Second, Handle: b.handleStart},
		{Name: "help", Description: "how to take part", Access: AccessEveryone, Timeout: 10 * time.Second, Handle: b.handleHelp},
		admin("admin", b.handleStatus),
		admin("new", b.handleNew),
		admin("announce", b.handleAnnounce),
		admin("finish", b.handleFinish),
		admin("publish", b.handlePublish),
		admin("broadcast", b.handleBroadcast),
		admin("job", b.handleJob),
	}
}

func (b *Bot) Callbacks() []CallbackRoute {
	return []CallbackRoute{
		{Scope: "job", Action: "refresh", Access: AccessAdminOnly, Timeout: 15 * time.Second, Handle: b.handleJobRefresh},
	}
}

// Run registers the routes, follows bus events and dispatches updates
// until ctx ends or updates closes.
func (b *Bot) Run(ctx context.Context, updates <-chan kit.Update) error {
	b.router.SetRegistry(ctx, b.Commands(), b.Callbacks(), b.handleUnknown)
	if b.bus != nil {
		ch, unsub := b.bus.Subscribe(64, broadcast.EventFinished, giveaway.EventClosed)
		defer unsub()
		go b.watchEvents(ctx, ch)
	}
	return b.router.DispatchLoop(ctx, updates)
}
