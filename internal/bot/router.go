package bot

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"giveawaybot/internal/runtime/supervisor"
	kit "giveawaybot/internal/transport"
	logx "giveawaybot/pkg/logx"
	"giveawaybot/pkg/tgui"

	"github.com/google/uuid"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdminOnly
)

type Command struct {
	Name        string
	Description string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles inline-button data "scope:action[:payload]".
type CallbackRoute struct {
	Scope   string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

// Request is one routed update.
type Request struct {
	Update kit.Update
	Chat   kit.ChatTarget
	FromID int64
	// Username is the sender's username without "@" (may be empty).
	Username string
	Message  *kit.Message
	Command  string
	Args     []string
	// ArgText is everything after the command word, untokenized.
	ArgText string
	Payload string
	ReqID   string
	// Admin is resolved against the admin list when the update is routed.
	Admin  bool
	Logger logx.Logger

	callbackID string
	answered   bool
}

// Router dispatches updates to commands and callbacks on a bounded worker pool.
type Router struct {
	mu        sync.RWMutex
	commands  map[string]Command
	callbacks map[string]CallbackRoute
	admins    []int64
	fallback  HandlerFunc

	log     logx.Logger
	adapter kit.Adapter
	msgs    *Catalog

	jobs chan func()
}

func NewRouter(log logx.Logger, adapter kit.Adapter, msgs *Catalog, admins []int64) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		commands:  map[string]Command{},
		callbacks: map[string]CallbackRoute{},
		admins:    append([]int64(nil), admins...),
		log:       log.With(logx.String("comp", "router")),
		adapter:   adapter,
		msgs:      msgs,
		jobs:      make(chan func(), 256),
	}
}

// SetAdmins swaps the admin list; safe during hot reload.
func (r *Router) SetAdmins(admins []int64) {
	cp := append([]int64(nil), admins...)
	r.mu.Lock()
	r.admins = cp
	r.mu.Unlock()
}

func (r *Router) isAdmin(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.admins, id)
}

// SetRegistry replaces the routes and publishes the public command menu.
// fallback handles unknown commands and may be nil.
func (r *Router) SetRegistry(ctx context.Context, cmds []Command, cbs []CallbackRoute, fallback HandlerFunc) {
	cm := make(map[string]Command, len(cmds))
	menu := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		cm[name] = c
		if c.Access == AccessEveryone && c.Description != "" {
			menu = append(menu, kit.BotCommand{Command: name, Description: c.Description})
		}
	}
	cb := make(map[string]CallbackRoute, len(cbs))
	for _, c := range cbs {
		if c.Scope == "" || c.Action == "" || c.Handle == nil {
			continue
		}
		cb[c.Scope+":"+c.Action] = c
	}

	r.mu.Lock()
	r.commands = cm
	r.callbacks = cb
	r.fallback = fallback
	r.mu.Unlock()

	if up, ok := r.adapter.(kit.CommandMenuUpdater); ok && len(menu) > 0 {
		go func() {
			mctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, menu); err != nil {
				r.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

// tryEnqueue reports false when the queue is full or closed.
func (r *Router) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop routes updates until ctx ends or updates closes.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := max(runtime.NumCPU(), 2)
	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log),
		supervisor.WithCancelOnError(false),
	)
	r.log.Info("dispatcher started", logx.Int("workers", workers), logx.Int("queue_cap", cap(r.jobs)))

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("router.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in router job", logx.Int("worker", idx), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		close(r.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		r.routeMessage(ctx, up)
	case kit.UpdateCallback:
		r.routeCallback(ctx, up)
	}
}

// parseCommand splits "/cmd@bot rest" into ("cmd", "rest").
func parseCommand(text string) (name, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	word, rest, _ := strings.Cut(text[1:], " ")
	if i := strings.IndexByte(word, '\n'); i >= 0 {
		rest = word[i+1:] + " " + rest
		word = word[:i]
	}
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", "", false
	}
	return strings.ToLower(word), strings.TrimSpace(rest), true
}

func (r *Router) newRequest(up kit.Update, chat int64, from int64, cmd string) *Request {
	rid := uuid.NewString()[:8]
	return &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: chat},
		FromID:  from,
		Command: cmd,
		ReqID:   rid,
		Admin:   r.isAdmin(from),
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat),
			logx.Int64("from_id", from),
			logx.String("cmd", cmd),
		),
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	name, rest, ok := parseCommand(msg.Text)
	if !ok {
		return
	}

	r.mu.RLock()
	cmd, found := r.commands[name]
	fallback := r.fallback
	r.mu.RUnlock()

	req := r.newRequest(up, msg.ChatID, msg.FromID, name)
	req.Username = msg.FromUsername
	req.Message = msg
	req.ArgText = rest
	req.Args = strings.Fields(rest)

	h := cmd.Handle
	switch {
	case !found && fallback == nil:
		return
	case !found:
		h = fallback
	}

	final := r.chain(h, cmd.Access, cmd.Timeout)
	if !r.tryEnqueue(func() { _ = final(ctx, req) }) {
		r.reply(ctx, req.Chat, r.msgs.T("admin.busy"))
	}
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	scope, action, payload, ok := tgui.ParseData(strings.TrimSpace(cb.Data))
	var route CallbackRoute
	if ok {
		r.mu.RLock()
		route, ok = r.callbacks[scope+":"+action]
		r.mu.RUnlock()
	}
	if !ok {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	req := r.newRequest(up, cb.ChatID, cb.FromID, "cb:"+scope+":"+action)
	req.Payload = payload
	req.callbackID = cb.ID
	h := func(ctx context.Context, rq *Request) error { return route.Handle(ctx, rq, rq.Payload) }
	final := r.chain(h, route.Access, route.Timeout)
	if !r.tryEnqueue(func() {
		_ = final(ctx, req)
		if !req.answered {
			_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		}
	}) {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, r.msgs.T("admin.busy"))
	}
}

// chain wraps h with the standard middleware; admin routes get the gate
// inside the request log so denials are logged too.
func (r *Router) chain(h HandlerFunc, access Access, timeout time.Duration) HandlerFunc {
	mw := []Middleware{MWPanicRecover(r.log), MWRequestLog(r.log)}
	if access == AccessAdminOnly {
		mw = append(mw, MWAdminOnly(r.deny))
	}
	return Chain(h, append(mw, MWTimeout(timeout))...)
}

// deny tells a non-admin that the route is closed to them: a reply for
// commands, a callback answer for buttons.
func (r *Router) deny(ctx context.Context, req *Request) {
	text := r.msgs.T("admin.access_denied")
	if req.Update.Kind == kit.UpdateCallback {
		_ = r.adapter.AnswerCallback(ctx, req.callbackID, text)
		req.answered = true
		return
	}
	r.reply(ctx, req.Chat, text)
}

func (r *Router) reply(ctx context.Context, to kit.ChatTarget, html string) {
	if _, err := r.adapter.SendText(ctx, to, html, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}
