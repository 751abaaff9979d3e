package bot

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"phrasebot/internal/domain"
	rtsup "phrasebot/internal/runtime/supervisor"
	kit "phrasebot/internal/transport"
	logx "phrasebot/pkg/logx"
)

const refusalText = "⛔ You are not allowed to use this bot."

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Hidden      bool          // left out of the Telegram menu
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles inline buttons whose data is "action:payload".
type CallbackRoute struct {
	Action  string
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

// Request is one authorized update on its way to a handler.
type Request struct {
	Update  kit.Update
	Message *kit.Message // nil for callbacks
	Chat    kit.ChatTarget
	Admin   domain.Admin
	Command string
	Args    []string
	Body    string // text after the first line of a command message
	Payload string // callback payload
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends an HTML message to the chat the request came from.
func (r *Request) Reply(ctx context.Context, html string) error {
	return r.ReplyMarkup(ctx, html, nil)
}

func (r *Request) ReplyMarkup(ctx context.Context, html string, markup any) error {
	if r.Adapter == nil {
		return nil
	}
	_, err := r.Adapter.SendText(ctx, r.Chat, html, &kit.SendOptions{
		ParseMode:          "HTML",
		DisablePreview:     true,
		ReplyMarkupAdapter: markup,
	})
	return err
}

// Router authorizes updates and dispatches them to command, callback and
// input handlers on a bounded worker pool.
type Router struct {
	mu        sync.RWMutex
	cmds      map[string]Command // name and aliases
	list      []Command
	callbacks map[string]CallbackRoute
	input     HandlerFunc
	owners    []int64

	log     logx.Logger
	adapter kit.Adapter
	workers int

	runMu   sync.Mutex
	running bool
	jobs    chan func()
}

func NewRouter(log logx.Logger, adapter kit.Adapter, owners []int64) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	return &Router{
		cmds:      map[string]Command{},
		callbacks: map[string]CallbackRoute{},
		owners:    append([]int64(nil), owners...),
		log:       log.With(logx.String("comp", "bot.router")),
		adapter:   adapter,
		workers:   workers,
		jobs:      make(chan func(), 256),
	}
}

// SetOwners replaces the authorized user ids. Safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) ownersSnapshot() []int64 {
	r.mu.RLock()
	cp := append([]int64(nil), r.owners...)
	r.mu.RUnlock()
	return cp
}

// SetRegistry installs the command and callback tables. /help is always
// added.
func (r *Router) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	helper := Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "show available commands",
		Usage:       "/help",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText())
		},
	}
	all := append(append([]Command(nil), cmds...), helper)

	table := map[string]Command{}
	list := make([]Command, 0, len(all))
	for _, c := range all {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		if _, dup := table[name]; dup {
			continue
		}
		table[name] = c
		list = append(list, c)
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			if _, exists := table[a]; !exists {
				table[a] = c
			}
		}
	}

	cb := map[string]CallbackRoute{}
	for _, route := range cbs {
		a := strings.TrimSpace(route.Action)
		if a == "" || route.Handle == nil {
			continue
		}
		cb[a] = route
	}

	r.mu.Lock()
	r.cmds = table
	r.list = list
	r.callbacks = cb
	r.mu.Unlock()
}

// SetInputHandler receives authorized messages that are not commands:
// documents and plain text.
func (r *Router) SetInputHandler(h HandlerFunc) {
	r.mu.Lock()
	r.input = h
	r.mu.Unlock()
}

func (r *Router) setRunning(v bool) {
	r.runMu.Lock()
	r.running = v
	r.runMu.Unlock()
}

// tryEnqueue is panic-safe against the jobs channel being closed.
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

// DispatchLoop routes updates until ctx is done or updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(r.log),
		rtsup.WithCancelOnError(false),
	)
	r.setRunning(true)
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers), logx.Int("job_queue_cap", cap(r.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			r.setRunning(false)
			close(r.jobs)
		})
	}

	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
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
								r.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.routeUpdate(ctx, up)
		}
	}
}

func (r *Router) routeUpdate(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		r.routeMessage(ctx, up)
	case kit.UpdateCallback:
		r.routeCallback(ctx, up)
	}
}

// authorize is the single access check. Every handler receives the Admin it
// produces.
func (r *Router) authorize(userID int64, username string) (domain.Admin, bool) {
	for _, o := range r.ownersSnapshot() {
		if o == userID {
			return domain.Admin{UserID: userID, Username: username}, true
		}
	}
	return domain.Admin{}, false
}

func (r *Router) refuse(ctx context.Context, msg *kit.Message, what string) {
	r.log.Warn("unauthorized request",
		logx.Int64("from_id", msg.FromID),
		logx.String("username", msg.FromUsername),
		logx.Int64("chat_id", msg.ChatID),
		logx.String("what", what),
	)
	_, _ = r.adapter.SendText(ctx, kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}, refusalText, nil)
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	text := strings.TrimSpace(msg.Text)

	if msg.Document == nil && !strings.HasPrefix(text, "/") {
		// Plain chatter from strangers is ignored rather than refused.
		admin, ok := r.authorize(msg.FromID, msg.FromUsername)
		if !ok || text == "" {
			return
		}
		r.mu.RLock()
		h := r.input
		r.mu.RUnlock()
		if h != nil {
			r.enqueue(ctx, r.newRequest(up, chat, admin, "input"), h, 0)
		}
		return
	}

	admin, ok := r.authorize(msg.FromID, msg.FromUsername)
	if !ok {
		what := "document"
		if msg.Document == nil {
			what = text
			if i := strings.IndexAny(what, " \n"); i > 0 {
				what = what[:i]
			}
		}
		r.refuse(ctx, msg, what)
		return
	}

	if msg.Document != nil && !strings.HasPrefix(text, "/") {
		r.mu.RLock()
		h := r.input
		r.mu.RUnlock()
		if h != nil {
			r.enqueue(ctx, r.newRequest(up, chat, admin, "document"), h, 0)
		}
		return
	}

	word, args, body := splitCommand(text)
	r.mu.RLock()
	cmd, found := r.cmds[word]
	r.mu.RUnlock()
	if !found {
		_, _ = r.adapter.SendText(ctx, chat, "Unknown command. Try /help", nil)
		return
	}

	req := r.newRequest(up, chat, admin, cmd.Name)
	req.Args = args
	req.Body = body
	r.enqueue(ctx, req, cmd.Handle, cmd.Timeout)
}

func (r *Router) newRequest(up kit.Update, chat kit.ChatTarget, admin domain.Admin, command string) *Request {
	rid := newReqID()
	return &Request{
		Update:  up,
		Message: up.Message,
		Chat:    chat,
		Admin:   admin,
		Command: command,
		ReqID:   rid,
		Adapter: r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.String("admin", admin.Label()),
			logx.String("cmd", command),
		),
	}
}

func (r *Router) enqueue(ctx context.Context, req *Request, h HandlerFunc, timeout time.Duration) {
	final := Chain(h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)
	if !r.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = r.adapter.SendText(ctx, req.Chat, "Busy, try again.", nil)
	}
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	action, payload, _ := strings.Cut(strings.TrimSpace(cb.Data), ":")

	r.mu.RLock()
	route, ok := r.callbacks[action]
	r.mu.RUnlock()
	if !ok {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	admin, ok := r.authorize(cb.FromID, "")
	if !ok {
		r.log.Warn("unauthorized callback", logx.Int64("from_id", cb.FromID), logx.String("action", action))
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "forbidden")
		return
	}

	req := r.newRequest(up, kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}, admin, "cb:"+action)
	req.Payload = payload
	h := func(ctx context.Context, req *Request) error { return route.Handle(ctx, req, req.Payload) }
	final := Chain(h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(route.Timeout),
	)
	if !r.tryEnqueue(func() {
		_ = final(ctx, req)
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
	}) {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "busy")
	}
}
