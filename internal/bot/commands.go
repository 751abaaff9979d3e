package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"phrasebot/internal/domain"
	"phrasebot/internal/phrase"
	"phrasebot/internal/task/scheduler"
	logx "phrasebot/pkg/logx"
	"phrasebot/pkg/tgui"

	tele "gopkg.in/telebot.v4"
)

const (
	defaultCommandTimeout = 30 * time.Second
	publishCommandTimeout = 10 * time.Minute

	viewPageSize    = 10
	defaultLogLimit = 10
	maxLogLimit     = 50
)

// Commands returns the command table for Router.SetRegistry.
func (b *Bot) Commands() []Command {
	cmds := []Command{
		{Name: "start", Description: "welcome and quick start", Hidden: true, Handle: b.cmdStart},
		{Name: "upload", Aliases: []string{"up"}, Description: "add a phrase source", Usage: "/upload [name]", Handle: b.cmdUpload},
		{Name: "list", Aliases: []string{"ls", "sources"}, Description: "list phrase sources", Handle: b.cmdList},
		{Name: "view", Description: "show upcoming phrases of a source", Usage: "/view <src>", Handle: b.cmdView},
		{Name: "schedule", Aliases: []string{"sched"}, Description: "set daily publish times", Usage: "/schedule <src> HH:MM[,HH:MM…]", Handle: b.cmdSchedule},
		{Name: "stop", Description: "stop publishing a source", Usage: "/stop <src>", Handle: b.cmdStop},
		{Name: "reset", Description: "restart a source from its first phrase", Usage: "/reset <src>", Handle: b.cmdReset},
		{Name: "delete", Aliases: []string{"rm"}, Description: "delete a source and its schedule", Usage: "/delete <src>", Handle: b.cmdDelete},
		{Name: "addchannel", Description: "register a target channel", Usage: "/addchannel <@handle|-100id> [name]", Handle: b.cmdAddChannel},
		{Name: "rmchannel", Description: "unregister a channel", Usage: "/rmchannel <@handle|-100id>", Handle: b.cmdRemoveChannel},
		{Name: "channels", Description: "list target channels", Handle: b.cmdChannels},
		{Name: "status", Description: "triggers, channels and queue state", Handle: b.cmdStatus},
		{Name: "logs", Description: "recent publish log", Usage: "/logs [n]", Handle: b.cmdLogs},
		{Name: "generate", Aliases: []string{"gen"}, Description: "preview a generated phrase", Handle: b.cmdGenerate},
		{Name: "post", Description: "generate a phrase and publish it now", Timeout: publishCommandTimeout, Handle: b.cmdPost},
		{Name: "publish", Description: "publish the next phrase of a source now", Usage: "/publish <src>", Timeout: publishCommandTimeout, Handle: b.cmdPublish},
	}
	for i := range cmds {
		if cmds[i].Timeout == 0 {
			cmds[i].Timeout = defaultCommandTimeout
		}
	}
	return cmds
}

// Callbacks returns the inline button routes for Router.SetRegistry.
func (b *Bot) Callbacks() []CallbackRoute {
	return []CallbackRoute{
		{Action: "view", Timeout: defaultCommandTimeout, Handle: b.cbView},
		{Action: "suggest", Timeout: defaultCommandTimeout, Handle: b.cbSuggest},
		{Action: "delete", Timeout: defaultCommandTimeout, Handle: b.cbDelete},
		{Action: "delete_yes", Timeout: defaultCommandTimeout, Handle: b.cbDeleteConfirmed},
		{Action: "dismiss", Handle: func(context.Context, *Request, string) error { return nil }},
	}
}

func sourceArg(req *Request, usage string) (string, error) {
	if len(req.Args) == 0 || strings.TrimSpace(req.Args[0]) == "" {
		return "", usageErr(usage)
	}
	return strings.TrimSpace(req.Args[0]), nil
}

func (b *Bot) cmdStart(ctx context.Context, req *Request) error {
	msg := tgui.New().
		Title("👋", "Phrase publisher").
		Line("I post phrases from your lists to your channels on a daily schedule.").
		Blank().
		HTML("1. Register a channel: <code>/addchannel @mychannel</code>").
		HTML("2. Send a <code>.txt</code> file with one phrase per line").
		HTML("3. Schedule it: <code>/schedule &lt;src&gt; 09:00,18:00</code>").
		Blank().
		HTML("See /help for every command.").
		Build()
	return req.Reply(ctx, msg.Text)
}

func (b *Bot) cmdUpload(ctx context.Context, req *Request) error {
	name := strings.TrimSpace(strings.Join(req.Args, " "))
	if req.Body != "" {
		id := "src_" + newReqID()
		if name != "" {
			id = SourceIDFromName(name)
		}
		return b.ingestAndReply(ctx, req, id, name, req.Body)
	}
	b.setPending(req.Chat.ChatID, name)
	return req.Reply(ctx, "📄 Send a <code>.txt</code> file or paste the phrases as a message, one per line.")
}

// HandleInput receives documents and plain text from admins.
func (b *Bot) HandleInput(ctx context.Context, req *Request) error {
	msg := req.Message
	if msg == nil {
		return nil
	}
	if doc := msg.Document; doc != nil {
		p, _ := b.takePending(req.Chat.ChatID)
		if doc.Rejected != "" {
			return req.Reply(ctx, "⚠️ "+escape(doc.Rejected))
		}
		name := p.name
		if name == "" {
			name = strings.TrimSuffix(doc.FileName, ".txt")
		}
		return b.ingestAndReply(ctx, req, SourceIDFromName(doc.FileName), name, doc.Text)
	}

	p, ok := b.takePending(req.Chat.ChatID)
	if !ok {
		if !msg.IsGroup {
			return req.Reply(ctx, "Send /upload first to add phrases, or /help for commands.")
		}
		return nil
	}
	id := "src_" + newReqID()
	if p.name != "" {
		id = SourceIDFromName(p.name)
	}
	return b.ingestAndReply(ctx, req, id, p.name, msg.Text)
}

func (b *Bot) ingestAndReply(ctx context.Context, req *Request, id, name, raw string) error {
	n, rep, err := b.Ingest(ctx, req.Admin, id, name, raw)
	if err != nil {
		return err
	}
	if name == "" {
		name = id
	}
	msg := tgui.New().
		Title("✅", "Source saved").
		KV("Name", name).
		HTML(tgui.H("• <b>Id</b>: " + tgui.Code(id).String())).
		KV("Phrases", strconv.Itoa(n)).
		HTML(tgui.Esc(reportNote(rep))).
		Inline(tgui.NewInline().Row(
			tgui.Btn("⏰ Schedule", "suggest", id),
			tgui.Btn("👁 View", "view", id+":0"),
			tgui.Btn("🗑 Delete", "delete", id),
		)).
		Build()
	return req.ReplyMarkup(ctx, msg.Text, msg.Opt.ReplyMarkupAdapter)
}

func reportNote(rep phrase.Report) string {
	var parts []string
	if rep.Fallback > 0 {
		parts = append(parts, fmt.Sprintf("%d unnumbered lines kept as is", rep.Fallback))
	}
	if rep.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d short lines skipped", rep.Skipped))
	}
	if len(parts) == 0 {
		return ""
	}
	return "ℹ️ " + strings.Join(parts, "; ")
}

func (b *Bot) cmdList(ctx context.Context, req *Request) error {
	sources, err := b.deps.Store.ListSources(ctx)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return req.Reply(ctx, "No sources yet. Send a <code>.txt</code> file to add one.")
	}
	msg := tgui.New().Title("📚", fmt.Sprintf("Sources (%d)", len(sources)))
	for _, s := range sources {
		times := triggerTimes(b.deps.Schedules.Triggers(s.ID))
		state := "⏸ not scheduled"
		switch {
		case s.Remaining() == 0:
			state = "📭 exhausted"
		case len(times) > 0:
			state = "⏰ " + strings.Join(times, ", ")
		}
		msg.Blank().
			HTML(tgui.H(tgui.Code(s.ID).String() + " " + tgui.B(s.Name).String())).
			HTML(tgui.H(fmt.Sprintf("%s %d/%d · ", tgui.Progress(s.Cursor, s.Total, 10), s.Cursor, s.Total) + escape(state)))
	}
	return req.Reply(ctx, msg.Build().Text)
}

func (b *Bot) cmdView(ctx context.Context, req *Request) error {
	id, err := sourceArg(req, "/view <src>")
	if err != nil {
		return err
	}
	return b.renderView(ctx, req, id, 0)
}

func (b *Bot) cbView(ctx context.Context, req *Request, payload string) error {
	id, pageStr, _ := strings.Cut(payload, ":")
	page, _ := strconv.Atoi(pageStr)
	return b.renderView(ctx, req, id, page)
}

// renderView shows the source's progress and a page of its upcoming phrases.
func (b *Bot) renderView(ctx context.Context, req *Request, id string, page int) error {
	src, err := b.deps.Store.GetSource(ctx, id)
	if err != nil {
		return err
	}
	now := b.deps.Schedules.Now()
	triggers := b.deps.Schedules.Triggers(id)

	msg := tgui.New().
		Title("📖", src.Name).
		HTML(tgui.H("• <b>Id</b>: " + tgui.Code(src.ID).String())).
		KV("Progress", fmt.Sprintf("%s %d/%d", tgui.Progress(src.Cursor, src.Total(), 10), src.Cursor, src.Total())).
		KV("Remaining", strconv.Itoa(src.Remaining())).
		KV("Times", joinOrNone(triggerTimes(triggers)))
	if len(triggers) > 0 {
		next := triggers[0].Next
		for _, t := range triggers[1:] {
			if !t.Next.IsZero() && (next.IsZero() || t.Next.Before(next)) {
				next = t.Next
			}
		}
		msg.KV("Next", formatNext(next, now))
	}

	upcoming := src.Phrases[min(src.Cursor, len(src.Phrases)):]
	kb := tgui.NewInline()
	if len(upcoming) == 0 {
		msg.Blank().Line("No phrases left.")
	} else {
		p := tgui.Paginate(upcoming, page, viewPageSize)
		msg.Blank().Section("Upcoming · " + p.Label())
		for i, ph := range p.Items {
			msg.HTML(tgui.H(fmt.Sprintf("%d. ", src.Cursor+p.From+i+1) + escape(tgui.TruncRunes(ph, 200))))
		}
		var nav []tele.Btn
		if p.HasPrev {
			nav = append(nav, tgui.Btn("⬅️ Prev", "view", fmt.Sprintf("%s:%d", id, p.Index-1)))
		}
		if p.HasNext {
			nav = append(nav, tgui.Btn("Next ➡️", "view", fmt.Sprintf("%s:%d", id, p.Index+1)))
		}
		kb.Row(nav...)
	}
	out := msg.Inline(kb).Build()
	return req.ReplyMarkup(ctx, out.Text, out.Opt.ReplyMarkupAdapter)
}

func (b *Bot) cmdSchedule(ctx context.Context, req *Request) error {
	id, err := sourceArg(req, "/schedule <src> HH:MM[,HH:MM…]")
	if err != nil {
		return err
	}
	times := domain.SplitTimes(strings.Join(req.Args[1:], " "))
	if len(times) == 0 {
		return b.replySuggestions(ctx, req, id)
	}
	triggers, err := b.SetSchedule(ctx, req.Admin, id, times)
	if err != nil {
		return err
	}
	return req.Reply(ctx, scheduleText(id, triggers, b.deps.Schedules.Now(), b.deps.Schedules.Snapshot()))
}

func scheduleText(id string, triggers []scheduler.TriggerInfo, now time.Time, snap scheduler.Snapshot) string {
	msg := tgui.New().
		Title("⏰", "Schedule saved").
		HTML(tgui.H("• <b>Source</b>: " + tgui.Code(id).String())).
		KV("Time zone", snap.Timezone)
	for _, t := range triggers {
		msg.HTML(tgui.H("  " + tgui.Code(t.Time).String() + " next " + escape(formatNext(t.Next, now))))
	}
	if !snap.Running {
		msg.Blank().Line("⚠️ The scheduler is disabled; triggers are saved but will not fire.")
	}
	return msg.Build().Text
}

func (b *Bot) cbSuggest(ctx context.Context, req *Request, payload string) error {
	return b.replySuggestions(ctx, req, payload)
}

func (b *Bot) replySuggestions(ctx context.Context, req *Request, id string) error {
	if _, err := b.deps.Store.GetSource(ctx, id); err != nil {
		return err
	}
	msg := tgui.New().
		Title("⏰", "Pick publish times").
		Line("Send one of these, or your own HH:MM list:")
	for n := 1; n <= 4; n++ {
		msg.Blank().Section(fmt.Sprintf("%d per day", n))
		for _, s := range domain.SuggestTimes(n) {
			msg.HTML(tgui.Code("/schedule " + id + " " + s))
		}
	}
	return req.Reply(ctx, msg.Build().Text)
}

func (b *Bot) cmdStop(ctx context.Context, req *Request) error {
	id, err := sourceArg(req, "/stop <src>")
	if err != nil {
		return err
	}
	if err := b.StopSchedule(ctx, req.Admin, id); err != nil {
		return err
	}
	return req.Reply(ctx, "⏸ Publishing of "+tgui.Code(id).String()+" stopped.")
}

func (b *Bot) cmdReset(ctx context.Context, req *Request) error {
	id, err := sourceArg(req, "/reset <src>")
	if err != nil {
		return err
	}
	if err := b.ResetSource(ctx, req.Admin, id); err != nil {
		return err
	}
	text := "🔄 " + tgui.Code(id).String() + " starts again from its first phrase."
	if len(b.deps.Schedules.Triggers(id)) == 0 {
		text += "\nIt has no schedule; set one with <code>/schedule " + escape(id) + " HH:MM</code>."
	}
	return req.Reply(ctx, text)
}

func (b *Bot) cmdDelete(ctx context.Context, req *Request) error {
	id, err := sourceArg(req, "/delete <src>")
	if err != nil {
		return err
	}
	if err := b.DeleteSource(ctx, req.Admin, id); err != nil {
		return err
	}
	return req.Reply(ctx, "🗑 "+tgui.Code(id).String()+" deleted.")
}

func (b *Bot) cbDelete(ctx context.Context, req *Request, payload string) error {
	src, err := b.deps.Store.GetSource(ctx, payload)
	if err != nil {
		return err
	}
	msg := tgui.New().
		Title("🗑", "Delete source?").
		Line(fmt.Sprintf("%s (%d phrases, %d left) and its schedule will be removed.", src.Name, src.Total(), src.Remaining())).
		Inline(tgui.NewInline().Row(
			tgui.Btn("Delete", "delete_yes", payload),
			tgui.Btn("Cancel", "dismiss", ""),
		)).
		Build()
	return req.ReplyMarkup(ctx, msg.Text, msg.Opt.ReplyMarkupAdapter)
}

func (b *Bot) cbDeleteConfirmed(ctx context.Context, req *Request, payload string) error {
	if err := b.DeleteSource(ctx, req.Admin, payload); err != nil {
		return err
	}
	return req.Reply(ctx, "🗑 "+tgui.Code(payload).String()+" deleted.")
}

func (b *Bot) cmdAddChannel(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		return usageErr("/addchannel <@handle|-100id> [name]")
	}
	id, err := b.AddChannel(ctx, req.Admin, req.Args[0], strings.Join(req.Args[1:], " "))
	if err != nil {
		return err
	}
	return req.Reply(ctx, "📢 Channel "+tgui.Code(id).String()+" added. Make sure the bot is an admin there.")
}

func (b *Bot) cmdRemoveChannel(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		return usageErr("/rmchannel <@handle|-100id>")
	}
	id, err := b.RemoveChannel(ctx, req.Admin, req.Args[0])
	if err != nil {
		return err
	}
	return req.Reply(ctx, "Channel "+tgui.Code(id).String()+" removed.")
}

func (b *Bot) cmdChannels(ctx context.Context, req *Request) error {
	chans, err := b.deps.Store.ListActiveChannels(ctx)
	if err != nil {
		return err
	}
	if len(chans) == 0 {
		return req.Reply(ctx, "No channels. Add one with <code>/addchannel @handle</code>.")
	}
	msg := tgui.New().Title("📢", fmt.Sprintf("Channels (%d)", len(chans)))
	for _, c := range chans {
		line := "• " + tgui.Code(c.ID).String()
		if c.Name != "" {
			line += " " + escape(c.Name)
		}
		msg.HTML(tgui.H(line))
	}
	return req.Reply(ctx, msg.Build().Text)
}

func (b *Bot) cmdStatus(ctx context.Context, req *Request) error {
	snap := b.deps.Schedules.Snapshot()
	sources, err := b.deps.Store.ListSources(ctx)
	if err != nil {
		return err
	}
	chans, err := b.deps.Store.ListActiveChannels(ctx)
	if err != nil {
		return err
	}
	active := 0
	for _, s := range sources {
		if s.Remaining() > 0 {
			active++
		}
	}

	state := "running"
	if !snap.Running {
		state = "stopped"
	}
	msg := tgui.New().
		Title("📊", "Status").
		KV("Scheduler", state).
		KV("Time zone", snap.Timezone).
		KV("Now", b.deps.Schedules.Now().Format("2006-01-02 15:04:05")).
		KV("Triggers", strconv.Itoa(len(snap.Triggers))).
		KV("Sources", fmt.Sprintf("%d (%d with phrases left)", len(sources), active)).
		KV("Channels", strconv.Itoa(len(chans)))
	if b.deps.Engine != nil {
		es := b.deps.Engine.Snapshot()
		msg.KV("Queue", fmt.Sprintf("%d/%d, %d running, %d dropped", es.QueueLen, es.QueueCap, es.InFlight, es.Dropped))
	}
	if b.deps.Notifier != nil {
		if h := b.deps.Notifier.History(); len(h) > 0 {
			last := h[len(h)-1]
			msg.KV("Last alert", last.At.In(b.deps.Schedules.Now().Location()).Format("01-02 15:04")+" "+tgui.TruncRunes(last.Text, 80))
		}
	}
	return req.Reply(ctx, msg.Build().Text)
}

func (b *Bot) cmdLogs(ctx context.Context, req *Request) error {
	limit := defaultLogLimit
	if len(req.Args) > 0 {
		n, err := strconv.Atoi(req.Args[0])
		if err != nil || n <= 0 {
			return usageErr("/logs [n]")
		}
		limit = min(n, maxLogLimit)
	}
	recs, err := b.deps.Store.RecentPublishes(ctx, limit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return req.Reply(ctx, "Nothing published yet.")
	}
	loc := b.deps.Schedules.Now().Location()
	msg := tgui.New().Title("🧾", fmt.Sprintf("Last %d deliveries", len(recs)))
	for _, r := range recs {
		line := statusIcon(r.Status) + " " + escape(r.At.In(loc).Format("01-02 15:04")) + " " +
			tgui.Code(r.SourceID).String() + " → " + tgui.Code(r.ChannelID).String()
		if r.Error != "" {
			line += " " + tgui.I(tgui.TruncRunes(r.Error, 80)).String()
		}
		msg.HTML(tgui.H(line))
		msg.HTML(tgui.H("   " + escape(tgui.TruncRunes(r.Content, 80))))
	}
	return req.Reply(ctx, msg.Build().Text)
}

func (b *Bot) cmdGenerate(ctx context.Context, req *Request) error {
	if b.deps.Generator == nil {
		return usageErr("generator is not configured")
	}
	text, fallback := b.deps.Generator.Phrase(ctx)
	msg := tgui.New().Title("✨", "Generated phrase").HTML(tgui.Quote(text))
	if fallback {
		msg.Line("(generation failed; this is a fallback phrase)")
	}
	msg.HTML("Publish a fresh one with /post.")
	return req.Reply(ctx, msg.Build().Text)
}

func (b *Bot) cmdPost(ctx context.Context, req *Request) error {
	res, fallback, err := b.PostGenerated(ctx, req.Admin)
	if err != nil {
		return err
	}
	text := formatResult(res)
	if fallback {
		text += "\n" + escape("(generation failed; a fallback phrase was used)")
	}
	return req.Reply(ctx, text)
}

func (b *Bot) cmdPublish(ctx context.Context, req *Request) error {
	id, err := sourceArg(req, "/publish <src>")
	if err != nil {
		return err
	}
	res, err := b.PublishNow(ctx, req.Admin, id)
	if err != nil {
		return err
	}
	req.Logger.Debug("manual publish done", logx.Int("delivered", res.Delivered), logx.Int("failed", res.Failed))
	return req.Reply(ctx, formatResult(res))
}
