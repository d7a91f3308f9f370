package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"yeoyu-guard/internal/abuse"
	"yeoyu-guard/internal/audit"
	"yeoyu-guard/internal/challenge"
	"yeoyu-guard/internal/config"
	"yeoyu-guard/internal/ledger"
	"yeoyu-guard/internal/quarantine"
	"yeoyu-guard/internal/roblox"
	"yeoyu-guard/internal/storage"
	"yeoyu-guard/internal/verify"
)

type Bot struct {
	cfg        config.Config
	logger     *zap.Logger
	store      *storage.Store
	audit      *audit.Logger
	flow       *verify.Flow
	detector   *abuse.Detector
	quarantine *quarantine.Controller
	ledger     *ledger.Ledger
	session    *discordgo.Session

	searchMu   sync.Mutex
	lastSearch map[string]time.Time
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, auditLogger *audit.Logger, resolver *roblox.Client, tokens *challenge.Generator, banLedger *ledger.Ledger, detector *abuse.Detector) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildBans |
		discordgo.IntentsMessageContent |
		discordgo.IntentsDirectMessages

	b := &Bot{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		audit:      auditLogger,
		detector:   detector,
		ledger:     banLedger,
		session:    session,
		lastSearch: make(map[string]time.Time),
	}

	guard := &sessionGuard{session: session, guildID: cfg.GuildID}
	b.quarantine = quarantine.New(guard, time.Duration(cfg.Quarantine.DurationHours)*time.Hour, logger)

	granter := &roleGranter{session: session, guildID: cfg.GuildID}
	b.flow = verify.NewFlow(store, resolver, tokens, banLedger, granter,
		cfg.VerifiedRoles, time.Duration(cfg.Verify.SessionTTLHours)*time.Hour, logger)

	if b.audit != nil {
		b.audit.SetNotifier(func(ctx context.Context, entry storage.AuditLog) {
			b.notifyAudit(ctx, entry)
		})
	}

	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onChannelCreate)
	b.session.AddHandler(b.onChannelDelete)
	b.session.AddHandler(b.onRoleDelete)
	b.session.AddHandler(b.onGuildMemberRemove)
	b.session.AddHandler(b.onGuildBanAdd)
	b.session.AddHandler(b.onGuildMemberUpdate)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	return b.registerCommands()
}

func (b *Bot) Close(ctx context.Context) {
	_ = ctx
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", session.State.User.Username))
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot {
		return
	}

	ctx := context.Background()
	if msg.GuildID == "" {
		b.handleDirectMessage(ctx, msg)
		return
	}
	if msg.GuildID != b.cfg.GuildID {
		return
	}
	if b.isProtected(msg.Author.ID) {
		return
	}

	now := time.Now()
	if b.detector.QualifiesAsSpam(msg.Author.ID, msg.Content) {
		decision := b.detector.Observe(msg.Author.ID, abuse.CategorySpam, now)
		if decision.Quarantine {
			b.quarantineActor(ctx, msg.Author.ID, decision)
			return
		}
	}
	// only @everyone/@here count; ordinary reply mentions are normal traffic
	if msg.MentionEveryone {
		decision := b.detector.Observe(msg.Author.ID, abuse.CategoryMention, now)
		if decision.Quarantine {
			b.quarantineActor(ctx, msg.Author.ID, decision)
		}
	}
}

func (b *Bot) onChannelCreate(session *discordgo.Session, event *discordgo.ChannelCreate) {
	if event.Channel == nil || event.Channel.GuildID != b.cfg.GuildID {
		return
	}
	actorID := b.resolveAuditActor(discordgo.AuditLogActionChannelCreate, event.Channel.ID)
	b.observeStructural(actorID, abuse.CategoryChannelCreate)
}

func (b *Bot) onChannelDelete(session *discordgo.Session, event *discordgo.ChannelDelete) {
	if event.Channel == nil || event.Channel.GuildID != b.cfg.GuildID {
		return
	}
	actorID := b.resolveAuditActor(discordgo.AuditLogActionChannelDelete, event.Channel.ID)
	b.observeStructural(actorID, abuse.CategoryChannelDelete)
}

func (b *Bot) onRoleDelete(session *discordgo.Session, event *discordgo.GuildRoleDelete) {
	if event.GuildID != b.cfg.GuildID || event.RoleID == "" {
		return
	}
	actorID := b.resolveAuditActor(discordgo.AuditLogActionRoleDelete, event.RoleID)
	b.observeStructural(actorID, abuse.CategoryRoleDelete)
}

func (b *Bot) onGuildMemberRemove(session *discordgo.Session, event *discordgo.GuildMemberRemove) {
	if event.GuildID != b.cfg.GuildID || event.User == nil {
		return
	}
	// only counts as a kick when a fresh audit entry names an actor;
	// a voluntary leave resolves to nobody
	actorID := b.resolveAuditActor(discordgo.AuditLogActionMemberKick, event.User.ID)
	b.observeModeration(actorID, abuse.CategoryKick)
}

func (b *Bot) onGuildBanAdd(session *discordgo.Session, event *discordgo.GuildBanAdd) {
	if event.GuildID != b.cfg.GuildID || event.User == nil {
		return
	}
	actorID := b.resolveAuditActor(discordgo.AuditLogActionMemberBanAdd, event.User.ID)
	b.observeModeration(actorID, abuse.CategoryBan)
}

func (b *Bot) onGuildMemberUpdate(session *discordgo.Session, event *discordgo.GuildMemberUpdate) {
	if event.GuildID != b.cfg.GuildID || event.User == nil {
		return
	}
	until := event.CommunicationDisabledUntil
	if until == nil || until.Before(time.Now()) {
		return
	}
	actorID := b.resolveAuditActor(discordgo.AuditLogActionMemberUpdate, event.User.ID)
	b.observeModeration(actorID, abuse.CategoryTimeout)
}

// observeStructural feeds channel and role churn into the detector. The bot
// itself and configured admins are exempt.
func (b *Bot) observeStructural(actorID string, category abuse.Category) {
	if actorID == "" || b.isProtected(actorID) {
		return
	}
	decision := b.detector.Observe(actorID, category, time.Now())
	if decision.Quarantine {
		b.quarantineActor(context.Background(), actorID, decision)
	}
}

// observeModeration is observeStructural for kicks, bans and timeouts, with
// the extra exemption for members holding Administrator: mass moderation by
// the server's own staff is their call.
func (b *Bot) observeModeration(actorID string, category abuse.Category) {
	if actorID == "" || b.isProtected(actorID) {
		return
	}
	if b.memberHasAdmin(actorID) {
		return
	}
	decision := b.detector.Observe(actorID, category, time.Now())
	if decision.Quarantine {
		b.quarantineActor(context.Background(), actorID, decision)
	}
}

func (b *Bot) quarantineActor(ctx context.Context, actorID string, decision abuse.Decision) {
	snapshot, applied, err := b.quarantine.Quarantine(ctx, actorID, string(decision.Category))
	if err != nil {
		b.logger.Error("quarantine failed",
			zap.String("actor_id", actorID),
			zap.String("category", string(decision.Category)),
			zap.Error(err))
		return
	}
	if !applied {
		return
	}

	detail := fmt.Sprintf("category=%s count=%d roles=%d", decision.Category, decision.Count, len(snapshot.Roles))
	b.audit.Log(ctx, audit.LevelCrit, b.cfg.GuildID, actorID, "quarantine", detail)

	if b.cfg.Quarantine.DMEnabled {
		b.dmEmbed(actorID, b.quarantineDMEmbed(decision))
	}
	b.sendQuarantineNotice(actorID, decision)
}

func (b *Bot) resolveAuditActor(actionType discordgo.AuditLogAction, targetID string) string {
	logs, err := b.session.GuildAuditLog(b.cfg.GuildID, "", "", int(actionType), 5)
	if err != nil || logs == nil {
		return ""
	}
	for _, entry := range logs.AuditLogEntries {
		if entry == nil {
			continue
		}
		if targetID != "" && entry.TargetID != targetID {
			continue
		}
		ts, err := discordgo.SnowflakeTimestamp(entry.ID)
		if err == nil && time.Since(ts) > 30*time.Second {
			continue
		}
		return entry.UserID
	}
	return ""
}

// searchAllowed enforces the per-member cooldown between account searches,
// keeping button mashers from hammering the upstream API.
func (b *Bot) searchAllowed(userID string) bool {
	delay := time.Duration(b.cfg.Verify.SearchDelaySeconds) * time.Second
	if delay <= 0 {
		return true
	}
	now := time.Now()
	b.searchMu.Lock()
	defer b.searchMu.Unlock()
	if last, ok := b.lastSearch[userID]; ok && now.Sub(last) < delay {
		return false
	}
	b.lastSearch[userID] = now
	return true
}

func (b *Bot) isProtected(userID string) bool {
	if b.session.State != nil && b.session.State.User != nil && userID == b.session.State.User.ID {
		return true
	}
	return b.isAdmin(userID)
}

func (b *Bot) isAdmin(userID string) bool {
	for _, id := range b.cfg.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (b *Bot) memberForUser(userID string) *discordgo.Member {
	member, err := b.session.State.Member(b.cfg.GuildID, userID)
	if err == nil && member != nil {
		return member
	}
	member, _ = b.session.GuildMember(b.cfg.GuildID, userID)
	return member
}

func (b *Bot) memberHasAdmin(userID string) bool {
	member := b.memberForUser(userID)
	if member == nil {
		return false
	}
	guild, err := b.session.State.Guild(b.cfg.GuildID)
	if err != nil || guild == nil {
		guild, err = b.session.Guild(b.cfg.GuildID)
		if err != nil || guild == nil {
			return false
		}
	}
	perms := int64(0)
	roleMap := make(map[string]*discordgo.Role, len(guild.Roles))
	for _, role := range guild.Roles {
		roleMap[role.ID] = role
		if role.ID == guild.ID {
			perms |= role.Permissions
		}
	}
	for _, roleID := range member.Roles {
		if role := roleMap[roleID]; role != nil {
			perms |= role.Permissions
		}
	}
	return perms&discordgo.PermissionAdministrator != 0
}

func (b *Bot) notifyAudit(ctx context.Context, entry storage.AuditLog) {
	_ = ctx
	if b.cfg.LogChannel == "" {
		return
	}
	_, _ = b.session.ChannelMessageSendEmbed(b.cfg.LogChannel, b.auditEmbed(entry))
}

func (b *Bot) dmEmbed(userID string, embed *discordgo.MessageEmbed) {
	if userID == "" || embed == nil {
		return
	}
	channel, err := b.session.UserChannelCreate(userID)
	if err != nil {
		return
	}
	_, _ = b.session.ChannelMessageSendEmbed(channel.ID, embed)
}

// sessionGuard implements quarantine.Guard over the live Discord session.
type sessionGuard struct {
	session *discordgo.Session
	guildID string
}

func (g *sessionGuard) IsManageable(ctx context.Context, actorID string) (bool, error) {
	_ = ctx
	member, err := g.session.GuildMember(g.guildID, actorID)
	if err != nil || member == nil {
		// already gone (left or banned); nothing to quarantine
		return false, nil
	}
	if member.User != nil && member.User.Bot {
		return false, nil
	}
	return true, nil
}

func (g *sessionGuard) MemberRoles(ctx context.Context, actorID string) ([]string, error) {
	_ = ctx
	member, err := g.session.GuildMember(g.guildID, actorID)
	if err != nil {
		return nil, err
	}
	roles := make([]string, len(member.Roles))
	copy(roles, member.Roles)
	return roles, nil
}

func (g *sessionGuard) StripRoles(ctx context.Context, actorID string) error {
	_ = ctx
	empty := []string{}
	_, err := g.session.GuildMemberEdit(g.guildID, actorID, &discordgo.GuildMemberParams{Roles: &empty})
	return err
}

func (g *sessionGuard) AddRole(ctx context.Context, actorID, roleID string) error {
	_ = ctx
	return g.session.GuildMemberRoleAdd(g.guildID, actorID, roleID)
}

func (g *sessionGuard) Timeout(ctx context.Context, actorID string, until time.Time) error {
	_ = ctx
	return g.session.GuildMemberTimeout(g.guildID, actorID, &until)
}

func (g *sessionGuard) ClearTimeout(ctx context.Context, actorID string) error {
	_ = ctx
	return g.session.GuildMemberTimeout(g.guildID, actorID, nil)
}

// roleGranter implements verify.RoleGranter over the live session.
type roleGranter struct {
	session *discordgo.Session
	guildID string
}

func (g *roleGranter) GrantRole(ctx context.Context, memberID, roleID string) error {
	_ = ctx
	return g.session.GuildMemberRoleAdd(g.guildID, memberID, roleID)
}
