package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"yeoyu-guard/internal/abuse"
	"yeoyu-guard/internal/audit"
	"yeoyu-guard/internal/verify"
)

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	ctx := context.Background()

	switch interaction.Type {
	case discordgo.InteractionApplicationCommand:
		data := interaction.ApplicationCommandData()
		switch data.Name {
		case "인증하기":
			b.handleVerifyCommand(ctx, interaction)
		case "수동인증":
			b.handleManualVerifyCommand(ctx, interaction, data.Options)
		case "대량삭제":
			b.handlePurgeCommand(ctx, interaction, data.Options)
		}
	case discordgo.InteractionMessageComponent:
		b.handleComponent(ctx, interaction, interaction.MessageComponentData().CustomID)
	case discordgo.InteractionModalSubmit:
		b.handleModalSubmit(ctx, interaction, interaction.ModalSubmitData())
	}
}

func interactionUser(interaction *discordgo.InteractionCreate) *discordgo.User {
	if interaction.Member != nil && interaction.Member.User != nil {
		return interaction.Member.User
	}
	return interaction.User
}

func (b *Bot) handleVerifyCommand(ctx context.Context, interaction *discordgo.InteractionCreate) {
	user := interactionUser(interaction)
	if user == nil {
		return
	}
	if b.cfg.VerifyChannel != "" && interaction.ChannelID != b.cfg.VerifyChannel {
		b.respondEmbed(interaction, b.errorEmbed(verify.ErrChannelNotAllowed), true)
		return
	}

	hasRole := false
	if interaction.Member != nil {
		hasRole = b.hasVerifiedRole(interaction.Member)
	}
	if err := b.flow.Start(ctx, user.ID, hasRole); err != nil {
		b.respondEmbed(interaction, b.errorEmbed(err), true)
		return
	}

	embed := b.embed("Roblox 본인인증",
		"로블록스 계정과 디스코드 계정을 연동합니다.\n아래 버튼을 눌러 인증을 진행해주세요.",
		b.cfg.Notifications.EmbedColors.Action, nil)
	b.respondWithButtons(interaction, embed, true, []discordgo.MessageComponent{
		discordgo.Button{Label: "인증 시작", Style: discordgo.PrimaryButton, CustomID: "start_auth"},
		discordgo.Button{Label: "거부", Style: discordgo.SecondaryButton, CustomID: "deny_auth"},
	})
}

func (b *Bot) handleManualVerifyCommand(ctx context.Context, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	actor := interactionUser(interaction)
	if actor == nil || !b.interactionCan(interaction, discordgo.PermissionKickMembers) {
		b.respondEmbed(interaction, b.embed("수동인증", "권한이 없습니다.",
			b.cfg.Notifications.EmbedColors.Warning, nil), true)
		return
	}

	var targetID, idOrName string
	for _, opt := range options {
		switch opt.Name {
		case "대상":
			if user := opt.UserValue(b.session); user != nil {
				targetID = user.ID
			}
		case "로블록스":
			idOrName = opt.StringValue()
		}
	}
	if targetID == "" || idOrName == "" {
		b.respondEmbed(interaction, b.errorEmbed(errors.New("missing options")), true)
		return
	}

	b.deferEphemeral(interaction)
	acct, err := b.flow.ManualVerify(ctx, targetID, idOrName)
	if err != nil {
		b.followupEmbed(interaction, b.errorEmbed(err))
		return
	}
	b.audit.Log(ctx, audit.LevelInfo, b.cfg.GuildID, targetID, "manual_verify",
		fmt.Sprintf("by=%s roblox_id=%d roblox_name=%s", actor.ID, acct.ID, acct.Name))
	b.followupEmbed(interaction, b.embed("수동인증 완료",
		fmt.Sprintf("<@%s> ↔ **%s** (`%d`) 연동이 완료되었습니다.", targetID, acct.Name, acct.ID),
		b.cfg.Notifications.EmbedColors.Success, nil))
}

func (b *Bot) handlePurgeCommand(ctx context.Context, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if !b.interactionCan(interaction, discordgo.PermissionManageMessages) {
		b.respondEmbed(interaction, b.embed("대량삭제", "권한이 없습니다.",
			b.cfg.Notifications.EmbedColors.Warning, nil), true)
		return
	}

	count := 0
	targetID := ""
	for _, opt := range options {
		switch opt.Name {
		case "개수":
			count = int(opt.IntValue())
		case "대상":
			if user := opt.UserValue(b.session); user != nil {
				targetID = user.ID
			}
		}
	}
	if count < 1 {
		count = 1
	}
	if count > 100 {
		count = 100
	}

	b.deferEphemeral(interaction)
	messages, err := b.session.ChannelMessages(interaction.ChannelID, count, "", "", "")
	if err != nil {
		b.followupEmbed(interaction, b.errorEmbed(err))
		return
	}
	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		if targetID != "" && (msg.Author == nil || msg.Author.ID != targetID) {
			continue
		}
		ids = append(ids, msg.ID)
	}
	if err := b.session.ChannelMessagesBulkDelete(interaction.ChannelID, ids); err != nil {
		b.followupEmbed(interaction, b.errorEmbed(err))
		return
	}

	actor := interactionUser(interaction)
	actorID := ""
	if actor != nil {
		actorID = actor.ID
	}
	b.audit.Log(ctx, audit.LevelInfo, b.cfg.GuildID, actorID, "bulk_delete",
		fmt.Sprintf("channel=%s count=%d", interaction.ChannelID, len(ids)))
	b.followupEmbed(interaction, b.embed("대량삭제",
		fmt.Sprintf("메시지 %d개를 삭제했습니다.", len(ids)),
		b.cfg.Notifications.EmbedColors.Success, nil))
}

func (b *Bot) handleComponent(ctx context.Context, interaction *discordgo.InteractionCreate, customID string) {
	user := interactionUser(interaction)
	if user == nil {
		return
	}

	switch {
	case customID == "start_auth", customID == "re_search":
		b.openHandleModal(interaction)
	case customID == "deny_auth":
		b.audit.Log(ctx, audit.LevelInfo, b.cfg.GuildID, user.ID, "verify_declined", "code="+verify.ErrDeclined.Code)
		b.respondEmbed(interaction, b.embed("본인인증 거부",
			verify.ErrDeclined.Message+" 언제든 다시 시작할 수 있습니다.",
			b.cfg.Notifications.EmbedColors.Warning, nil), true)
	case strings.HasPrefix(customID, "verify_"):
		b.handleConfirmCandidate(ctx, interaction, user.ID, strings.TrimPrefix(customID, "verify_"))
	case strings.HasPrefix(customID, "check_"):
		b.handleCheckChallenge(ctx, interaction, user.ID)
	case strings.HasPrefix(customID, "regen_"):
		b.handleRegenerate(ctx, interaction, user.ID)
	case strings.HasPrefix(customID, "release_"):
		b.handleRelease(ctx, interaction, strings.TrimPrefix(customID, "release_"))
	}
}

func (b *Bot) openHandleModal(interaction *discordgo.InteractionCreate) {
	err := b.session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: "roblox_modal",
			Title:    "Roblox 계정 검색",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.TextInput{
							CustomID:    "roblox_handle",
							Label:       "로블록스 닉네임 또는 아이디",
							Style:       discordgo.TextInputShort,
							Placeholder: "예: builderman",
							Required:    true,
							MaxLength:   50,
						},
					},
				},
			},
		},
	})
	if err != nil {
		b.logger.Warn("modal open failed", zap.Error(err))
	}
}

func (b *Bot) handleModalSubmit(ctx context.Context, interaction *discordgo.InteractionCreate, data discordgo.ModalSubmitInteractionData) {
	if data.CustomID != "roblox_modal" {
		return
	}
	user := interactionUser(interaction)
	if user == nil {
		return
	}

	handle := ""
	for _, row := range data.Components {
		actionsRow, ok := row.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, component := range actionsRow.Components {
			if input, ok := component.(*discordgo.TextInput); ok && input.CustomID == "roblox_handle" {
				handle = input.Value
			}
		}
	}
	if strings.TrimSpace(handle) == "" {
		b.respondEmbed(interaction, b.errorEmbed(verify.ErrAccountNotFound), true)
		return
	}
	if !b.searchAllowed(user.ID) {
		b.respondEmbed(interaction, b.embed("잠시만요",
			"검색이 너무 빠릅니다. 잠시 후 다시 시도해주세요.",
			b.cfg.Notifications.EmbedColors.Warning, nil), true)
		return
	}

	b.deferEphemeral(interaction)
	acct, err := b.flow.SubmitHandle(ctx, user.ID, handle)
	if err != nil {
		if errors.Is(err, verify.ErrBannedIdentity) {
			// someone trying to link a banned identity is treated like an
			// abuser: alert the operators and quarantine pending review
			b.audit.Log(ctx, audit.LevelCrit, b.cfg.GuildID, user.ID, "banned_identity_attempt",
				fmt.Sprintf("handle=%s", handle))
			b.quarantineActor(ctx, user.ID, abuse.Decision{
				Quarantine: true,
				Category:   abuse.Category("banned_identity"),
				Count:      1,
			})
		}
		b.followupEmbed(interaction, b.errorEmbed(err))
		return
	}

	embed := b.embed("계정 확인",
		fmt.Sprintf("검색된 계정이 본인 계정이 맞나요?\n\n**%s** (@%s)\n`https://www.roblox.com/users/%d/profile`",
			acct.DisplayName, acct.Name, acct.ID),
		b.cfg.Notifications.EmbedColors.Action, nil)
	b.followupWithButtons(interaction, embed, []discordgo.MessageComponent{
		discordgo.Button{Label: "네, 제 계정입니다", Style: discordgo.SuccessButton, CustomID: "verify_" + strconv.FormatInt(acct.ID, 10)},
		discordgo.Button{Label: "다시 검색", Style: discordgo.SecondaryButton, CustomID: "re_search"},
	})
}

func (b *Bot) handleConfirmCandidate(ctx context.Context, interaction *discordgo.InteractionCreate, memberID, suffix string) {
	robloxID, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil {
		b.respondEmbed(interaction, b.errorEmbed(verify.ErrSessionExpired), true)
		return
	}

	token, err := b.flow.ConfirmCandidate(ctx, memberID, robloxID)
	if err != nil {
		b.respondEmbed(interaction, b.errorEmbed(err), true)
		return
	}

	embed := b.challengeEmbed(token)
	b.respondWithButtons(interaction, embed, true, b.challengeButtons(suffix))
}

func (b *Bot) handleCheckChallenge(ctx context.Context, interaction *discordgo.InteractionCreate, memberID string) {
	b.deferEphemeral(interaction)
	result, err := b.flow.CheckChallenge(ctx, memberID)
	if err != nil {
		b.followupEmbed(interaction, b.errorEmbed(err))
		return
	}

	// only the call that won the commit announces publicly, so a
	// double-click never produces two welcome messages
	if result.Verified {
		b.audit.Log(ctx, audit.LevelInfo, b.cfg.GuildID, memberID, "verified",
			fmt.Sprintf("roblox_id=%d roblox_name=%s", result.RobloxID, result.RobloxName))
		b.announceVerified(memberID, result.RobloxName)
	}
	b.followupEmbed(interaction, b.embed("인증 완료",
		fmt.Sprintf("**%s** 계정 인증이 완료되었습니다. 환영합니다!", result.RobloxName),
		b.cfg.Notifications.EmbedColors.Success, nil))
}

func (b *Bot) handleRegenerate(ctx context.Context, interaction *discordgo.InteractionCreate, memberID string) {
	token, err := b.flow.RegenerateChallenge(ctx, memberID)
	if err != nil {
		b.respondEmbed(interaction, b.errorEmbed(err), true)
		return
	}

	rec, found, err := b.flow.Lookup(ctx, memberID)
	suffix := ""
	if err == nil && found {
		suffix = strconv.FormatInt(rec.RobloxID, 10)
	}
	b.respondWithButtons(interaction, b.challengeEmbed(token), true, b.challengeButtons(suffix))
}

func (b *Bot) handleRelease(ctx context.Context, interaction *discordgo.InteractionCreate, actorID string) {
	if !b.interactionIsAdmin(interaction) {
		b.respondEmbed(interaction, b.embed("격리 해제", "관리자만 해제할 수 있습니다.",
			b.cfg.Notifications.EmbedColors.Warning, nil), true)
		return
	}

	snapshot, err := b.quarantine.Release(ctx, actorID)
	if err != nil {
		b.respondEmbed(interaction, b.embed("격리 해제", "해제할 격리 기록이 없습니다.",
			b.cfg.Notifications.EmbedColors.Warning, nil), true)
		return
	}

	admin := interactionUser(interaction)
	adminID := ""
	if admin != nil {
		adminID = admin.ID
	}
	b.audit.Log(ctx, audit.LevelWarn, b.cfg.GuildID, actorID, "quarantine_released",
		fmt.Sprintf("by=%s reason=%s restored_roles=%d", adminID, snapshot.Reason, len(snapshot.Roles)))
	b.respondEmbed(interaction, b.embed("격리 해제",
		fmt.Sprintf("<@%s> 님의 격리를 해제하고 역할 %d개를 복원했습니다.", actorID, len(snapshot.Roles)),
		b.cfg.Notifications.EmbedColors.Success, nil), false)
}

func (b *Bot) challengeEmbed(token string) *discordgo.MessageEmbed {
	return b.embed("프로필 인증",
		fmt.Sprintf("로블록스 프로필 **소개글**에 아래 인증 문구를 넣은 뒤 확인 버튼을 눌러주세요.\n\n```%s```", token),
		b.cfg.Notifications.EmbedColors.Action, nil)
}

func (b *Bot) challengeButtons(suffix string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.Button{Label: "확인", Style: discordgo.SuccessButton, CustomID: "check_" + suffix},
		discordgo.Button{Label: "인증 문구 재발급", Style: discordgo.SecondaryButton, CustomID: "regen_" + suffix},
	}
}

func (b *Bot) hasVerifiedRole(member *discordgo.Member) bool {
	roleSet := make(map[string]struct{}, len(b.cfg.VerifiedRoles))
	for _, id := range b.cfg.VerifiedRoles {
		roleSet[id] = struct{}{}
	}
	for _, roleID := range member.Roles {
		if _, ok := roleSet[roleID]; ok {
			return true
		}
	}
	return false
}

// interactionIsAdmin accepts either a configured admin ID or a member whose
// resolved permissions include Administrator.
func (b *Bot) interactionIsAdmin(interaction *discordgo.InteractionCreate) bool {
	return b.interactionCan(interaction, 0)
}

func (b *Bot) interactionCan(interaction *discordgo.InteractionCreate, perm int64) bool {
	user := interactionUser(interaction)
	if user == nil {
		return false
	}
	if b.isAdmin(user.ID) {
		return true
	}
	if interaction.Member != nil {
		allowed := int64(discordgo.PermissionAdministrator) | perm
		return interaction.Member.Permissions&allowed != 0
	}
	return false
}

func (b *Bot) respondEmbed(interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := b.session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
	if err != nil {
		b.logger.Warn("interaction respond failed", zap.Error(err))
	}
}

func (b *Bot) respondWithButtons(interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool, buttons []discordgo.MessageComponent) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := b.session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds:     []*discordgo.MessageEmbed{embed},
			Flags:      flags,
			Components: []discordgo.MessageComponent{discordgo.ActionsRow{Components: buttons}},
		},
	})
	if err != nil {
		b.logger.Warn("interaction respond failed", zap.Error(err))
	}
}

// deferEphemeral acknowledges immediately so slow resolver calls do not blow
// the three-second interaction deadline.
func (b *Bot) deferEphemeral(interaction *discordgo.InteractionCreate) {
	_ = b.session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
}

// followupEmbed fills in a deferred response; the ephemeral flag set at
// defer time carries over to the edit.
func (b *Bot) followupEmbed(interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	embeds := []*discordgo.MessageEmbed{embed}
	_, err := b.session.InteractionResponseEdit(interaction.Interaction, &discordgo.WebhookEdit{
		Embeds: &embeds,
	})
	if err != nil {
		b.logger.Warn("followup failed", zap.Error(err))
	}
}

func (b *Bot) followupWithButtons(interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, buttons []discordgo.MessageComponent) {
	embeds := []*discordgo.MessageEmbed{embed}
	components := []discordgo.MessageComponent{discordgo.ActionsRow{Components: buttons}}
	_, err := b.session.InteractionResponseEdit(interaction.Interaction, &discordgo.WebhookEdit{
		Embeds:     &embeds,
		Components: &components,
	})
	if err != nil {
		b.logger.Warn("followup failed", zap.Error(err))
	}
}
