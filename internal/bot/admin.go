package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"yeoyu-guard/internal/audit"
	"yeoyu-guard/internal/ledger"
	"yeoyu-guard/internal/storage"
)

// handleDirectMessage routes the DM admin console. Commands:
//
//	?<디스코드ID>          연동 및 차단 상태 조회
//	?밴 <디스코드ID> [사유]  계정 차단 (로블록스 신원 포함)
//	?언밴 <디스코드ID>      차단 해제
//
// Non-admins and non-command DMs are ignored without a reply.
func (b *Bot) handleDirectMessage(ctx context.Context, msg *discordgo.MessageCreate) {
	if !b.isAdmin(msg.Author.ID) {
		return
	}
	content := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(content, "?") {
		return
	}

	fields := strings.Fields(strings.TrimPrefix(content, "?"))
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "밴", "ban":
		if len(fields) < 2 {
			b.replyDM(msg.ChannelID, b.embed("차단", "사용법: `?밴 <디스코드ID> [사유]`",
				b.cfg.Notifications.EmbedColors.Warning, nil))
			return
		}
		reason := ""
		if len(fields) > 2 {
			reason = strings.Join(fields[2:], " ")
		}
		b.adminBan(ctx, msg, fields[1], reason)
	case "언밴", "unban":
		if len(fields) < 2 {
			b.replyDM(msg.ChannelID, b.embed("차단 해제", "사용법: `?언밴 <디스코드ID>`",
				b.cfg.Notifications.EmbedColors.Warning, nil))
			return
		}
		b.adminUnban(ctx, msg, fields[1])
	default:
		if isDigits(fields[0]) {
			b.adminLookup(ctx, msg, fields[0])
		}
	}
}

func (b *Bot) adminLookup(ctx context.Context, msg *discordgo.MessageCreate, memberID string) {
	rec, found, err := b.flow.Lookup(ctx, memberID)
	if err != nil {
		b.replyDM(msg.ChannelID, b.errorEmbed(err))
		return
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "디스코드", Value: "<@" + memberID + "> (`" + memberID + "`)"},
	}
	if found {
		value := fmt.Sprintf("`%d`", rec.RobloxID)
		if rec.RobloxName != "" {
			value = fmt.Sprintf("**%s** (`%d`)", rec.RobloxName, rec.RobloxID)
		}
		fields = append(fields,
			&discordgo.MessageEmbedField{Name: "로블록스", Value: value},
			&discordgo.MessageEmbedField{Name: "상태", Value: statusLabel(rec.Status)},
		)
	} else {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "로블록스", Value: "연동 기록 없음"})
	}

	if ban, banned, err := b.ledger.IsBanned(ctx, memberID); err == nil && banned {
		detail := "차단됨"
		if ban.Reason != "" {
			detail += " — " + ban.Reason
		}
		fields = append(fields, &discordgo.MessageEmbedField{Name: "차단", Value: detail})
	}

	b.replyDM(msg.ChannelID, b.embed("멤버 조회", "", b.cfg.Notifications.EmbedColors.Action, fields))
}

func (b *Bot) adminBan(ctx context.Context, msg *discordgo.MessageCreate, memberID, reason string) {
	rec, err := b.ledger.Ban(ctx, memberID, reason)
	if err != nil {
		if errors.Is(err, ledger.ErrNotVerified) {
			b.replyDM(msg.ChannelID, b.embed("차단 실패",
				"해당 멤버는 로블록스 연동 기록이 없어 신원 차단을 걸 수 없습니다.",
				b.cfg.Notifications.EmbedColors.Warning, nil))
			return
		}
		b.replyDM(msg.ChannelID, b.errorEmbed(err))
		return
	}

	if err := b.session.GuildBanCreateWithReason(b.cfg.GuildID, memberID, reason, 0); err != nil {
		b.logger.Warn("discord ban failed after ledger ban",
			zap.String("member_id", memberID), zap.Error(err))
	}

	b.audit.Log(ctx, audit.LevelCrit, b.cfg.GuildID, memberID, "ban",
		fmt.Sprintf("by=%s roblox_id=%d reason=%s", msg.Author.ID, rec.RobloxID, reason))
	b.replyDM(msg.ChannelID, b.embed("차단 완료",
		fmt.Sprintf("<@%s> (로블록스 `%d`) 차단되었습니다.\n같은 로블록스 계정으로는 다시 인증할 수 없습니다.", memberID, rec.RobloxID),
		b.cfg.Notifications.EmbedColors.Danger, nil))
}

func (b *Bot) adminUnban(ctx context.Context, msg *discordgo.MessageCreate, memberID string) {
	rec, err := b.ledger.Unban(ctx, memberID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotBanned) {
			b.replyDM(msg.ChannelID, b.embed("차단 해제",
				"해당 멤버는 차단 상태가 아닙니다.",
				b.cfg.Notifications.EmbedColors.Warning, nil))
			return
		}
		b.replyDM(msg.ChannelID, b.errorEmbed(err))
		return
	}

	if err := b.session.GuildBanDelete(b.cfg.GuildID, memberID); err != nil {
		b.logger.Warn("discord unban failed after ledger unban",
			zap.String("member_id", memberID), zap.Error(err))
	}

	b.audit.Log(ctx, audit.LevelWarn, b.cfg.GuildID, memberID, "unban",
		fmt.Sprintf("by=%s roblox_id=%d", msg.Author.ID, rec.RobloxID))
	b.replyDM(msg.ChannelID, b.embed("차단 해제 완료",
		fmt.Sprintf("<@%s> 차단이 해제되었습니다.", memberID),
		b.cfg.Notifications.EmbedColors.Success, nil))
}

func (b *Bot) replyDM(channelID string, embed *discordgo.MessageEmbed) {
	_, _ = b.session.ChannelMessageSendEmbed(channelID, embed)
}

func statusLabel(status storage.Status) string {
	switch status {
	case storage.StatusVerified:
		return "인증 완료"
	case storage.StatusChallengeIssued:
		return "인증 진행 중"
	case storage.StatusPending:
		return "계정 확인 대기"
	default:
		return string(status)
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
