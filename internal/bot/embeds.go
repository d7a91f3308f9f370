package bot

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"yeoyu-guard/internal/abuse"
	"yeoyu-guard/internal/storage"
	"yeoyu-guard/internal/verify"
)

// All operator-facing embeds carry the bot name and a KST wall-clock in the
// footer. A fixed UTC+9 zone avoids depending on the host tz database.
var kst = time.FixedZone("KST", 9*60*60)

func (b *Bot) footer() *discordgo.MessageEmbedFooter {
	return &discordgo.MessageEmbedFooter{
		Text: fmt.Sprintf("%s • %s", b.cfg.Notifications.BotName, time.Now().In(kst).Format("2006-01-02 15:04")),
	}
}

func (b *Bot) embed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Fields:      fields,
		Footer:      b.footer(),
	}
}

// errorEmbed renders a verification failure with its support code. Anything
// that is not a coded failure becomes a generic 50001.
func (b *Bot) errorEmbed(err error) *discordgo.MessageEmbed {
	code := "50001"
	message := "처리 중 오류가 발생했습니다. 잠시 후 다시 시도해주세요."
	if verr, ok := err.(*verify.Error); ok {
		code = verr.Code
		message = verr.Message
	}
	return b.embed("오류", fmt.Sprintf("%s\n\n오류 코드: `%s`", message, code),
		b.cfg.Notifications.EmbedColors.Danger, nil)
}

func (b *Bot) auditEmbed(entry storage.AuditLog) *discordgo.MessageEmbed {
	color := b.cfg.Notifications.EmbedColors.Action
	switch entry.Level {
	case "WARN":
		color = b.cfg.Notifications.EmbedColors.Warning
	case "CRIT":
		color = b.cfg.Notifications.EmbedColors.Danger
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "대상", Value: "<@" + entry.UserID + ">", Inline: true},
		{Name: "이벤트", Value: entry.Event, Inline: true},
	}
	if entry.Details != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "상세", Value: entry.Details})
	}
	return b.embed("감사 기록", "", color, fields)
}

func categoryLabel(category abuse.Category) string {
	switch category {
	case abuse.CategorySpam:
		return "도배"
	case abuse.CategoryMention:
		return "멘션 남용"
	case abuse.CategoryChannelCreate:
		return "채널 대량 생성"
	case abuse.CategoryChannelDelete:
		return "채널 대량 삭제"
	case abuse.CategoryRoleDelete:
		return "역할 대량 삭제"
	case abuse.CategoryKick:
		return "대량 추방"
	case abuse.CategoryBan:
		return "대량 차단"
	case abuse.CategoryTimeout:
		return "대량 타임아웃"
	case "banned_identity":
		return "차단된 계정 인증 시도"
	default:
		return string(category)
	}
}

func (b *Bot) quarantineDMEmbed(decision abuse.Decision) *discordgo.MessageEmbed {
	return b.embed("격리 안내",
		fmt.Sprintf("**%s** 행위가 감지되어 격리되었습니다.\n관리자의 검토 후 해제됩니다.", categoryLabel(decision.Category)),
		b.cfg.Notifications.EmbedColors.Danger, nil)
}

// announceVerified posts the public welcome in the verification channel.
func (b *Bot) announceVerified(memberID, robloxName string) {
	if b.cfg.VerifyChannel == "" {
		return
	}
	embed := b.embed("인증 완료",
		fmt.Sprintf("<@%s> 님이 **%s** 계정으로 인증을 완료했습니다!", memberID, robloxName),
		b.cfg.Notifications.EmbedColors.Success, nil)
	if _, err := b.session.ChannelMessageSendEmbed(b.cfg.VerifyChannel, embed); err != nil {
		b.logger.Warn("verified announcement failed", zap.Error(err))
	}
}

// sendQuarantineNotice posts the incident to the log channel with the
// admin-only release button.
func (b *Bot) sendQuarantineNotice(actorID string, decision abuse.Decision) {
	if b.cfg.LogChannel == "" {
		return
	}
	embed := b.embed("격리 발생",
		fmt.Sprintf("<@%s> 님이 **%s** 사유로 격리되었습니다.", actorID, categoryLabel(decision.Category)),
		b.cfg.Notifications.EmbedColors.Danger,
		[]*discordgo.MessageEmbedField{
			{Name: "감지 횟수", Value: fmt.Sprintf("%d회", decision.Count), Inline: true},
		})

	_, err := b.session.ChannelMessageSendComplex(b.cfg.LogChannel, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{embed},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						Label:    "격리 해제",
						Style:    discordgo.DangerButton,
						CustomID: "release_" + actorID,
					},
				},
			},
		},
	})
	if err != nil {
		b.logger.Warn("quarantine notice failed", zap.Error(err))
	}
}
