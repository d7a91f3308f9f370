package bot

import "github.com/bwmarrin/discordgo"

func (b *Bot) registerCommands() error {
	kickMembers := int64(discordgo.PermissionKickMembers)
	manageMessages := int64(discordgo.PermissionManageMessages)

	commands := []*discordgo.ApplicationCommand{
		{
			Name:        "인증하기",
			Description: "로블록스 계정으로 본인인증을 시작합니다",
		},
		{
			Name:                     "수동인증",
			Description:              "관리자가 멤버를 직접 인증 처리합니다",
			DefaultMemberPermissions: &kickMembers,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "대상",
					Description: "인증 처리할 멤버",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "로블록스",
					Description: "로블록스 아이디 또는 닉네임",
					Required:    true,
				},
			},
		},
		{
			Name:                     "대량삭제",
			Description:              "현재 채널의 최근 메시지를 삭제합니다",
			DefaultMemberPermissions: &manageMessages,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "개수",
					Description: "삭제할 메시지 수 (1-100)",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "대상",
					Description: "이 멤버의 메시지만 삭제",
					Required:    false,
				},
			},
		},
	}

	for _, command := range commands {
		if _, err := b.session.ApplicationCommandCreate(b.session.State.User.ID, b.cfg.GuildID, command); err != nil {
			return err
		}
	}
	return nil
}
