// Package challenge issues the one-time tokens users place in their Roblox
// profile to prove control of the account.
package challenge

import (
	"fmt"
	"math/rand"
)

// phrases are handed out on regenerate, for profiles where a bare number gets
// eaten by Roblox's content filter. All entries are harmless Korean phrases.
var phrases = []string{
	"파란 하늘 흰 구름",
	"따뜻한 봄날 바람",
	"고요한 아침 호수",
	"달콤한 딸기 우유",
	"밝은 보름달 저녁",
	"포근한 겨울 이불",
	"시원한 여름 바다",
	"노란 은행나무 길",
	"조용한 새벽 공기",
	"맑은 가을 하늘",
}

// Generator produces verification tokens. Tokens are scoped per member and
// compared by content against one expected profile, so cross-member
// collisions are harmless.
type Generator struct {
	intN func(int) int
}

func New() *Generator {
	return &Generator{intN: rand.Intn}
}

// Numeric returns a fresh 5-digit code, uniform over 10000..99999.
func (g *Generator) Numeric() string {
	return fmt.Sprintf("%d", 10000+g.intN(90000))
}

// Phrase returns a phrase-form token from the allow-list.
func (g *Generator) Phrase() string {
	return phrases[g.intN(len(phrases))]
}
