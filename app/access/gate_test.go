package access

import (
	"testing"

	"github.com/stretchr/testify/assert"

	e "nuclight.org/video-relay-bot/pkg/entities"
)

func TestGate_DenyLists(t *testing.T) {
	g := NewGate(Lists{
		DenyUsers: []string{"@Spammer", "troll"},
		DenyChats: []int64{-1001},
	})

	tests := []struct {
		name    string
		user    string
		chatID  int64
		allowed bool
	}{
		{name: "denied username with at", user: "spammer", chatID: 10, allowed: false},
		{name: "denied username case", user: "TROLL", chatID: 10, allowed: false},
		{name: "denied chat", user: "alice", chatID: -1001, allowed: false},
		{name: "other user", user: "alice", chatID: 10, allowed: true},
		{name: "no username", user: "", chatID: 10, allowed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Check(e.User{UserName: tt.user}, e.Chat{ID: tt.chatID})
			assert.Equal(t, tt.allowed, d.Allowed, d.Reason)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestGate_AllowLists(t *testing.T) {
	g := NewGate(Lists{
		AllowUsers: []string{"alice"},
		AllowChats: []int64{-2002},
		DenyUsers:  []string{"bob"},
	})

	assert.True(t, g.Check(e.User{UserName: "Alice"}, e.Chat{ID: 1}).Allowed)
	assert.True(t, g.Check(e.User{UserName: "carol"}, e.Chat{ID: -2002}).Allowed)
	assert.False(t, g.Check(e.User{UserName: "carol"}, e.Chat{ID: 1}).Allowed)
	assert.False(t, g.Check(e.User{}, e.Chat{ID: 1}).Allowed)

	// deny wins even inside an allowed chat
	assert.False(t, g.Check(e.User{UserName: "bob"}, e.Chat{ID: -2002}).Allowed)
}

func TestGate_Empty(t *testing.T) {
	g := NewGate(Lists{})
	assert.True(t, g.Check(e.User{UserName: "anyone"}, e.Chat{ID: 5}).Allowed)
}
