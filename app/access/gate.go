package access

import (
	"strings"

	e "nuclight.org/video-relay-bot/pkg/entities"
)

// Gate decides who may use the bot based on static lists of usernames and
// chat ids. Deny lists win over allow lists. When both allow lists are
// empty everybody who is not denied is allowed.
type Gate struct {
	allowUsers map[string]struct{}
	allowChats map[int64]struct{}
	denyUsers  map[string]struct{}
	denyChats  map[int64]struct{}
}

type Lists struct {
	AllowUsers []string
	AllowChats []int64
	DenyUsers  []string
	DenyChats  []int64
}

type Decision struct {
	Allowed bool
	Reason  string
}

func NewGate(lists Lists) *Gate {
	return &Gate{
		allowUsers: userSet(lists.AllowUsers),
		allowChats: chatSet(lists.AllowChats),
		denyUsers:  userSet(lists.DenyUsers),
		denyChats:  chatSet(lists.DenyChats),
	}
}

func (g *Gate) Check(user e.User, chat e.Chat) Decision {
	name := normalizeUserName(user.UserName)

	if _, ok := g.denyChats[chat.ID]; ok {
		return Decision{Reason: "chat is denied"}
	}

	if name != "" {
		if _, ok := g.denyUsers[name]; ok {
			return Decision{Reason: "user is denied"}
		}
	}

	if len(g.allowUsers) == 0 && len(g.allowChats) == 0 {
		return Decision{Allowed: true, Reason: "no allow list"}
	}

	if _, ok := g.allowChats[chat.ID]; ok {
		return Decision{Allowed: true, Reason: "chat is allowed"}
	}

	if name != "" {
		if _, ok := g.allowUsers[name]; ok {
			return Decision{Allowed: true, Reason: "user is allowed"}
		}
	}

	return Decision{Reason: "not on allow list"}
}

func normalizeUserName(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
}

func userSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n = normalizeUserName(n); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

func chatSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
