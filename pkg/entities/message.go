package entities

type User struct {
	ID           int64
	UserName     string
	Name         string
	LanguageCode string
}

type Chat struct {
	ID      int64
	Title   string
	Private bool
}

// Entity is a formatting annotation attached to a part of the message text.
type Entity struct {
	Type   string
	Offset int
	Length int
}

const EntityTypeSpoiler = "spoiler"

type Message struct {
	ID       int
	Sender   User
	Chat     Chat
	Text     string
	Command  string
	Entities []Entity
}

func (m *Message) HasText() bool {
	return m.Text != ""
}

func (m *Message) IsCommand() bool {
	return m.Command != ""
}

// HasSpoiler reports whether any part of the message is marked as a spoiler.
func (m *Message) HasSpoiler() bool {
	for _, ent := range m.Entities {
		if ent.Type == EntityTypeSpoiler {
			return true
		}
	}
	return false
}
