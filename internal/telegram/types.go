package telegram

// Update is one incoming Bot API update. Only text messages are used.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message is an incoming chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
}

// Chat identifies the conversation a message belongs to.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

// User is the sender of a message.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// ReplyKeyboardMarkup is a custom reply keyboard shown under the input box.
type ReplyKeyboardMarkup struct {
	Keyboard       [][]KeyboardButton `json:"keyboard"`
	ResizeKeyboard bool               `json:"resize_keyboard,omitempty"`
}

// KeyboardButton is one reply keyboard button; pressing it sends Text.
type KeyboardButton struct {
	Text string `json:"text"`
}

// Keyboard builds a resized reply keyboard with one button per row.
func Keyboard(labels ...string) *ReplyKeyboardMarkup {
	rows := make([][]KeyboardButton, 0, len(labels))
	for _, l := range labels {
		rows = append(rows, []KeyboardButton{{Text: l}})
	}
	return &ReplyKeyboardMarkup{Keyboard: rows, ResizeKeyboard: true}
}
