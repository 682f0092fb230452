package bot

import (
	"fmt"
	"html"
	"time"

	"github.com/tbourn/go-promo-bot/internal/domain"
)

// Button labels. Pressing a reply keyboard button sends its label as text.
const (
	ButtonPromo  = "🎲"
	ButtonLogout = "Log out"
	ButtonHelp   = "Help"
)

const (
	msgNotLoggedIn = "To get a promo code, send the phone number you registered with, for example <code>+7 999 123 45 67</code>."

	msgExistingUser = "You are already logged in. Press 🎲 to see your promo code."

	msgHelp = "<b>How it works</b>\n" +
		"1. Send the phone number you registered with.\n" +
		"2. Press 🎲 to get a promo code. Each code is valid for 3 days.\n" +
		"3. When it expires, press 🎲 again for a new one. We will remind you.\n\n" +
		"Press <b>Log out</b> to sign in with another number."

	msgReminder = "Your promo code has expired. Press 🎲 to get a new one!"

	msgTooFast = "You are making requests too fast. Please wait a moment."
)

func greeting(firstName string) string {
	return fmt.Sprintf("Hello %s!\n%s", html.EscapeString(firstName), msgNotLoggedIn)
}

func invalidPhone() string {
	return "Incorrect phone number.\n" + msgNotLoggedIn
}

func phoneNotFound() string {
	return "Phone number not found.\n" + msgNotLoggedIn
}

func recognized(name string) string {
	return fmt.Sprintf("We recognized you, %s! Now let's find you a promo code...", html.EscapeString(name))
}

func currentPromo(p *domain.Promo, loc *time.Location) string {
	return fmt.Sprintf("Current promo code:\n🎫 Award: %s\n🏷 Issued %s\n🔐 Code <code>%s</code>",
		html.EscapeString(p.Award), formatDate(p.IssuedAt, loc), p.Code)
}

func nextPromoAt(expiry time.Time, loc *time.Location) string {
	return fmt.Sprintf("A new promo code will be available %s.", formatDate(expiry, loc))
}

func newPromo(p *domain.Promo, loc *time.Location) string {
	return fmt.Sprintf("Congratulations! You won %s 🎉\n🏷 Issued %s\n🔐 Code <code>%s</code>",
		html.EscapeString(p.Award), formatDate(p.IssuedAt, loc), p.Code)
}

// formatDate renders t in loc with the zone abbreviation, e.g.
// "01/05/2024 13:00:00 (MSK)".
func formatDate(t time.Time, loc *time.Location) string {
	lt := t.In(loc)
	return fmt.Sprintf("%s (%s)", lt.Format(domain.DateLayout), lt.Format("MST"))
}
