package bot

import (
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"adbot/internal/model"
)

// Callback uniques. Payloads carry the destination chat id (and, where
// needed, the ad id) as decimal strings.
const (
	cbChats       = "chats"
	cbChatOpen    = "chat_open"
	cbChatRemove  = "chat_rm"
	cbChatRemoveY = "chat_rm_yes"
	cbAdNew       = "ad_new"
	cbAdList      = "ad_list"
	cbAdDelete    = "ad_del"
	cbWelcome     = "welcome"
	cbWelcomeTgl  = "welcome_tgl"
	cbWelcomeTxt  = "welcome_txt"
	cbWelcomeMed  = "welcome_med"
	cbProfile     = "profile"
	cbPremium     = "premium"
	cbSetupHelp   = "setup_help"
	cbMainMenu    = "main_menu"
)

const startText = `👋 I post your ads into your groups and channels on a schedule.

1. Add me to a group (or make me a channel admin)
2. In a group, send /setup to link it
3. Create an ad and pick how often it should be posted

Use the menu below to manage everything.`

const setupText = `⚙️ Linking a destination

• Group: add me to the group, then send /setup inside it.
• Channel: make me an administrator with the right to post; the channel links itself to you automatically.

Free accounts can link %d destination(s). Premium removes the limit and the sponsor tag under your ads.`

func mainMenu() *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	m.Inline(
		m.Row(m.Data("📣 My chats", cbChats)),
		m.Row(m.Data("👤 Profile", cbProfile), m.Data("⭐ Premium", cbPremium)),
		m.Row(m.Data("⚙️ How to link a chat", cbSetupHelp)),
	)
	return m
}

func backRow(m *tele.ReplyMarkup) tele.Row {
	return m.Row(m.Data("« Menu", cbMainMenu))
}

func chatsMenu(dests []model.Destination) *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(dests)+1)
	for _, d := range dests {
		label := d.Title
		if label == "" {
			label = fmt.Sprintf("chat %d", d.ChatID)
		}
		if d.Kind == model.KindChannel {
			label = "📢 " + label
		} else {
			label = "👥 " + label
		}
		rows = append(rows, m.Row(m.Data(label, cbChatOpen, itoa(d.ChatID))))
	}
	rows = append(rows, backRow(m))
	m.Inline(rows...)
	return m
}

func chatMenu(d model.Destination) *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	id := itoa(d.ChatID)
	rows := []tele.Row{
		m.Row(m.Data("➕ New ad", cbAdNew, id), m.Data("📋 Ads", cbAdList, id)),
	}
	if d.Kind == model.KindGroup {
		rows = append(rows, m.Row(m.Data("👋 Welcome message", cbWelcome, id)))
	}
	rows = append(rows,
		m.Row(m.Data("🗑 Remove chat", cbChatRemove, id)),
		m.Row(m.Data("« My chats", cbChats)),
	)
	m.Inline(rows...)
	return m
}

func adListMenu(chatID int64, ads []model.Ad) *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(ads)+1)
	for _, a := range ads {
		label := fmt.Sprintf("🗑 #%d · every %s · %s", a.ID, a.Interval, truncate(a.Content, 24))
		rows = append(rows, m.Row(m.Data(label, cbAdDelete, itoa(a.ID))))
	}
	rows = append(rows, m.Row(m.Data("« Back", cbChatOpen, itoa(chatID))))
	m.Inline(rows...)
	return m
}

func welcomeMenu(d model.Destination) *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	id := itoa(d.ChatID)
	toggle := "Enable"
	if d.WelcomeEnabled {
		toggle = "Disable"
	}
	m.Inline(
		m.Row(m.Data(toggle+" greeting", cbWelcomeTgl, id)),
		m.Row(m.Data("✏️ Set text", cbWelcomeTxt, id), m.Data("🖼 Set media", cbWelcomeMed, id)),
		m.Row(m.Data("« Back", cbChatOpen, id)),
	)
	return m
}

func confirmRemoveMenu(chatID int64) *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	id := itoa(chatID)
	m.Inline(
		m.Row(m.Data("Yes, remove it", cbChatRemoveY, id)),
		m.Row(m.Data("« Back", cbChatOpen, id)),
	)
	return m
}

func profileText(a *model.Account, dests, ads int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "👤 %s\n", displayName(a))
	fmt.Fprintf(&b, "Plan: %s", strings.ToUpper(string(a.Tier)))
	if a.Tier == model.TierPremium && a.PremiumUntil != nil {
		fmt.Fprintf(&b, " until %s", a.PremiumUntil.Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "\nLinked chats: %d\nActive ads: %d", dests, ads)
	return b.String()
}

func premiumText(wallet, support string) string {
	var b strings.Builder
	b.WriteString("⭐ Premium\n\n")
	b.WriteString("• No sponsor tag under your ads\n")
	b.WriteString("• Unlimited linked chats\n\n")
	if wallet != "" {
		fmt.Fprintf(&b, "Pay with TON to:\n`%s`\n\n", wallet)
	}
	if support != "" {
		fmt.Fprintf(&b, "Then message support with your transaction: %s", support)
	} else {
		b.WriteString("Then contact support with your transaction id.")
	}
	return b.String()
}

func displayName(a *model.Account) string {
	if a.FirstName != "" {
		return a.FirstName
	}
	if a.Username != "" {
		return "@" + a.Username
	}
	return fmt.Sprintf("user %d", a.ID)
}

// renderWelcome substitutes the {name} placeholder in a greeting.
func renderWelcome(tpl, name string) string {
	return strings.ReplaceAll(tpl, "{name}", name)
}

func itoa(v int64) string { return fmt.Sprintf("%d", v) }
