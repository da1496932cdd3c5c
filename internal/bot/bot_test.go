package bot

import (
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"adbot/internal/model"
)

func TestParseInterval(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "30", want: 30 * time.Minute},
		{in: "5", want: 5 * time.Minute},
		{in: "45m", want: 45 * time.Minute},
		{in: "2h", want: 2 * time.Hour},
		{in: " 90 ", want: 90 * time.Minute},
		{in: "4", wantErr: true},  // below the floor
		{in: "1m", wantErr: true}, // below the floor
		{in: "0", wantErr: true},
		{in: "-30", wantErr: true},
		{in: "soon", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := parseInterval(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseInterval(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseInterval(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("parseInterval(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRenderWelcome(t *testing.T) {
	t.Parallel()
	got := renderWelcome("Hi {name}, welcome! Say hi, {name}.", "Ada")
	want := "Hi Ada, welcome! Say hi, Ada."
	if got != want {
		t.Fatalf("renderWelcome = %q, want %q", got, want)
	}
	if got := renderWelcome("No placeholder here.", "Ada"); got != "No placeholder here." {
		t.Fatalf("renderWelcome without placeholder = %q", got)
	}
}

func TestConvTableExpiry(t *testing.T) {
	t.Parallel()
	tbl := newConvTable()
	tbl.begin(1, &conv{state: convAdContent, chatID: 100})

	cv := tbl.get(1)
	if cv == nil || cv.state != convAdContent {
		t.Fatalf("get = %+v", cv)
	}

	cv.startedAt = time.Now().Add(-convTTL - time.Minute)
	if got := tbl.get(1); got != nil {
		t.Fatalf("stale conversation not expired: %+v", got)
	}
}

func TestMediaFromMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		msg      *tele.Message
		wantKind model.MediaKind
		wantRef  string
		wantOK   bool
	}{
		{
			name:     "photo",
			msg:      &tele.Message{Photo: &tele.Photo{File: tele.File{FileID: "p1"}}},
			wantKind: model.MediaPhoto, wantRef: "p1", wantOK: true,
		},
		{
			name:     "video",
			msg:      &tele.Message{Video: &tele.Video{File: tele.File{FileID: "v1"}}},
			wantKind: model.MediaVideo, wantRef: "v1", wantOK: true,
		},
		{name: "text only", msg: &tele.Message{Text: "hi"}},
		{name: "nil message"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			kind, ref, ok := mediaFromMessage(tt.msg)
			if kind != tt.wantKind || ref != tt.wantRef || ok != tt.wantOK {
				t.Fatalf("mediaFromMessage = (%q, %q, %v), want (%q, %q, %v)",
					kind, ref, ok, tt.wantKind, tt.wantRef, tt.wantOK)
			}
		})
	}
}

// The welcome menu must offer both the text and the media flow.
func TestWelcomeMenuButtons(t *testing.T) {
	t.Parallel()
	m := welcomeMenu(model.Destination{ChatID: -100, Kind: model.KindGroup})
	found := map[string]bool{}
	for _, row := range m.InlineKeyboard {
		for _, b := range row {
			found[b.Unique] = true
		}
	}
	for _, u := range []string{cbWelcomeTgl, cbWelcomeTxt, cbWelcomeMed} {
		if !found[u] {
			t.Fatalf("welcome menu misses %q; has %v", u, found)
		}
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("ёлочка и снег", 7); got != "ёлочка …" {
		t.Fatalf("truncate = %q, want rune-safe cut with ellipsis", got)
	}
}

func TestDisplayName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		acc  model.Account
		want string
	}{
		{name: "first name wins", acc: model.Account{ID: 1, FirstName: "Ada", Username: "ada"}, want: "Ada"},
		{name: "username fallback", acc: model.Account{ID: 1, Username: "ada"}, want: "@ada"},
		{name: "id fallback", acc: model.Account{ID: 42}, want: "user 42"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := displayName(&tt.acc); got != tt.want {
				t.Fatalf("displayName = %q, want %q", got, tt.want)
			}
		})
	}
}
