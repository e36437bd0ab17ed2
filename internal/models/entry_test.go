package models

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestIsQueueKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{QueueKeyCountry, true},
		{QueueKeyGlobal, true},
		{QueueKeyOwner, false},
		{"", false},
		{"COUNTRY", false},
	}
	for _, tt := range tests {
		if got := IsQueueKey(tt.key); got != tt.want {
			t.Errorf("IsQueueKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestSanitizeProfile(t *testing.T) {
	t.Run("empty fields get defaults", func(t *testing.T) {
		got := SanitizeProfile(ProfileSnap{})
		if got.Nickname != DefaultNickname {
			t.Errorf("Nickname = %q, want %q", got.Nickname, DefaultNickname)
		}
		if got.Profile != DefaultProfile {
			t.Errorf("Profile = %q, want %q", got.Profile, DefaultProfile)
		}
		if got.Icon != DefaultUserIcon {
			t.Errorf("Icon = %q, want %q", got.Icon, DefaultUserIcon)
		}
	})

	t.Run("whitespace-only treated as empty", func(t *testing.T) {
		got := SanitizeProfile(ProfileSnap{Nickname: "   ", Profile: "\n\t"})
		if got.Nickname != DefaultNickname || got.Profile != DefaultProfile {
			t.Errorf("got %+v, want defaults", got)
		}
	})

	t.Run("long fields are clamped", func(t *testing.T) {
		got := SanitizeProfile(ProfileSnap{
			Nickname: strings.Repeat("n", 100),
			Profile:  strings.Repeat("p", 500),
			Icon:     strings.Repeat("i", 300_000),
		})
		if len(got.Nickname) != 40 {
			t.Errorf("len(Nickname) = %d, want 40", len(got.Nickname))
		}
		if len(got.Profile) != 120 {
			t.Errorf("len(Profile) = %d, want 120", len(got.Profile))
		}
		if len(got.Icon) != 200_000 {
			t.Errorf("len(Icon) = %d, want 200000", len(got.Icon))
		}
	})

	t.Run("valid fields pass through", func(t *testing.T) {
		in := ProfileSnap{Nickname: "rainy", Profile: "waiting it out", Icon: "https://example.com/i.png"}
		if got := SanitizeProfile(in); got != in {
			t.Errorf("got %+v, want %+v", got, in)
		}
	})
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short string untouched", "hello", 10, "hello"},
		{"ascii cut at limit", "hello", 3, "hel"},
		{"multibyte rune not split", "日本語", 4, "日"},
		{"cut lands on rune boundary", "日本語", 6, "日本"},
		{"mixed ascii and multibyte", "a雨b", 2, "a"},
		{"limit zero", "雨", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.in, tt.max)
			if got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("Truncate(%q, %d) produced invalid UTF-8", tt.in, tt.max)
			}
		})
	}
}
