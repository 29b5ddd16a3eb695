package capture

import (
	"testing"

	"receipt-pipeline/server/internal/models"
)

func TestMatchesFilter(t *testing.T) {
	longReceipt := "💳 HUMOCARD **6905 oplata 45 000 UZS"   // >20 chars, contains a default keyword
	longNoKeyword := "this is a long chat message with no receipt markers at all" // >20 chars, no default keyword
	shortText := "hi there"                                // <20 chars

	tests := []struct {
		name        string
		mc          models.MonitoredChat
		text        string
		hasDocument bool
		want        bool
	}{
		{
			name:        "document attachment always matches regardless of mode or text",
			mc:          models.MonitoredChat{FilterMode: models.FilterWhitelist, FilterKeywords: []string{"nope"}, ChatType: models.ChatKindGroup},
			text:        "",
			hasDocument: true,
			want:        true,
		},
		{
			name: "empty text is rejected",
			mc:   models.MonitoredChat{FilterMode: models.FilterAll, ChatType: models.ChatKindUser},
			text: "",
			want: false,
		},
		{
			name: "group chat under 20 chars is rejected even with a default keyword",
			mc:   models.MonitoredChat{FilterMode: models.FilterAll, ChatType: models.ChatKindGroup},
			text: "karta UZS",
			want: false,
		},
		{
			name: "private chat under 20 chars passes without a default keyword",
			mc:   models.MonitoredChat{FilterMode: models.FilterAll, ChatType: models.ChatKindUser},
			text: shortText,
			want: true,
		},
		{
			name: "group chat all mode matches a default keyword hit",
			mc:   models.MonitoredChat{FilterMode: models.FilterAll, ChatType: models.ChatKindSupergroup},
			text: longReceipt,
			want: true,
		},
		{
			name: "group chat all mode rejects long text with no default keyword",
			mc:   models.MonitoredChat{FilterMode: models.FilterAll, ChatType: models.ChatKindChannel},
			text: longNoKeyword,
			want: false,
		},
		{
			name: "whitelist matches on keyword hit that also satisfies the default set",
			mc:   models.MonitoredChat{FilterMode: models.FilterWhitelist, FilterKeywords: []string{"HUMOCARD"}, ChatType: models.ChatKindGroup},
			text: longReceipt,
			want: true,
		},
		{
			name: "whitelist rejects without a custom keyword hit",
			mc:   models.MonitoredChat{FilterMode: models.FilterWhitelist, FilterKeywords: []string{"nope"}, ChatType: models.ChatKindGroup},
			text: longReceipt,
			want: false,
		},
		{
			name: "whitelist is case-insensitive",
			mc:   models.MonitoredChat{FilterMode: models.FilterWhitelist, FilterKeywords: []string{"humocard"}, ChatType: models.ChatKindUser},
			text: "HUMOCARD **6905",
			want: true,
		},
		{
			name: "whitelist with no keywords is always false",
			mc:   models.MonitoredChat{FilterMode: models.FilterWhitelist, ChatType: models.ChatKindUser},
			text: longReceipt,
			want: false,
		},
		{
			name: "blacklist rejects on a custom keyword hit even with a default keyword present",
			mc:   models.MonitoredChat{FilterMode: models.FilterBlacklist, FilterKeywords: []string{"spam"}, ChatType: models.ChatKindGroup},
			text: "💳 HUMOCARD **6905 oplata spam 45 000 UZS",
			want: false,
		},
		{
			name: "blacklist with no keywords reduces to the default keyword predicate",
			mc:   models.MonitoredChat{FilterMode: models.FilterBlacklist, ChatType: models.ChatKindGroup},
			text: longReceipt,
			want: true,
		},
		{
			name: "blacklist with no keywords still rejects a group chat with no default keyword",
			mc:   models.MonitoredChat{FilterMode: models.FilterBlacklist, ChatType: models.ChatKindGroup},
			text: longNoKeyword,
			want: false,
		},
		{
			name: "unknown filter mode falls back to the default/private condition",
			mc:   models.MonitoredChat{FilterMode: "bogus", ChatType: models.ChatKindUser},
			text: shortText,
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchesFilter(tt.mc, tt.text, tt.hasDocument)
			if got != tt.want {
				t.Errorf("MatchesFilter() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseFilterKeywords_JSONArray(t *testing.T) {
	got := ParseFilterKeywords(`["HUMOCARD", "CardXabar"]`)
	want := []string{"HUMOCARD", "CardXabar"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseFilterKeywords_CommaSeparated(t *testing.T) {
	got := ParseFilterKeywords("HUMOCARD, CardXabar ,  , SMS")
	want := []string{"HUMOCARD", "CardXabar", "SMS"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseFilterKeywords_Empty(t *testing.T) {
	if got := ParseFilterKeywords("   "); got != nil {
		t.Errorf("expected nil for blank input, got %v", got)
	}
}
