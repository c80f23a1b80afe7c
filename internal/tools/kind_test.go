package tools

import "testing"

func TestKind_NamesRoundTrip(t *testing.T) {
	seen := make(map[string]bool)
	for _, k := range Kinds() {
		name := k.String()
		if name == "" {
			t.Fatalf("kind %d has no name", k)
		}
		if seen[name] {
			t.Errorf("duplicate name %q", name)
		}
		seen[name] = true

		got, ok := KindOf(name)
		if !ok || got != k {
			t.Errorf("KindOf(%q) = %v, %v; want %v", name, got, ok, k)
		}
		if k.Tier() < TierAuto || k.Tier() > TierConfirm {
			t.Errorf("%s has invalid tier %v", name, k.Tier())
		}
	}
	if len(seen) != 31 {
		t.Errorf("got %d kinds, want 31", len(seen))
	}
}

func TestKind_Tiers(t *testing.T) {
	tests := []struct {
		name string
		want Tier
	}{
		{"file_read", TierAuto},
		{"web_search", TierAuto},
		{"trade_quote", TierAuto},
		{"detect_usb", TierAuto},
		{"run_command", TierLog},
		{"file_write", TierLog},
		{"browser_open", TierLog},
		{"deploy_to_usb", TierLog},
		{"file_delete", TierConfirm},
		{"web_post", TierConfirm},
		{"open_app", TierConfirm},
		{"trade_buy", TierConfirm},
		{"trade_sell", TierConfirm},
		{"trade_cancel", TierConfirm},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, ok := KindOf(tt.name)
			if !ok {
				t.Fatalf("KindOf(%q) not found", tt.name)
			}
			if k.Tier() != tt.want {
				t.Errorf("Tier() = %v, want %v", k.Tier(), tt.want)
			}
		})
	}
}

func TestKind_Invalid(t *testing.T) {
	if _, ok := KindOf("rm_everything"); ok {
		t.Error("KindOf(unknown) reported ok")
	}
	if Kind(0).Valid() || Kind(999).Valid() {
		t.Error("out-of-range kinds should be invalid")
	}
}

func TestKind_AutoTradable(t *testing.T) {
	for _, k := range Kinds() {
		want := k == KindTradeBuy || k == KindTradeSell || k == KindTradeCancel
		if k.AutoTradable() != want {
			t.Errorf("%s.AutoTradable() = %v, want %v", k, k.AutoTradable(), want)
		}
	}
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		in   string
		want Tier
	}{
		{"auto", TierAuto},
		{" LOG ", TierLog},
		{"confirm", TierConfirm},
		{"bogus", TierConfirm},
		{"", TierConfirm},
	}
	for _, tt := range tests {
		if got := ParseTier(tt.in); got != tt.want {
			t.Errorf("ParseTier(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
