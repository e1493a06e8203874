package telegram

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rewired-gh/polytipster/internal/models"
)

const divider = "━━━━━━━━━━━━━━━━━━━━"

// Formatter renders alerts as Telegram MarkdownV2 text.
type Formatter struct {
	EventURLBase   string
	MinProbability float64
	MaxProbability float64
	MinVolume      float64
	MinLiquidity   float64
}

func (f Formatter) marketLink(title, slug string) string {
	if title == "" {
		title = "Unknown market"
	}
	if slug == "" || f.EventURLBase == "" {
		return "*" + escapeMarkdownV2(title) + "*"
	}
	return fmt.Sprintf("[%s](%s)", escapeMarkdownV2(title), escapeLinkURL(f.EventURLBase+slug))
}

// MarketSignals formats a batch of filter hits into one message.
func (f Formatter) MarketSignals(signals []models.MarketSignal, now time.Time) string {
	var b strings.Builder
	b.WriteString("📊 *High probability markets*\n")
	b.WriteString("⏰ " + escapeMarkdownV2(now.UTC().Format("01/02/2006 15:04 UTC")) + "\n")
	b.WriteString(divider + "\n\n")

	for i, s := range signals {
		b.WriteString(fmt.Sprintf("%d\\. %s\n", i+1, f.marketLink(s.Question, s.Slug)))
		b.WriteString(fmt.Sprintf("   🎯 YES @ *%s*\n", escapeMarkdownV2(fmt.Sprintf("%.1f%%", s.Probability*100))))
		b.WriteString("   " + escapeMarkdownV2(fmt.Sprintf("💵 Price $%.3f | 💰 ROI +%.1f%%", s.Probability, s.ROIPercent)) + "\n")
		b.WriteString("   " + escapeMarkdownV2(fmt.Sprintf("📊 Vol %s | 💧 Liq %s", usd(s.VolumeUSD), usd(s.LiquidityUSD))) + "\n")
		if s.Bet.SuggestedUSD > 0 {
			b.WriteString("   " + escapeMarkdownV2(fmt.Sprintf("🧮 Kelly suggests %s (%.1f%% of bankroll)", usd(s.Bet.SuggestedUSD), s.Bet.Percentage)) + "\n")
		}
		if !s.EndDate.IsZero() {
			b.WriteString("   " + escapeMarkdownV2("⏳ Ends "+s.EndDate.UTC().Format("2006-01-02")) + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(divider + "\n")
	b.WriteString(escapeMarkdownV2(fmt.Sprintf("⚙️ Filters: %.0f-%.0f%% prob | Vol ≥%s | Liq ≥%s",
		f.MinProbability*100, f.MaxProbability*100, usd(f.MinVolume), usd(f.MinLiquidity))))
	return b.String()
}

// Convergence formats a single convergence signal.
func (f Formatter) Convergence(sig models.ConvergenceSignal, window time.Duration) string {
	confidence := "🔥🔥 *HIGH CONVICTION*"
	if sig.WalletCount >= 3 {
		confidence = "🔥🔥🔥 *ULTRA HIGH CONVICTION*"
	}

	minutes := int(math.Ceil(sig.Span().Minutes()))
	if minutes < 1 {
		minutes = 1
	}

	var b strings.Builder
	b.WriteString(divider + "\n")
	b.WriteString("  " + confidence + "\n")
	b.WriteString(divider + "\n\n")
	b.WriteString("❓ " + f.marketLink(sig.MarketQuestion, sig.MarketSlug) + "\n\n")
	b.WriteString(fmt.Sprintf("🎯 *%d smart wallets* %s\n", sig.WalletCount,
		escapeMarkdownV2(fmt.Sprintf("entered within %d minutes (window %d min)", minutes, int(window.Minutes())))))
	b.WriteString(escapeMarkdownV2("💰 Combined size: "+usd(sig.TotalSizeUSD)) + "\n\n")
	b.WriteString("👤 Wallets:\n")
	for _, w := range sig.Wallets {
		b.WriteString("  • `" + models.ShortAddress(w) + "`\n")
	}
	b.WriteString("\n⏰ " + escapeMarkdownV2(fmt.Sprintf("%s – %s UTC",
		sig.FirstSeen.UTC().Format("15:04"), sig.LastSeen.UTC().Format("15:04"))))
	return b.String()
}

// Watchlist formats the tracked wallet list grouped by tier.
func (f Formatter) Watchlist(wallets []models.SmartWallet) string {
	tiers := map[string][]models.SmartWallet{}
	for _, w := range wallets {
		tiers[w.Tier] = append(tiers[w.Tier], w)
	}

	var b strings.Builder
	b.WriteString("📋 *Smart money watchlist update*\n")
	b.WriteString(divider + "\n\n")
	b.WriteString(fmt.Sprintf("Tracking *%d* verified wallets:\n\n", len(wallets)))

	for _, t := range []struct{ key, label, emoji string }{
		{models.TierElite, "ELITE", "🥇"},
		{models.TierStrong, "STRONG", "🥈"},
		{models.TierWatch, "WATCH", "🥉"},
	} {
		group := tiers[t.key]
		if len(group) == 0 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].PnLAll > group[j].PnLAll })
		b.WriteString(fmt.Sprintf("%s *%s* %s:\n", t.emoji, t.label, escapeMarkdownV2(fmt.Sprintf("(%d)", len(group)))))
		for i, w := range group {
			if i == 5 {
				break
			}
			b.WriteString(fmt.Sprintf("  • `%s` %s\n", escapeCode(w.DisplayName()),
				escapeMarkdownV2(fmt.Sprintf("· WR %.0f%% | ROI %.0f%% | PnL %s", w.WinRate*100, w.ROIPercent, usd(w.PnLAll)))))
		}
		b.WriteString("\n")
	}

	b.WriteString("_" + escapeMarkdownV2("Signals fire when several of these wallets enter the same market.") + "_")
	return b.String()
}

// Startup formats the service-online notice.
func (f Formatter) Startup(scanner, smartMoney bool, now time.Time) string {
	onOff := func(v bool) string {
		if v {
			return "✅ ON"
		}
		return "❌ OFF"
	}
	return fmt.Sprintf("🟢 *Polymarket tipster is online*\n\n📊 Market scanner: %s\n🐋 Smart money tracker: %s\n⏰ Started at %s",
		onOff(scanner), onOff(smartMoney), escapeMarkdownV2(now.UTC().Format("15:04 UTC")))
}

// CycleError formats a monitoring error notice.
func (f Formatter) CycleError(err error) string {
	return fmt.Sprintf("⚠️ *Monitoring error*\n`%s`", escapeCode(err.Error()))
}

// Recovery formats a recovery notice after consecutive failures.
func (f Formatter) Recovery(failures int) string {
	return fmt.Sprintf("✅ *Monitoring recovered* after %d consecutive failure\\(s\\)", failures)
}

func usd(v float64) string {
	return "$" + humanize.Comma(int64(math.Round(v)))
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// escapeCode escapes text placed inside a `code` span.
func escapeCode(text string) string {
	return strings.NewReplacer("\\", "\\\\", "`", "\\`").Replace(text)
}

// escapeLinkURL escapes text placed inside the (...) part of a link.
func escapeLinkURL(u string) string {
	return strings.NewReplacer("\\", "\\\\", ")", "\\)").Replace(u)
}
