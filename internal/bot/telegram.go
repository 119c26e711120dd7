package bot

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"coinlens/internal/domain"
	"coinlens/internal/service"

	tele "gopkg.in/telebot.v3"
)

func StartTelegramBot(dataService *service.DataService) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		log.Println("TELEGRAM_BOT_TOKEN not set, skipping Telegram bot startup")
		return
	}
	pref := tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}
	b, err := tele.NewBot(pref)
	if err != nil {
		log.Fatalf("failed to create Telegram bot: %v", err)
	}

	b.Handle("/ping", func(c tele.Context) error {
		return c.Send("pong")
	})

	b.Handle("/price", func(c tele.Context) error {
		args := c.Args()
		if len(args) == 0 {
			return c.Send(fmt.Sprintf("Usage: /price BTC\nSupported: %s", strings.Join(domain.SupportedSymbols, ", ")))
		}
		symbol := strings.ToUpper(args[0])
		if !domain.IsSupportedSymbol(symbol) {
			return c.Send(fmt.Sprintf("Unknown symbol: %s\nSupported: %s", symbol, strings.Join(domain.SupportedSymbols, ", ")))
		}
		quote, meta, err := dataService.GetQuote(context.Background(), symbol)
		if err != nil {
			return c.Send(fmt.Sprintf("Error fetching price for %s: %v", symbol, err))
		}
		msg := fmt.Sprintf(
			"%s\nPrice: $%.2f\n24h Change: %.2f%%\n24h Volume: $%.0f\nSource: %s",
			symbol, quote.PriceUSD, quote.Change24hPct, quote.Volume24h, meta.Source,
		)
		return c.Send(msg)
	})

	b.Handle("/feargreed", func(c tele.Context) error {
		point, _, err := dataService.GetFearGreed(context.Background())
		if err != nil {
			return c.Send(fmt.Sprintf("Error fetching fear & greed index: %v", err))
		}
		return c.Send(fmt.Sprintf(
			"Fear & Greed Index: %d (%s)\nAs of: %s",
			point.Value, point.Classification, point.Timestamp.Format("2006-01-02 15:04 UTC"),
		))
	})

	b.Handle("/providers", func(c tele.Context) error {
		stats := dataService.ProviderStats()
		names := make([]string, 0, len(stats))
		for name := range stats {
			names = append(names, name)
		}
		sort.Strings(names)

		var sb strings.Builder
		sb.WriteString("Provider health:\n")
		for _, name := range names {
			s := stats[name]
			state := "ok"
			if s.InBackoff {
				state = "backed off"
			}
			sb.WriteString(fmt.Sprintf("%s: %s (failures: %d)\n", name, state, s.ConsecutiveFailures))
		}
		return c.Send(sb.String())
	})

	log.Println("Telegram bot started")
	go b.Start()
}
