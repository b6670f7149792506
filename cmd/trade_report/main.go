package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"signaltrader/internal/adapters/logger"
	"signaltrader/internal/adapters/sqlite"
	"signaltrader/internal/domain"
	"signaltrader/internal/utils"
)

func main() {
	dbPath := flag.String("db", "./data/signaltrader.db", "Path to the trade database")
	symbol := flag.String("symbol", "", "Restrict the report to one symbol (empty for all)")
	limit := flag.Int("limit", 50, "Maximum number of trades to show")
	csvOut := flag.String("csv", "", "Export the listed trades to a CSV file")
	flag.Parse()

	appLogger := logger.NewStdLogger(logger.LevelWarn)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: *dbPath,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("Error opening database: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	trades, err := repo.FindRecent(ctx, *symbol, *limit)
	if err != nil {
		log.Fatalf("Error reading trade log: %v", err)
	}
	if len(trades) == 0 {
		log.Println("No recorded trades.")
		return
	}

	// Create a tabwriter for formatted output
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Time\tSymbol\tSide\tEntry\tExit\tQty\tPnL\tFee\t")
	for _, t := range trades {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.4f\t%.4f\t%.4f\t%.2f\t%.2f\t\n",
			t.CreatedAt.Format("2006-01-02 15:04:05"),
			t.Symbol,
			t.Side,
			t.EntryPrice,
			t.ExitPrice,
			t.Qty,
			t.PnL,
			t.Fee,
		)
	}
	w.Flush()

	stats := calculateTradeStats(trades)
	fmt.Printf("\nTrades: %d  Wins: %d  Losses: %d  WinRate: %.1f%%  AvgWin: %.2f  AvgLoss: %.2f\n",
		stats.TotalTrades, stats.WinningTrades, stats.LosingTrades,
		stats.WinRate*100, stats.AvgWin, stats.AvgLoss)

	total, err := repo.TotalPnL(ctx)
	if err != nil {
		log.Fatalf("Error computing total pnl: %v", err)
	}
	fmt.Printf("Realized PnL (all symbols, all time): %.2f USDT\n", total)

	if *csvOut != "" {
		if err := utils.WriteTradesToCSV(trades, *csvOut); err != nil {
			log.Fatalf("Error writing CSV: %v", err)
		}
		fmt.Printf("Exported %d trades to %s\n", len(trades), *csvOut)
	}
}

// TradeStats holds statistics about a set of trades
type TradeStats struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	AvgWin        float64
	AvgLoss       float64
}

// calculateTradeStats calculates statistics for a set of trades
func calculateTradeStats(trades []*domain.ClosedTrade) TradeStats {
	var stats TradeStats
	stats.TotalTrades = len(trades)

	var winSum, lossSum float64
	for _, t := range trades {
		if t.PnL >= 0 {
			stats.WinningTrades++
			winSum += t.PnL
		} else {
			stats.LosingTrades++
			lossSum += t.PnL
		}
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)
	}
	if stats.WinningTrades > 0 {
		stats.AvgWin = winSum / float64(stats.WinningTrades)
	}
	if stats.LosingTrades > 0 {
		stats.AvgLoss = lossSum / float64(stats.LosingTrades)
	}
	return stats
}
