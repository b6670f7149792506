package utils

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"signaltrader/internal/domain"
)

func WriteTradesToCSV(trades []*domain.ClosedTrade, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	writer.Write([]string{"id", "symbol", "side", "entry_price", "exit_price", "qty", "pnl", "fee", "created_at"})

	for _, t := range trades {
		writer.Write([]string{
			strconv.FormatInt(t.ID, 10),
			t.Symbol,
			string(t.Side),
			strconv.FormatFloat(t.EntryPrice, 'f', -1, 64),
			strconv.FormatFloat(t.ExitPrice, 'f', -1, 64),
			strconv.FormatFloat(t.Qty, 'f', -1, 64),
			strconv.FormatFloat(t.PnL, 'f', -1, 64),
			strconv.FormatFloat(t.Fee, 'f', -1, 64),
			t.CreatedAt.Format(time.RFC3339),
		})
	}
	return writer.Error()
}
