package signal

import (
	"context"
	"math"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"signaltrader/internal/domain"
	"signaltrader/internal/ports"
)

// defaultFundPercentage is applied when an alert carries no Fund field.
const defaultFundPercentage = 0.05

var (
	tickerRe   = regexp.MustCompile(`\$([A-Z0-9]+)`)
	pairRe     = regexp.MustCompile(`\b([A-Z0-9]{2,})/(USDT|USDC|USD)\b`)
	leverageRe = regexp.MustCompile(`(?i)Leverage:\s*x(\d+)`)
	fundRe     = regexp.MustCompile(`(?i)Fund:\s*(\d+(?:\.\d+)?)%`)
	entryRe    = regexp.MustCompile(`(?i)Entry:\s*(NOW|\d+xx|\d+(?:\.\d+)?x|\d+(?:\.\d+)?)`)
	stopRe     = regexp.MustCompile(`(?i)Stop\s*Loss:\s*([\d.]+)`)
	tpRe       = regexp.MustCompile(`(?i)TP\d+:\s*([\d.]+(?:\s*-\s*[\d.]+)*)`)
	longRe     = regexp.MustCompile(`\bLong\b`)
	shortRe    = regexp.MustCompile(`\bShort\b`)
	cancelRe   = regexp.MustCompile(`(?i)^\s*Cancel\s+\$?([A-Za-z0-9]+)`)
	dcaRe      = regexp.MustCompile(`(?i)DCA\s+Limit:?\s*([\d.]+)`)
	moveSLRe   = regexp.MustCompile(`(?i)Move\s+SL:?\s*(?:to\s+)?(Entry|TP1|TP2|[\d.]+)`)
)

// Parser extracts structured trade instructions from raw alert text.
// Parse failures are reported as nil results, never as errors: a malformed
// message carries no intent to report against.
type Parser struct {
	logger ports.Logger
	rng    *rand.Rand
}

func NewParser(logger ports.Logger) *Parser {
	return newParser(logger, rand.New(rand.NewSource(time.Now().UnixNano())))
}

func newParser(logger ports.Logger, rng *rand.Rand) *Parser {
	return &Parser{logger: logger, rng: rng}
}

// Parse converts a trade alert into an OrderIntent. Returns nil if any
// required field is missing or inconsistent.
//
// Two message shapes are accepted: the full form with explicit Leverage and
// Fund fields, and a short form using a TICKER/QUOTE pair with "Entry: NOW",
// where leverage stays unresolved until execution and the fund percentage
// falls back to the default.
func (p *Parser) Parse(text string) *domain.OrderIntent {
	intent, reason := p.parse(text)
	if intent == nil {
		p.logger.Debug(context.Background(), "alert did not parse", map[string]interface{}{"reason": reason})
	}
	return intent
}

func (p *Parser) parse(text string) (*domain.OrderIntent, string) {
	symbol, pairForm := p.extractSymbol(text)
	if symbol == "" {
		return nil, "no symbol"
	}

	entryMatch := entryRe.FindStringSubmatch(text)
	if entryMatch == nil {
		return nil, "no entry price"
	}
	stopMatch := stopRe.FindStringSubmatch(text)
	if stopMatch == nil {
		return nil, "no stop loss"
	}

	stopLoss, err := strconv.ParseFloat(stopMatch[1], 64)
	if err != nil {
		return nil, "bad stop loss"
	}

	targets := p.extractTargets(text)
	if len(targets) == 0 {
		return nil, "no targets"
	}

	marketEntry := strings.EqualFold(entryMatch[1], "NOW")
	var entryPrice float64
	if !marketEntry {
		entryPrice, err = p.resolveEntryPrice(entryMatch[1])
		if err != nil {
			return nil, "bad entry price"
		}
	}

	side, ok := inferSide(text, targets[0], stopLoss)
	if !ok {
		return nil, "ambiguous side"
	}

	leverage := domain.LeverageAuto
	if m := leverageRe.FindStringSubmatch(text); m != nil {
		leverage, err = strconv.Atoi(m[1])
		if err != nil || leverage <= 0 {
			return nil, "bad leverage"
		}
	} else if !(marketEntry && pairForm) {
		// Only the short pair form may omit leverage.
		return nil, "no leverage"
	}

	fund := defaultFundPercentage
	if m := fundRe.FindStringSubmatch(text); m != nil {
		pct, err := strconv.ParseFloat(m[1], 64)
		if err != nil || pct <= 0 {
			return nil, "bad fund percentage"
		}
		fund = pct / 100
	} else if !(marketEntry && pairForm) {
		// Like leverage, only the short pair form may omit the fund field.
		return nil, "no fund percentage"
	}

	return &domain.OrderIntent{
		Symbol:          symbol,
		Side:            side,
		Leverage:        leverage,
		FundPercentage:  fund,
		EntryPrice:      entryPrice,
		MarketEntry:     marketEntry,
		StopLoss:        stopLoss,
		Targets:         targets,
		OriginalMessage: text,
	}, ""
}

// ParseCancel matches a "Cancel <SYMBOL>" command, case-insensitive.
// Returns the settlement-pair symbol, or "" if the text is not a cancel.
func (p *Parser) ParseCancel(text string) string {
	m := cancelRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return normalizeSymbol(m[1])
}

// ParseReply extracts a stop-loss move and/or DCA instruction from a reply
// message. Returns nil if the text contains neither.
func (p *Parser) ParseReply(text string) *domain.ReplyCommand {
	cmd := &domain.ReplyCommand{}

	if m := moveSLRe.FindStringSubmatch(text); m != nil {
		cmd.StopMove = true
		switch strings.ToUpper(m[1]) {
		case "ENTRY":
			cmd.Target = domain.StopToEntry
		case "TP1":
			cmd.Target = domain.StopToTP1
		case "TP2":
			cmd.Target = domain.StopToTP2
		default:
			value, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				return nil
			}
			cmd.Target = domain.StopToValue
			cmd.Value = value
		}
	}

	if m := dcaRe.FindStringSubmatch(text); m != nil {
		price, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return nil
		}
		cmd.DCA = true
		cmd.DCAPrice = price
	}

	if !cmd.StopMove && !cmd.DCA {
		return nil
	}
	return cmd
}

// extractSymbol finds the instrument in either the "$TICKER" tag form or the
// "TICKER/QUOTE" pair form. The second return reports the pair form.
func (p *Parser) extractSymbol(text string) (string, bool) {
	if m := tickerRe.FindStringSubmatch(text); m != nil {
		return normalizeSymbol(m[1]), false
	}
	if m := pairRe.FindStringSubmatch(text); m != nil {
		return normalizeSymbol(m[1]), true
	}
	return "", false
}

// extractTargets collects every TPn field, splitting hyphen-joined values
// ("TP1: 100-105") into separate targets.
func (p *Parser) extractTargets(text string) []float64 {
	var targets []float64
	for _, m := range tpRe.FindAllStringSubmatch(text, -1) {
		for _, part := range strings.Split(m[1], "-") {
			value, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return nil
			}
			targets = append(targets, value)
		}
	}
	return targets
}

// resolveEntryPrice turns an entry token into a concrete price. Tokens ending
// in "x" or "xx" stand for a price whose last one or two digits are unknown;
// those digits are filled in at random. Integer bases concatenate the random
// digits; fractional bases add the digit one decimal place below the last
// known one.
func (p *Parser) resolveEntryPrice(token string) (float64, error) {
	switch {
	case strings.HasSuffix(token, "xx"):
		base, err := strconv.Atoi(strings.TrimSuffix(token, "xx"))
		if err != nil {
			return 0, err
		}
		return float64(base*100 + p.rng.Intn(100)), nil

	case strings.HasSuffix(token, "x"):
		baseStr := strings.TrimSuffix(token, "x")
		if strings.Contains(baseStr, ".") {
			base, err := strconv.ParseFloat(baseStr, 64)
			if err != nil {
				return 0, err
			}
			places := len(baseStr) - strings.Index(baseStr, ".") - 1
			digit := float64(p.rng.Intn(10))
			return roundTo(base+digit*math.Pow(10, -float64(places+1)), places+1), nil
		}
		base, err := strconv.Atoi(baseStr)
		if err != nil {
			return 0, err
		}
		return float64(base*10 + p.rng.Intn(10)), nil

	default:
		return strconv.ParseFloat(token, 64)
	}
}

// inferSide prefers an explicit Long/Short keyword; otherwise the side
// follows from the first target relative to the stop. An ambiguous pair
// (target equal to stop) fails the parse.
func inferSide(text string, firstTarget, stopLoss float64) (domain.OrderSide, bool) {
	hasLong := longRe.MatchString(text)
	hasShort := shortRe.MatchString(text)
	switch {
	case hasLong && !hasShort:
		return domain.Buy, true
	case hasShort && !hasLong:
		return domain.Sell, true
	}
	switch {
	case firstTarget > stopLoss:
		return domain.Buy, true
	case firstTarget < stopLoss:
		return domain.Sell, true
	}
	return "", false
}

// normalizeSymbol uppercases a ticker and appends the settlement quote if it
// is not already a full pair.
func normalizeSymbol(ticker string) string {
	s := strings.ToUpper(ticker)
	if strings.HasSuffix(s, "USDT") {
		return s
	}
	return s + "USDT"
}

func roundTo(v float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(v*factor) / factor
}
