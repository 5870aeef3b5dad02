// Command verify checks exchange connectivity and signing for one key before
// it is handed to the bot. By default it places one small passive order.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"poly-trade-bot/internal/clob"
	"poly-trade-bot/internal/clob/exchange"
	"poly-trade-bot/internal/config"
	"poly-trade-bot/internal/logging"
	"poly-trade-bot/internal/market"
	"poly-trade-bot/internal/realtime"
	"poly-trade-bot/internal/state"
	"poly-trade-bot/internal/state/sqlite"
	"poly-trade-bot/internal/strategy"

	"go.uber.org/zap"
)

const (
	defaultVerifySize    = 5.0
	defaultVerifySpread  = 0.1
	defaultVerifyEnvFile = ".env"
	watchReconnectDelay  = 2 * time.Second
)

func main() {
	configPath := flag.String("config", "", "optional config path for CLOB settings")
	dryRun := flag.Bool("dry-run", false, "print the signed order and exit")
	tokenFlag := flag.String("token", "", "token id to quote (overrides POLY_VERIFY_TOKEN_ID)")
	side := flag.String("side", "BUY", "order side: BUY or SELL")
	balance := flag.Bool("balance", false, "print the account balance and exit")
	watch := flag.String("watch", "", "websocket url of a running bot, e.g. ws://localhost:3001/ws")
	flag.Parse()

	if err := config.LoadEnv(defaultVerifyEnvFile); err != nil {
		fatal(err)
	}
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		cfg = loaded
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	tokenID := strings.TrimSpace(*tokenFlag)
	if tokenID == "" {
		tokenID = strings.TrimSpace(os.Getenv("POLY_VERIFY_TOKEN_ID"))
	}

	if *watch != "" {
		if tokenID == "" {
			fatal(errors.New("-token or POLY_VERIFY_TOKEN_ID is required"))
		}
		runWatch(log, *watch, tokenID)
		return
	}

	privateKey := strings.TrimSpace(os.Getenv("POLY_PRIVATE_KEY"))
	if privateKey == "" {
		fatal(errors.New("POLY_PRIVATE_KEY is required"))
	}
	sigType, _, err := intEnv("POLY_SIGNATURE_TYPE")
	if err != nil {
		fatal(err)
	}
	chainID := cfg.CLOB.DefaultChainID
	if envVal, ok, err := intEnv("POLY_CHAIN_ID"); err != nil {
		fatal(err)
	} else if ok {
		chainID = int64(envVal)
	}

	ctx := context.Background()
	md := market.NewREST(cfg.CLOB.BaseURL, cfg.CLOB.Timeout, log)
	latency, err := md.Ping(ctx)
	if err != nil {
		fatal(fmt.Errorf("exchange unreachable at %s: %w", cfg.CLOB.BaseURL, err))
	}
	fmt.Printf("exchange reachable: base_url=%s latency=%s\n", cfg.CLOB.BaseURL, latency)

	store := openStore(log, cfg.State.SQLitePath)
	defer store.Close()
	client := exchange.New(exchange.Config{
		BaseURL:       cfg.CLOB.BaseURL,
		Timeout:       cfg.CLOB.Timeout,
		ChainID:       chainID,
		PrivateKey:    privateKey,
		Funder:        strings.TrimSpace(os.Getenv("POLY_FUNDER")),
		SignatureType: exchange.SignatureType(sigType),
	}, store, log)
	if err := client.Err(); err != nil {
		fatal(err)
	}
	fmt.Printf("signer address: %s chain_id=%d\n", client.Address(), chainID)

	if *balance {
		bal, err := client.Balance(ctx)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("balance: available=%s locked=%s\n", formatFloat(bal.Available), formatFloat(bal.Locked))
		return
	}

	if tokenID == "" {
		fatal(errors.New("-token or POLY_VERIFY_TOKEN_ID is required"))
	}
	req, err := verifyOrder(ctx, md, tokenID, clob.Side(strings.ToUpper(*side)))
	if err != nil {
		fatal(err)
	}
	signed, err := client.CreateOrder(ctx, req)
	if err != nil {
		fatal(err)
	}
	pretty, err := json.MarshalIndent(signed.Wire, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Printf("verify order: token=%s side=%s price=%s size=%s\n%s\n", req.TokenID, req.Side, formatFloat(req.Price), formatFloat(req.Size), pretty)
	if *dryRun {
		return
	}

	order, err := client.PostOrder(ctx, signed)
	if err != nil {
		fatal(err)
	}
	if order.Status == clob.StatusRejected {
		fmt.Printf("exchange rejected order: %s\n", order.ErrorMsg)
		os.Exit(1)
	}
	fmt.Printf("exchange response: order_id=%s status=%s\n", order.ID, order.Status)
}

// verifyOrder quotes one side of the book the way the market maker would, so
// a live order rests away from the touch.
func verifyOrder(ctx context.Context, md *market.MarketData, tokenID string, side clob.Side) (clob.OrderRequest, error) {
	if !side.Valid() {
		return clob.OrderRequest{}, fmt.Errorf("side must be BUY or SELL, got %q", side)
	}
	size := defaultVerifySize
	if envVal, ok, err := floatEnv("POLY_VERIFY_SIZE"); err != nil {
		return clob.OrderRequest{}, err
	} else if ok {
		size = envVal
	}
	spread := defaultVerifySpread
	if envVal, ok, err := floatEnv("POLY_VERIFY_SPREAD"); err != nil {
		return clob.OrderRequest{}, err
	} else if ok {
		spread = envVal
	}

	mm, ok := strategy.NewMarketMaker(strategy.Context{
		Config: map[string]any{"tokenId": tokenID, "spread": spread, "size": size},
	}).(*strategy.MarketMaker)
	if !ok {
		return clob.OrderRequest{}, errors.New("unexpected market maker type")
	}
	if err := mm.Validate(); err != nil {
		return clob.OrderRequest{}, err
	}

	book, err := md.OrderBook(ctx, tokenID)
	if err != nil {
		return clob.OrderRequest{}, err
	}
	mid := book.Mid()
	if mid <= 0 {
		return clob.OrderRequest{}, fmt.Errorf("no prices in book for %s", tokenID)
	}
	buy, sell := mm.Quotes(mid)
	price := buy
	if side == clob.SideSell {
		price = sell
	}
	fmt.Printf("book: mid=%s buy_quote=%s sell_quote=%s\n", formatFloat(mid), formatFloat(buy), formatFloat(sell))
	return clob.OrderRequest{
		TokenID:   tokenID,
		Side:      side,
		Price:     price,
		Size:      size,
		OrderType: clob.OrderTypeGTC,
	}, nil
}

func runWatch(log *zap.Logger, url, tokenID string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := realtime.NewClient(url, watchReconnectDelay, log)
	defer client.Close()
	if err := client.Connect(ctx); err != nil {
		fatal(err)
	}
	accountID := strings.TrimSpace(os.Getenv("POLY_VERIFY_ACCOUNT_ID"))
	if err := client.Subscribe(ctx, realtime.Request{TokenID: tokenID, AccountID: accountID}); err != nil {
		fatal(err)
	}
	err := client.Run(ctx, func(env realtime.Envelope) {
		if env.Error != "" {
			fmt.Printf("%s %s error=%s\n", env.Type, env.TokenID, env.Error)
			return
		}
		fmt.Printf("%s %s %s\n", env.Type, env.TokenID, string(env.Data))
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

// openStore caches derived API credentials across runs when a path is set.
func openStore(log *zap.Logger, path string) state.Store {
	if strings.TrimSpace(path) == "" {
		return state.NewMemory()
	}
	store, err := sqlite.New(path)
	if err != nil {
		log.Warn("credential store init failed, using memory", zap.Error(err))
		return state.NewMemory()
	}
	return store
}

func floatEnv(key string) (float64, bool, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return 0, false, nil
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, true, nil
}

func intEnv(key string) (int, bool, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, true, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
