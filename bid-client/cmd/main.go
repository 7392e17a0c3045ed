package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aaronwang/zecond/bid-client/internal/api"
	"github.com/aaronwang/zecond/bid-client/internal/auction"
	"github.com/aaronwang/zecond/bid-client/internal/channel"
	"github.com/aaronwang/zecond/bid-client/internal/products"
	"github.com/aaronwang/zecond/bid-client/internal/session"
	"github.com/aaronwang/zecond/shared/config"
	"github.com/aaronwang/zecond/shared/logging"
	"github.com/aaronwang/zecond/shared/models"
	"github.com/shopspring/decimal"
)

func main() {
	log := logging.New("bid-client")

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	productID := flag.String("product", "", "product to watch")
	userID := flag.String("user", "", "bidder id; leave empty to watch signed out")
	name := flag.String("name", "", "bidder display name")
	sell := flag.String("sell", "", "list a new auction with this title and watch it")
	startPrice := flag.String("price", "10", "starting price for -sell")
	flag.StringVar(&cfg.APIURL, "api", cfg.APIURL, "API gateway base URL")
	flag.StringVar(&cfg.WSURL, "ws", cfg.WSURL, "broadcast service WebSocket URL")
	flag.Parse()

	if *productID == "" && *sell == "" {
		fmt.Fprintln(os.Stderr, "usage: bid-client (-product <id> | -sell <title> [-price <amount>]) [-user <id> -name <name>]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := session.New(session.LogNotifier{Log: log}, session.WithModalObserver(func(modal session.Modal, payload any) {
		switch modal {
		case session.ModalAuctionWon:
			if won, ok := payload.(auction.AuctionWon); ok {
				fmt.Printf("*** You won %q for $%s ***\n", won.Title, won.Amount.StringFixed(2))
			}
		case session.ModalLogin:
			fmt.Println("sign in with -user to place bids")
		}
	}))
	if *userID != "" {
		displayName := *name
		if displayName == "" {
			displayName = *userID
		}
		app.SignIn(session.User{ID: *userID, DisplayName: displayName})
	}

	backend := api.NewClient(cfg.APIURL, cfg.RequestTimeout, log)
	repo := products.NewRepository(backend, app, cfg.CacheTTL)

	if *sell != "" {
		price, err := decimal.NewFromString(*startPrice)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid -price")
		}
		listed, err := backend.CreateProduct(ctx, &models.CreateProductRequest{
			Title:     *sell,
			Price:     price,
			IsAuction: true,
			SellerID:  app.UserID(),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to list product")
		}
		*productID = listed.ID
		fmt.Println("listed", listed.ID)
	}

	product, err := repo.Product(ctx, *productID)
	if err != nil {
		log.Fatal().Err(err).Str("productId", *productID).Msg("failed to load product")
	}

	view := auction.NewView(channel.NewSocket(cfg.WSURL, log), app, repo, log)
	if err := view.Mount(ctx, product); err != nil {
		log.Warn().Err(err).Msg("showing last known snapshot without live updates")
	}
	defer view.Unmount()

	fmt.Printf("%s  price $%s\n", product.Title, product.Price.StringFixed(2))
	printState(view.Snapshot())

	// The scanner blocks on stdin, so it is left running when ctx ends.
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Error().Err(err).Msg("failed to read input")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok || line == "q" {
				return
			}
			handleLine(ctx, view, app, backend, line)
		}
	}
}

// handleLine submits the current suggestion on an empty line, otherwise the
// typed amount. "?" prints the bid state and "close" ends the auction.
func handleLine(ctx context.Context, view *auction.View, app *session.Context, backend *api.Client, line string) {
	switch line {
	case "?":
		printState(view.Snapshot())
		return
	case "close":
		resp, err := backend.CloseAuction(ctx, view.Snapshot().ProductID)
		if err != nil {
			fmt.Println("close failed:", err)
			return
		}
		if resp.Winner == nil {
			fmt.Println("auction closed without bids")
		} else {
			fmt.Printf("auction closed, won by %s for $%s\n", resp.Winner.BidderID, resp.Winner.Amount.StringFixed(2))
		}
		return
	}
	if line != "" && !view.SetBidInput(line) {
		fmt.Println("amounts are digits with up to two decimals")
		return
	}

	err := view.SubmitBid(ctx)
	var rejected *api.BidRejected
	switch {
	case err == nil:
		fmt.Println("bid placed")
	case errors.As(err, &rejected):
		app.Notify(rejected.Response.Message)
	case errors.Is(err, auction.ErrSignInRequired):
	default:
		fmt.Println("bid failed:", err)
	}
}

func printState(s auction.Snapshot) {
	fmt.Printf("[%s] bids %d  highest $%s  next $%s\n",
		s.Phase, s.TotalBids, s.HighestBid.StringFixed(2), s.NextBidInput)
}

// Config holds client configuration
type Config struct {
	APIURL         string        `yaml:"api_url"`
	WSURL          string        `yaml:"ws_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
}

// loadConfig applies defaults, then CONFIG_FILE, then environment variables.
// Flags override all of them.
func loadConfig() (*Config, error) {
	cfg := &Config{
		APIURL:         "http://localhost:8080",
		WSURL:          "ws://localhost:8081/ws",
		RequestTimeout: 10 * time.Second,
		CacheTTL:       30 * time.Second,
	}
	if err := config.LoadFile(os.Getenv("CONFIG_FILE"), cfg); err != nil {
		return nil, err
	}

	cfg.APIURL = config.GetEnv("API_URL", cfg.APIURL)
	cfg.WSURL = config.GetEnv("WS_URL", cfg.WSURL)
	cfg.RequestTimeout = config.GetEnvDuration("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.CacheTTL = config.GetEnvDuration("CACHE_TTL", cfg.CacheTTL)
	return cfg, nil
}
