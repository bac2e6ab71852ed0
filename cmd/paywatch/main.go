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

	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/config"
	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/journal"
	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/platform"
	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/reconcile"
	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/snapshot"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// paywatch follows one payment from the terminal. With -create it first opens a payment on
// the platform; it then polls until a terminal status and prompts for a 3DS code or a
// replacement card whenever the platform asks for one.
//
//	paywatch -payment 1234
//	paywatch -create card -amount 25.00 -card-number 4111111111111111 -card-expiry 12/29 -card-cvv 123 -card-holder "Jane Roe"
func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")
	cfg := config.Load()

	paymentID := flag.String("payment", "", "Payment id to follow")
	create := flag.String("create", "", "Create a payment first: card, crypto or bank")
	amount := flag.String("amount", "", "Amount for -create (decimal)")
	cardNumber := flag.String("card-number", "", "Card number for -create card")
	cardExpiry := flag.String("card-expiry", "", "Card expiry MM/YY for -create card")
	cardCVV := flag.String("card-cvv", "", "Card CVV for -create card")
	cardHolder := flag.String("card-holder", "", "Card holder for -create card")
	cryptoType := flag.String("crypto-type", "USDT", "Crypto type for -create crypto")
	cryptoNetwork := flag.String("crypto-network", "TRC20", "Crypto network for -create crypto")
	wallet := flag.String("wallet", "", "Wallet address for -create crypto")
	token := flag.String("token", cfg.PlatformToken, "Bearer token (default PLATFORM_TOKEN)")
	persist := flag.Bool("persist", false, "Journal transitions and cache snapshots under RECONCILER_DATA_DIR")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	if *token == "" {
		fmt.Fprintln(os.Stderr, "missing -token (or PLATFORM_TOKEN)")
		os.Exit(1)
	}
	if *paymentID == "" && *create == "" {
		fmt.Fprintln(os.Stderr, "missing required -payment or -create argument")
		os.Exit(1)
	}

	logger := zap.NewNop()
	if *verbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
			os.Exit(1)
		}
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := platform.NewClient(cfg.PlatformURL, platform.StaticToken(*token), logger)

	if *create != "" {
		amt, err := decimal.NewFromString(*amount)
		if err != nil || !amt.IsPositive() {
			fmt.Fprintln(os.Stderr, "-amount must be a positive decimal")
			os.Exit(1)
		}
		id, err := createPayment(ctx, client, *create, amt, createArgs{
			cardNumber: *cardNumber, cardExpiry: *cardExpiry, cardCVV: *cardCVV, cardHolder: *cardHolder,
			cryptoType: *cryptoType, cryptoNetwork: *cryptoNetwork, wallet: *wallet,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "create payment failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("created payment %s\n", id)
		*paymentID = id
	}

	opts := reconcile.Options{
		Interval:        cfg.PollInterval,
		CompletionDelay: cfg.CompletionDelay,
		Logger:          logger,
	}
	if *persist {
		opts.Journal = journal.NewFileJournal(cfg.DataDir)
		fs, err := snapshot.NewFileStore(cfg.DataDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "snapshot store: %v\n", err)
			os.Exit(1)
		}
		opts.Snapshots = fs
	}

	if err := watch(ctx, client, *paymentID, opts); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

type createArgs struct {
	cardNumber, cardExpiry, cardCVV, cardHolder string
	cryptoType, cryptoNetwork, wallet           string
}

func createPayment(ctx context.Context, client *platform.Client, method string, amount decimal.Decimal, a createArgs) (string, error) {
	switch strings.ToLower(method) {
	case "card":
		return client.CreateCardPayment(ctx, platform.CardPaymentRequest{
			Amount:     amount,
			CardHolder: a.cardHolder,
			CardNumber: a.cardNumber,
			CardExpiry: a.cardExpiry,
			CardCVV:    a.cardCVV,
		})
	case "crypto":
		return client.CreateCryptoPayment(ctx, platform.CryptoPaymentRequest{
			Amount:        amount,
			CryptoType:    a.cryptoType,
			CryptoNetwork: a.cryptoNetwork,
			WalletAddress: a.wallet,
		})
	case "bank":
		return client.CreateBankPayment(ctx, platform.BankPaymentRequest{Amount: amount})
	}
	return "", fmt.Errorf("unknown payment method %q", method)
}

var errNotCompleted = errors.New("payment did not complete")

func watch(ctx context.Context, client *platform.Client, paymentID string, opts reconcile.Options) error {
	events := make(chan reconcile.Event, 16)
	completed := make(chan platform.PaymentRecord, 1)
	opts.Listener = func(ev reconcile.Event) { events <- ev }
	opts.OnComplete = func(rec platform.PaymentRecord) { completed <- rec }

	sess, err := reconcile.NewSession(ctx, client, paymentID, opts)
	if err != nil {
		return err
	}
	defer sess.Dispose()

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	var prompted reconcile.Action
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			printEvent(ev)
			if !ev.AwaitingSubmission {
				prompted = ""
				continue
			}
			if ev.Action != prompted {
				prompted = ev.Action
				prompt(ev.Action)
			}
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if !sess.AwaitingSubmission() {
				continue
			}
			if err := submit(ctx, sess, line); err != nil {
				fmt.Printf("  submission failed: %v\n", err)
				prompt(sess.Snapshot().Action)
			}
		case <-sess.Done():
			if sess.State() != reconcile.StateCompleted {
				drain(events)
				return fmt.Errorf("%w: %s", errNotCompleted, sess.State())
			}
			select {
			case rec := <-completed:
				drain(events)
				fmt.Printf("payment %s completed: %s %s\n", rec.PaymentID, rec.Amount.StringFixed(2), rec.Currency)
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func submit(ctx context.Context, sess *reconcile.Session, line string) error {
	switch sess.Snapshot().Action {
	case reconcile.ActionEnter3DSCode:
		return sess.SubmitThreeDSCode(ctx, line)
	case reconcile.ActionEnterNewCard:
		f := strings.Fields(line)
		if len(f) < 4 {
			return errors.New("expected: NUMBER MM/YY CVV HOLDER NAME")
		}
		return sess.SubmitNewCard(ctx, reconcile.CardFields{
			Number: f[0],
			Expiry: f[1],
			CVV:    f[2],
			Holder: strings.Join(f[3:], " "),
		})
	}
	return nil
}

func prompt(a reconcile.Action) {
	switch a {
	case reconcile.ActionEnter3DSCode:
		fmt.Print("enter 3DS code: ")
	case reconcile.ActionEnterNewCard:
		fmt.Print("enter new card (NUMBER MM/YY CVV HOLDER NAME): ")
	}
}

func printEvent(ev reconcile.Event) {
	switch ev.Kind {
	case reconcile.EventError:
		fmt.Printf("[%s] error: %v\n", ev.At.Format("15:04:05"), ev.Err)
	case reconcile.EventVerifying:
		fmt.Printf("[%s] submitted, verifying...\n", ev.At.Format("15:04:05"))
	default:
		fmt.Printf("[%s] %s -> %s\n", ev.At.Format("15:04:05"), ev.PaymentID, ev.State)
	}
}

func drain(events <-chan reconcile.Event) {
	for {
		select {
		case ev := <-events:
			printEvent(ev)
		default:
			return
		}
	}
}
