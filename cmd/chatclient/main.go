package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-channel/internal/auth"
	"github.com/spec-kit/ticket-channel/internal/client"
	"github.com/spec-kit/ticket-channel/internal/config"
	"github.com/spec-kit/ticket-channel/internal/domain"
	"github.com/spec-kit/ticket-channel/internal/observability"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	_ = godotenv.Load()

	var (
		baseURL    = flag.String("url", envOr("CHANNEL_URL", "http://localhost:8080"), "service base URL")
		token      = flag.String("token", os.Getenv("CHANNEL_TOKEN"), "bearer token")
		jwtSecret  = flag.String("jwt-secret", os.Getenv("AUTH_JWT_SECRET"), "mint a development token with this secret when --token is empty")
		userID     = flag.String("user", envOr("CHANNEL_USER", "customer-1"), "user id for minted tokens")
		role       = flag.String("role", envOr("CHANNEL_ROLE", string(domain.RoleUser)), "USER or ADMIN")
		ticketID   = flag.String("ticket", "", "ticket to open")
		subject    = flag.String("subject", "", "open a new ticket with this subject; the first line typed is its first message")
		logLevel   = flag.String("log-level", envOr("LOG_LEVEL", "warn"), "log level")
		maxRetries = flag.Int("max-retries", 0, "reconnect budget, 0 retries forever")
	)
	flag.Parse()

	logger, err := observability.NewLogger(config.LoggerConfig{Level: *logLevel})
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	principalRole := domain.Role(strings.ToUpper(*role))
	if *token == "" && *jwtSecret != "" {
		minted, _, err := auth.NewTokenManager(*jwtSecret, 0).GenerateToken(*userID, principalRole)
		if err != nil {
			logger.Fatal("failed to mint token", zap.Error(err))
		}
		*token = minted
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := client.NewSession(client.SessionConfig{
		BaseURL:     *baseURL,
		Credentials: client.StaticToken(*token),
		UserID:      *userID,
		Role:        principalRole,
		Connection:  client.ConnectionConfig{MaxRetries: *maxRetries},
		Logger:      logger,
		OnResult: func(res client.SendResult) {
			if res.Err != nil {
				fmt.Printf("! not sent (%v), draft: %s\n", res.Err, res.Draft)
			}
		},
		OnStateChange: func(s client.State) {
			fmt.Printf("* %s\n", s)
		},
		OnFatal: func(err error) {
			fmt.Printf("! connection stopped: %v\n", err)
			stop()
		},
	})
	if err != nil {
		logger.Fatal("invalid client configuration", zap.Error(err))
	}
	defer session.Close()

	if err := session.Start(ctx); err != nil {
		logger.Fatal("failed to connect", zap.Error(err))
	}

	in := bufio.NewScanner(os.Stdin)
	if *ticketID == "" {
		if *subject == "" {
			logger.Fatal("either --ticket or --subject is required")
		}
		fmt.Print("first message> ")
		if !in.Scan() {
			return
		}
		opened, err := session.API().OpenTicket(ctx, *subject, in.Text())
		if err != nil {
			logger.Fatal("failed to open ticket", zap.Error(err))
		}
		*ticketID = opened.Ticket.ID
		fmt.Printf("* opened ticket %s\n", *ticketID)
	}
	if err := session.Open(ctx, *ticketID); err != nil {
		logger.Fatal("failed to open ticket", zap.Error(err))
	}
	render(session, *ticketID)

	lines := make(chan string)
	go func() {
		defer close(lines)
		for in.Scan() {
			lines <- in.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := handleLine(ctx, session, *ticketID, line); err != nil {
				if errors.Is(err, errQuit) {
					return
				}
				fmt.Printf("! %v\n", err)
			}
			render(session, *ticketID)
		}
	}
}

var errQuit = errors.New("quit")

func handleLine(ctx context.Context, session *client.Session, ticketID, line string) error {
	switch strings.TrimSpace(line) {
	case "/quit":
		return errQuit
	case "/show":
		return nil
	case "/resolve":
		_, err := session.API().Resolve(ctx, ticketID, "")
		return err
	case "/close":
		_, err := session.API().Close(ctx, ticketID)
		return err
	}
	_, err := session.Send(ticketID, line)
	return err
}

func render(session *client.Session, ticketID string) {
	fmt.Printf("--- %s [%s]\n", ticketID, session.Status(ticketID))
	for _, m := range session.Messages(ticketID) {
		marker := ""
		if m.DeliveryState == domain.DeliveryPending {
			marker = " (sending)"
		}
		fmt.Printf("%s %-6s %s%s\n", m.CreatedAt.Local().Format("15:04:05"), m.SenderRole, m.Body, marker)
	}
}
