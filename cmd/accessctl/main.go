// Package main содержит утилиту для внутреннего gRPC API движка доступа:
// выпуск и проверку токенов, выдачу пакетов сессий и ручной запуск чистки.
//
// Сервисный ключ берётся из флага -api-key или переменной GRPC_API_KEY.
//
//	accessctl -addr 127.0.0.1:50051 issue <user_uid>
//	accessctl verify <token>
//	accessctl grant -sessions 10 -days 30 -order ord-42 <user_uid>
//	accessctl sweep -batch 100
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/magabrotheeeer/session-gate/internal/grpc/client"
	"github.com/magabrotheeeer/session-gate/internal/models"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:50051", "gRPC address of session-gate")
	apiKey := flag.String("api-key", os.Getenv("GRPC_API_KEY"), "service key for the internal gRPC API")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	if *apiKey == "" {
		fail(errors.New("api key is not set, use -api-key or GRPC_API_KEY"))
	}

	c, err := client.NewAccessClient(*addr, *apiKey)
	if err != nil {
		fail(err)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "issue":
		if len(args) != 1 {
			usage()
		}
		res, err := c.IssueToken(ctx, args[0])
		output(res, err)
	case "verify":
		if len(args) != 1 {
			usage()
		}
		res, err := c.VerifyToken(ctx, args[0])
		output(res, err)
	case "grant":
		fs := flag.NewFlagSet("grant", flag.ExitOnError)
		sessions := fs.Int("sessions", 0, "number of sessions")
		days := fs.Int("days", 0, "validity in days, 0 for no expiry")
		source := fs.String("source", string(models.EntitlementPurchase), "purchase|admin|test|promo")
		order := fs.String("order", "", "order reference for idempotency")
		_ = fs.Parse(args)
		if fs.NArg() != 1 {
			usage()
		}
		res, err := c.GrantEntitlement(ctx, models.Grant{
			UserUID:        fs.Arg(0),
			Sessions:       *sessions,
			Source:         models.EntitlementSource(*source),
			OrderReference: *order,
			ValidDays:      *days,
		})
		output(res, err)
	case "sweep":
		fs := flag.NewFlagSet("sweep", flag.ExitOnError)
		batch := fs.Int("batch", 0, "batch size, 0 for server default")
		_ = fs.Parse(args)
		purged, err := c.RunRetentionSweep(ctx, *batch)
		output(map[string]int{"purged": purged}, err)
	default:
		usage()
	}
}

func output(v any, err error) {
	if err != nil {
		fail(err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: accessctl [-addr host:port] [-api-key key] issue|verify|grant|sweep ...")
	os.Exit(2)
}
