package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tamosreddi/orders-sub000/internal"
	"github.com/tamosreddi/orders-sub000/internal/config"
	"github.com/tamosreddi/orders-sub000/internal/engine"
	"github.com/tamosreddi/orders-sub000/internal/storage"
	"github.com/tamosreddi/orders-sub000/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	must(err)
	must(config.InitLogger(cfg))

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	eng := engine.New(db, cfg)

	cmd := os.Args[1]
	switch cmd {
	case "catalog:import":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		file := fs.String("file", "", "catalog xlsx path")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*file) == "" {
			must(fmt.Errorf("--file is required"))
		}
		count, err := eng.Catalog().ImportXLSX(*file)
		must(err)
		fmt.Printf("catalog import complete: %d products\n", count)

	case "message:ingest":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		messageID := fs.String("messageId", "", "external message id")
		conversation := fs.String("conversation", "", "conversation id")
		distributor := fs.String("distributor", "", "distributor id")
		customer := fs.String("customer", "", "customer id")
		text := fs.String("text", "", "message body")
		process := fs.Bool("process", false, "process immediately after storing")
		_ = fs.Parse(os.Args[2:])
		if *messageID == "" || *conversation == "" || *distributor == "" || *text == "" {
			must(fmt.Errorf("--messageId --conversation --distributor --text are required"))
		}
		id, err := eng.Ingest(internal.MessageRow{
			MessageID:      *messageID,
			ConversationID: *conversation,
			DistributorID:  *distributor,
			CustomerID:     *customer,
			Text:           *text,
			ReceivedAt:     time.Now(),
		})
		must(err)
		fmt.Printf("message stored id=%d\n", id)
		if *process {
			res, err := eng.ProcessByMessageID(*messageID)
			must(err)
			printResult(res)
		}

	case "message:process":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		messageID := fs.String("messageId", "", "specific external message id")
		batch := fs.Int("batch", cfg.ProcessBatch, "batch size")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*messageID) != "" {
			res, err := eng.ProcessByMessageID(*messageID)
			must(err)
			printResult(res)
			return
		}
		processed, skipped, err := eng.ProcessPending(*batch)
		must(err)
		fmt.Printf("processed pending messages=%d skipped=%d\n", processed, skipped)

	case "orders:mark":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		orderID := fs.String("orderId", "", "order id")
		status := fs.String("status", "", "ACCEPTED|REJECTED")
		_ = fs.Parse(os.Args[2:])
		marked := internal.OrderStatus(strings.ToUpper(*status))
		if *orderID == "" || (marked != internal.OrderAccepted && marked != internal.OrderRejected) {
			must(fmt.Errorf("--orderId and --status ACCEPTED|REJECTED are required"))
		}
		must(db.UpdateOrderStatus(*orderID, marked))
		fmt.Printf("order %s marked %s\n", *orderID, marked)

	case "sessions:sweep":
		svc := sweeper.NewService(eng.Sessions(), cfg)
		must(svc.Sweep(time.Now()))
		fmt.Println("sweep complete")

	case "sessions:watch":
		svc := sweeper.NewService(eng.Sessions(), cfg)
		must(svc.Run(context.Background()))

	case "run":
		// One full cycle: drain pending messages, then sweep expiries.
		processed, skipped, err := eng.ProcessPending(cfg.ProcessBatch)
		must(err)
		svc := sweeper.NewService(eng.Sessions(), cfg)
		must(svc.Sweep(time.Now()))
		fmt.Printf("run complete processed=%d skipped=%d\n", processed, skipped)

	default:
		usage()
		os.Exit(1)
	}
}

func printResult(res engine.ProcessResult) {
	fmt.Printf("processed message id=%d action=%s session=%s items=%d order=%s skipped=%v\n",
		res.MessageID, res.Action, res.SessionID, res.ItemsAdded, res.OrderID, res.Skipped)
}

func usage() {
	fmt.Println(`usage: ordersd <command> [flags]

commands:
  catalog:import    --file <xlsx>                      import the product catalog
  message:ingest    --messageId --conversation --distributor --text [--customer] [--process]
  message:process   [--messageId <id>] [--batch N]     process stored messages
  orders:mark       --orderId <id> --status <s>        accept or reject an order
  sessions:sweep                                       close expired sessions once
  sessions:watch                                       sweep on an interval until interrupted
  run                                                  process pending then sweep once`)
}

func must(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
