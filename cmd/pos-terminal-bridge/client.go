package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"pos-terminal-bridge/internal/config"
	"pos-terminal-bridge/internal/orchestrator"
	"pos-terminal-bridge/internal/pairing"
	"pos-terminal-bridge/internal/printing"
	"pos-terminal-bridge/internal/terminal"
	"pos-terminal-bridge/internal/transport"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow)
	failColor = color.New(color.FgRed, color.Bold)
)

// client talks to a running bridge over its HTTP API; the store is held
// open by the service so the commands never touch it directly.
type client struct {
	base   string
	bridge transport.Bridge
}

func newClient(cmd *cobra.Command, timeout time.Duration) *client {
	base, _ := cmd.Flags().GetString("addr")
	if base == "" {
		port := config.DefaultPort
		if v, err := strconv.Atoi(os.Getenv("POS_SERVICE_PORT")); err == nil {
			port = v
		}
		base = fmt.Sprintf("http://127.0.0.1:%d", port)
	}
	return &client{base: strings.TrimRight(base, "/"), bridge: transport.NewHTTPBridge(timeout, nil, nil)}
}

func (c *client) call(ctx context.Context, method, path string, in, out any) error {
	err := transport.DoJSON(ctx, c.bridge, method, c.base+path, nil, in, out)
	var statusErr *transport.StatusError
	if errors.As(err, &statusErr) {
		var body struct {
			Error string `json:"error"`
		}
		if json.Unmarshal([]byte(statusErr.Body), &body) == nil && body.Error != "" {
			return fmt.Errorf("%s (HTTP %d)", body.Error, statusErr.StatusCode)
		}
	}
	return err
}

func pairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Pair the configured terminal",
		Long: `Pair the configured terminal. SmartPay takes the six-digit code shown on
the device; Tyro takes the merchant and terminal ids.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			code, _ := cmd.Flags().GetString("code")
			mid, _ := cmd.Flags().GetString("merchant-id")
			tid, _ := cmd.Flags().GetString("terminal-id")

			var status pairing.Status
			c := newClient(cmd, 2*time.Minute)
			if err := c.call(cmd.Context(), http.MethodPost, "/pairing",
				terminal.PairingInput{Code: code, MerchantID: mid, TerminalID: tid}, &status); err != nil {
				failColor.Println("Pairing failed")
				return err
			}
			okColor.Printf("%s paired\n", status.Provider)
			return nil
		},
	}
	cmd.Flags().String("code", "", "pairing code shown on the terminal")
	cmd.Flags().String("merchant-id", "", "merchant id")
	cmd.Flags().String("terminal-id", "", "terminal id")
	return cmd
}

func unpairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unpair",
		Short: "Forget the stored credential of the configured terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status pairing.Status
			if err := newClient(cmd, 10*time.Second).call(cmd.Context(), http.MethodDelete, "/pairing", nil, &status); err != nil {
				failColor.Println("Unpair failed")
				return err
			}
			okColor.Printf("%s unpaired\n", status.Provider)
			return nil
		},
	}
}

func purchaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purchase [amount]",
		Short: "Run a transaction on the terminal and wait for the result",
		Example: `  pos-terminal-bridge purchase 19.99
  pos-terminal-bridge purchase 5 --kind Refund`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := terminal.DecimalToMinor(args[0])
			if err != nil {
				return err
			}
			kind, _ := cmd.Flags().GetString("kind")
			reference, _ := cmd.Flags().GetString("reference")

			req := map[string]any{
				"amountMinorUnits": amount,
				"kind":             kind,
				"reference":        reference,
			}
			var snap orchestrator.Snapshot
			c := newClient(cmd, 6*time.Minute)
			if err := c.call(cmd.Context(), http.MethodPost, "/transactions?wait=true", req, &snap); err != nil {
				failColor.Println("Transaction not created")
				return err
			}
			printSnapshot(snap)
			return nil
		},
	}
	cmd.Flags().String("kind", string(terminal.Purchase), "Purchase, Refund, QRPurchase or QRRefund")
	cmd.Flags().String("reference", "", "order reference shown on the terminal")
	return cmd
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [transaction-id]",
		Short: "Cancel an in-flight transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var snap orchestrator.Snapshot
			if err := newClient(cmd, 30*time.Second).call(cmd.Context(), http.MethodPost,
				"/transactions/"+args[0]+"/cancel", nil, &snap); err != nil {
				return err
			}
			printSnapshot(snap)
			return nil
		},
	}
}

func printSnapshot(snap orchestrator.Snapshot) {
	amount := terminal.MinorToDecimal(snap.AmountMinorUnits)
	fmt.Printf("Transaction %s (%s %s via %s)\n", snap.ID, snap.Kind, amount, snap.Provider)
	if snap.Outcome == nil {
		warnColor.Printf("  still %s\n", snap.State)
		return
	}
	switch snap.Outcome.Kind {
	case terminal.OutcomeApproved:
		okColor.Printf("  %s\n", snap.Outcome)
	case terminal.OutcomeDeclined, terminal.OutcomeCancelled:
		warnColor.Printf("  %s\n", snap.Outcome)
	default:
		failColor.Printf("  %s\n", snap.Outcome)
	}
	if snap.Outcome.ReceiptText != "" {
		fmt.Println(snap.Outcome.ReceiptText)
	}
}

func queueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List receipts waiting to be reprinted",
		RunE: func(cmd *cobra.Command, args []string) error {
			var jobs []printing.PrintJob
			if err := newClient(cmd, 10*time.Second).call(cmd.Context(), http.MethodGet, "/print/queue", nil, &jobs); err != nil {
				return err
			}
			if len(jobs) == 0 {
				okColor.Println("No failed prints")
				return nil
			}
			warnColor.Printf("%d failed prints\n", len(jobs))
			for _, j := range jobs {
				fmt.Printf("  %-20s %-16s %s  %s\n", j.Order.OrderID, j.Order.PrinterAddress,
					j.EnqueuedAt.Local().Format("15:04:05"), j.Error)
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the running bridge's status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status map[string]any
			if err := newClient(cmd, 10*time.Second).call(cmd.Context(), http.MethodGet, "/status", nil, &status); err != nil {
				failColor.Println("Bridge unreachable")
				return err
			}
			out, _ := json.MarshalIndent(status, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}
