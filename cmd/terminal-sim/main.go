// Command terminal-sim serves simulated payment terminals and a printer
// bridge so the bridge can be run end to end without hardware.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pos-terminal-bridge/internal/core"
	"pos-terminal-bridge/internal/terminal/simulator"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		host          string
		smartPayPort  int
		windcavePort  int
		verifonePort  int
		tyroPort      int
		printerPort   int
		pairingCode   string
		station       string
		merchantID    string
		terminalID    string
		pendingPolls  int
		offlinePrints string
		logLevel      string
	)

	rootCmd := &cobra.Command{
		Use:   "terminal-sim",
		Short: "Serve simulated payment terminals and a printer bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := core.NewLogger(logLevel, "text")

			pending := make([]string, 0, pendingPolls+1)
			windcavePending := make([]simulator.WindcaveStatus, 0, pendingPolls+1)
			for i := 0; i < pendingPolls; i++ {
				pending = append(pending, simulator.SmartPayPending)
				windcavePending = append(windcavePending, simulator.WindcaveStatus{Status: simulator.WindcavePending, Message: "PRESENT CARD"})
			}
			pending = append(pending, simulator.SmartPayAccepted)
			windcavePending = append(windcavePending, simulator.WindcaveStatus{
				Status: simulator.WindcaveAccepted, Message: "ACCEPTED", EftposReceipt: "WINDCAVE\nPURCHASE\nACCEPTED",
			})

			printer := simulator.NewPrintBridge()
			if offlinePrints != "" {
				printer.SetOffline(offlinePrints, "Printer offline")
			}

			devices := []struct {
				name    string
				port    int
				handler http.Handler
			}{
				{"SmartPay", smartPayPort, simulator.NewSmartPay(pairingCode, pending...).Handler()},
				{"Windcave", windcavePort, simulator.NewWindcave([]string{station}, windcavePending...).Handler()},
				{"Verifone", verifonePort, simulator.NewVerifone(simulator.VerifoneResult{
					Result: "APPROVED", ResponseText: "Approved", CustomerReceipt: "VERIFONE\nPURCHASE\nAPPROVED",
				}).Handler()},
				{"Tyro", tyroPort, simulator.NewTyro(merchantID, terminalID,
					simulator.TyroMessage{Result: "APPROVED", Message: "Approved", CustomerReceipt: "TYRO\nPURCHASE\nAPPROVED"},
					"Present card", "Processing").Handler()},
				{"print bridge", printerPort, printer.Handler()},
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			g, ctx := errgroup.WithContext(ctx)

			for _, d := range devices {
				if d.port == 0 {
					continue
				}
				srv := &http.Server{Addr: fmt.Sprintf("%s:%d", host, d.port), Handler: d.handler}
				name := d.name
				g.Go(func() error {
					logger.Infof("%s simulator listening on %s", name, srv.Addr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return fmt.Errorf("%s simulator: %w", name, err)
					}
					return nil
				})
				g.Go(func() error {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
			}
			return g.Wait()
		},
	}

	f := rootCmd.Flags()
	f.StringVar(&host, "host", "127.0.0.1", "listen host")
	f.IntVar(&smartPayPort, "smartpay-port", 9101, "SmartPay port (0 disables)")
	f.IntVar(&windcavePort, "windcave-port", 9102, "Windcave port (0 disables)")
	f.IntVar(&verifonePort, "verifone-port", 9103, "Verifone port (0 disables)")
	f.IntVar(&tyroPort, "tyro-port", 9104, "Tyro port, HTTP and WebSocket (0 disables)")
	f.IntVar(&printerPort, "printer-port", 33481, "printer bridge port (0 disables)")
	f.StringVar(&pairingCode, "pairing-code", "123456", "SmartPay pairing code")
	f.StringVar(&station, "station", "3801585856", "Windcave station id")
	f.StringVar(&merchantID, "merchant-id", "123", "Tyro merchant id")
	f.StringVar(&terminalID, "terminal-id", "4", "Tyro terminal id")
	f.IntVar(&pendingPolls, "pending-polls", 2, "pending answers before the polling terminals approve")
	f.StringVar(&offlinePrints, "offline-printer", "", "printer address that always fails")
	f.StringVar(&logLevel, "log-level", "info", "log level")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
