package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"facturador/internal/issuer"
	jwttoken "facturador/internal/jwt_token"
	"facturador/internal/platform/config"
	id "facturador/pkg/domain"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API bearer token from the shared signing key",
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("actor")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if actor == "" {
			return fmt.Errorf("--actor is required")
		}

		cfg, err := config.FromEnv()
		if err != nil {
			return err
		}
		token, err := jwttoken.NewService(cfg.Server.JWTSigningKey, "facturador").
			Generate(actor, "facturactl", ttl)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

var registerIssuerCmd = &cobra.Command{
	Use:   "register-issuer",
	Short: "Add an issuer to the registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		nif, _ := cmd.Flags().GetString("nif")
		legalName, _ := cmd.Flags().GetString("legal-name")
		tradeName, _ := cmd.Flags().GetString("trade-name")
		town, _ := cmd.Flags().GetString("town")
		province, _ := cmd.Flags().GetString("province")

		iss, err := a.issuers.Register(cmd.Context(), issuer.RegisterInput{
			NIF:       nif,
			LegalName: legalName,
			TradeName: tradeName,
			Town:      town,
			Province:  province,
		})
		if err != nil {
			return err
		}
		fmt.Printf("registered %s (%s)\n", iss.NIF, iss.LegalName)
		return nil
	},
}

var verifyChainCmd = &cobra.Command{
	Use:   "verify-chain <nif>",
	Short: "Replay an issuer's registration chain against stored invoices",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		nif, err := id.ParseIssuerNIF(args[0])
		if err != nil {
			return err
		}
		if err := a.orch.VerifyChain(cmd.Context(), nif); err != nil {
			return fmt.Errorf("chain verification failed, issuer halted: %w", err)
		}
		fmt.Printf("chain intact for %s\n", nif)
		return nil
	},
}

var resumeIssuerCmd = &cobra.Command{
	Use:   "resume-issuer <nif>",
	Short: "Lift a halt after the chain problem has been investigated",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		nif, err := id.ParseIssuerNIF(args[0])
		if err != nil {
			return err
		}
		if _, err := a.issuers.Resume(cmd.Context(), nif); err != nil {
			return err
		}
		fmt.Printf("issuer %s resumed\n", nif)
		return nil
	},
}

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Dispatch all due authority submissions once",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.scheduler.Drain(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("dispatched %d submission(s)\n", n)
		return nil
	},
}

var resubmitCmd = &cobra.Command{
	Use:   "resubmit <invoice-id>",
	Short: "Requeue a failed authority submission",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		invoiceID, err := id.ParseInvoiceID(args[0])
		if err != nil {
			return err
		}
		if err := a.coordinator.Resubmit(cmd.Context(), invoiceID); err != nil {
			return err
		}
		fmt.Printf("invoice %s requeued for submission\n", invoiceID)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <invoice-id>",
	Short: "Write the Facturae document for a registered invoice",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		invoiceID, err := id.ParseInvoiceID(args[0])
		if err != nil {
			return err
		}
		path, err := a.orch.Export(cmd.Context(), invoiceID)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("actor", "", "who the token identifies, e.g. ops@example.com")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")

	registerIssuerCmd.Flags().String("nif", "", "issuer NIF")
	registerIssuerCmd.Flags().String("legal-name", "", "registered legal name")
	registerIssuerCmd.Flags().String("trade-name", "", "trade name, optional")
	registerIssuerCmd.Flags().String("town", "", "town, optional")
	registerIssuerCmd.Flags().String("province", "", "province, optional")
	_ = registerIssuerCmd.MarkFlagRequired("nif")
	_ = registerIssuerCmd.MarkFlagRequired("legal-name")

	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(registerIssuerCmd)
	rootCmd.AddCommand(verifyChainCmd)
	rootCmd.AddCommand(resumeIssuerCmd)
	rootCmd.AddCommand(drainCmd)
	rootCmd.AddCommand(resubmitCmd)
	rootCmd.AddCommand(exportCmd)
}
