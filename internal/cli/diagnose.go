package cli

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nirahq/nira/internal/config"
)

func newDiagnoseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Run connectivity checks against the upstream providers",
	}
	cmd.AddCommand(newDiagnoseVisionCmd())
	return cmd
}

func newDiagnoseVisionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vision <image-file>",
		Short: "Describe an image through the vision backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Keys.Gemini == "" {
				return fmt.Errorf("GEMINI_API_KEY is not configured")
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}
			dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			gw, err := buildGateway(cfg, newLogger(cfg.Log))
			if err != nil {
				return err
			}
			desc, err := gw.DescribeImage(ctx, dataURI)
			if err != nil {
				return fmt.Errorf("vision analysis failed: %w", err)
			}
			fmt.Println(desc)
			return nil
		},
	}
}
