package cli

import (
	"fmt"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nirahq/nira/internal/config"
	"github.com/nirahq/nira/internal/db"
	"github.com/nirahq/nira/internal/store"
)

// openStore opens the configured database for one-shot admin commands.
func openStore() (*store.Store, func(), error) {
	_ = godotenv.Load()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return store.New(database), func() { database.Close() }, nil
}

func newInitSettingsCmd() *cobra.Command {
	var globalPrompt string
	cmd := &cobra.Command{
		Use:   "init-settings",
		Short: "Create the global settings row with defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeDB, err := openStore()
			if err != nil {
				return err
			}
			defer closeDB()

			created, err := st.InitSettings(globalPrompt)
			if err != nil {
				return err
			}
			if created {
				fmt.Println("Settings initialized with defaults (trial limit 5 minutes).")
			} else {
				fmt.Println("Settings already exist; nothing changed.")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&globalPrompt, "global-prompt", "", "initial persona override prompt")
	return cmd
}

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect or change the global settings",
	}
	cmd.AddCommand(newSettingsGetCmd(), newSettingsSetCmd())
	return cmd
}

func newSettingsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the current global settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeDB, err := openStore()
			if err != nil {
				return err
			}
			defer closeDB()

			settings, err := st.GetSettings()
			if err != nil {
				return err
			}
			fmt.Printf("trial_limit_minutes: %g\n", settings.TrialLimitMinutes)
			fmt.Printf("maintenance_mode:    %t\n", settings.MaintenanceMode)
			fmt.Printf("global_prompt:       %q\n", settings.GlobalPrompt)
			return nil
		},
	}
}

func newSettingsSetCmd() *cobra.Command {
	var (
		trialLimit  string
		maintenance string
		prompt      string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update one or more global settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeDB, err := openStore()
			if err != nil {
				return err
			}
			defer closeDB()

			settings, err := st.GetSettings()
			if err != nil {
				return err
			}

			if trialLimit != "" {
				v, err := strconv.ParseFloat(trialLimit, 64)
				if err != nil {
					return fmt.Errorf("invalid --trial-limit %q", trialLimit)
				}
				settings.TrialLimitMinutes = v
			}
			if maintenance != "" {
				v, err := strconv.ParseBool(maintenance)
				if err != nil {
					return fmt.Errorf("invalid --maintenance %q", maintenance)
				}
				settings.MaintenanceMode = v
			}
			if cmd.Flags().Changed("global-prompt") {
				settings.GlobalPrompt = prompt
			}

			if err := st.SaveSettings(settings); err != nil {
				return err
			}
			fmt.Println("Settings updated.")
			return nil
		},
	}
	cmd.Flags().StringVar(&trialLimit, "trial-limit", "", "trial limit in minutes")
	cmd.Flags().StringVar(&maintenance, "maintenance", "", "maintenance mode (true/false)")
	cmd.Flags().StringVar(&prompt, "global-prompt", "", "persona override prompt")
	return cmd
}

func newProCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pro",
		Short: "Manage a user's paid status",
	}

	grant := &cobra.Command{
		Use:   "grant <user-id>",
		Short: "Mark a user as Pro",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeDB, err := openStore()
			if err != nil {
				return err
			}
			defer closeDB()

			if err := st.SetPro(args[0], true); err != nil {
				return err
			}
			fmt.Printf("User %s is now Pro.\n", args[0])
			return nil
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <user-id>",
		Short: "Return a user to the trial tier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeDB, err := openStore()
			if err != nil {
				return err
			}
			defer closeDB()

			if err := st.SetPro(args[0], false); err != nil {
				return err
			}
			fmt.Printf("User %s is back on the trial tier.\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(grant, revoke)
	return cmd
}
