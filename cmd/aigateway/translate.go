package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/northwind-energy/aigateway/pkg/config"
	"github.com/northwind-energy/aigateway/pkg/models"
	"github.com/northwind-energy/aigateway/pkg/translate"
)

func parseEntries(args []string) ([]models.TranslationEntry, error) {
	entries := make([]models.TranslationEntry, 0, len(args))
	for _, a := range args {
		key, text, ok := strings.Cut(a, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("expected key=text, got %q", a)
		}
		entries = append(entries, models.TranslationEntry{Key: strings.TrimSpace(key), Text: text})
	}
	return entries, nil
}

func newTranslateCmd(configPath *string) *cobra.Command {
	var lang string

	cmd := &cobra.Command{
		Use:   "translate key=text [key=text...]",
		Short: "Translate strings through the gateway",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := parseEntries(args)
			if err != nil {
				return err
			}
			cfg, err := config.LoadOrDefault(*configPath)
			if err != nil {
				return err
			}
			log := newLogger(cfg.LogLevel, os.Stderr)

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			resp := a.translator.Translate(ctx, translate.Request{TargetLanguage: lang, Entries: entries})
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}

	cmd.Flags().StringVar(&lang, "lang", "es", "target language code")
	return cmd
}
