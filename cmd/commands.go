package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"advisory-service/internal/models"
	"advisory-service/internal/services"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// withApplication loads config, builds the application and runs fn with it.
func withApplication(fn func(ctx context.Context, app *application) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, cleanup, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	app, err := newApplication(cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(context.Background(), app)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// ============================================================================
// SIMULATE
// ============================================================================

func simulateCmd() *cobra.Command {
	var rulePath, contextPath, ruleID string

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Evaluate a rule definition against a mock context without recording or sending anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			mock := map[string]any{}
			if contextPath != "" {
				if err := readJSONFile(contextPath, &mock); err != nil {
					return err
				}
			}

			if ruleID != "" {
				id, err := uuid.Parse(ruleID)
				if err != nil {
					return fmt.Errorf("invalid --rule-id: %w", err)
				}
				return withApplication(func(ctx context.Context, app *application) error {
					result, err := app.ruleSvc.SimulateStored(ctx, id, mock)
					if err != nil {
						return err
					}
					return printJSON(cmd, result)
				})
			}

			if rulePath == "" {
				return errors.New("either --rule or --rule-id is required")
			}
			definition, err := os.ReadFile(rulePath)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", rulePath, err)
			}
			result, err := services.NewRuleEngine(zap.NewNop()).Simulate(definition, mock)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}

	cmd.Flags().StringVar(&rulePath, "rule", "", "Rule definition file (JSON)")
	cmd.Flags().StringVar(&contextPath, "context", "", "Mock evaluation context file (JSON object)")
	cmd.Flags().StringVar(&ruleID, "rule-id", "", "Simulate a stored rule instead of a file")
	return cmd
}

// ============================================================================
// SWEEP
// ============================================================================

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Re-dispatch stale PENDING and retryable DELIVERY_FAILED advisories once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(func(ctx context.Context, app *application) error {
				summary, err := app.sweep.Run(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, summary)
			})
		},
	}
}

// ============================================================================
// REPORT
// ============================================================================

func reportCmd() *cobra.Command {
	var from, to string
	var days int
	var ratesOnly bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the advisory effectiveness report for a time window",
		RunE: func(cmd *cobra.Command, args []string) error {
			end := time.Now().UTC()
			if to != "" {
				parsed, err := time.Parse(time.RFC3339, to)
				if err != nil {
					return fmt.Errorf("invalid --to: %w", err)
				}
				end = parsed
			}
			start := end.AddDate(0, 0, -days)
			if from != "" {
				parsed, err := time.Parse(time.RFC3339, from)
				if err != nil {
					return fmt.Errorf("invalid --from: %w", err)
				}
				start = parsed
			}

			return withApplication(func(ctx context.Context, app *application) error {
				if ratesOnly {
					return printRates(ctx, cmd, app, start, end)
				}
				report, err := app.analytics.BuildReport(ctx, start, end)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Window start (RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "Window end (RFC3339), defaults to now")
	cmd.Flags().IntVar(&days, "days", 7, "Window length in days when --from is not set")
	cmd.Flags().BoolVar(&ratesOnly, "rates", false, "Only print delivery, open and feedback rates")
	return cmd
}

func printRates(ctx context.Context, cmd *cobra.Command, app *application, from, to time.Time) error {
	delivery, err := app.analytics.GetDeliverySuccessRate(ctx, from, to)
	if err != nil {
		return err
	}
	open, err := app.analytics.GetOpenRate(ctx, from, to)
	if err != nil {
		return err
	}
	feedback, err := app.analytics.GetFeedbackRate(ctx, from, to)
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]*float64{
		"delivery_success_rate": delivery,
		"open_rate":             open,
		"feedback_rate":         feedback,
	})
}

// ============================================================================
// RULE LIFECYCLE
// ============================================================================

func ruleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Manage advisory rules",
	}

	var file, id, actor string
	parseID := func() (uuid.UUID, error) {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid --id: %w", err)
		}
		return parsed, nil
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a DRAFT rule from a JSON request file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req models.CreateRuleRequest
			if err := readJSONFile(file, &req); err != nil {
				return err
			}
			return withApplication(func(ctx context.Context, app *application) error {
				rule, err := app.ruleSvc.CreateDraft(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd, rule)
			})
		},
	}
	create.Flags().StringVar(&file, "file", "", "Rule request file (JSON)")
	_ = create.MarkFlagRequired("file")

	update := &cobra.Command{
		Use:   "update",
		Short: "Edit a DRAFT rule or publish the next version of an ACTIVE one",
		RunE: func(cmd *cobra.Command, args []string) error {
			ruleID, err := parseID()
			if err != nil {
				return err
			}
			var req models.CreateRuleRequest
			if err := readJSONFile(file, &req); err != nil {
				return err
			}
			return withApplication(func(ctx context.Context, app *application) error {
				rule, err := app.ruleSvc.UpdateRule(ctx, ruleID, req)
				if err != nil {
					return err
				}
				return printJSON(cmd, rule)
			})
		},
	}
	update.Flags().StringVar(&file, "file", "", "Rule request file (JSON)")
	_ = update.MarkFlagRequired("file")

	activate := &cobra.Command{
		Use:   "activate",
		Short: "Move a DRAFT rule to ACTIVE",
		RunE: func(cmd *cobra.Command, args []string) error {
			ruleID, err := parseID()
			if err != nil {
				return err
			}
			return withApplication(func(ctx context.Context, app *application) error {
				return app.ruleSvc.Activate(ctx, ruleID, actor)
			})
		},
	}

	archive := &cobra.Command{
		Use:   "archive",
		Short: "Retire a rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ruleID, err := parseID()
			if err != nil {
				return err
			}
			return withApplication(func(ctx context.Context, app *application) error {
				return app.ruleSvc.Archive(ctx, ruleID, actor)
			})
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print one rule version",
		RunE: func(cmd *cobra.Command, args []string) error {
			ruleID, err := parseID()
			if err != nil {
				return err
			}
			return withApplication(func(ctx context.Context, app *application) error {
				rule, err := app.ruleSvc.GetRule(ctx, ruleID)
				if err != nil {
					return err
				}
				return printJSON(cmd, rule)
			})
		},
	}

	history := &cobra.Command{
		Use:   "history",
		Short: "List every version of a rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ruleID, err := parseID()
			if err != nil {
				return err
			}
			return withApplication(func(ctx context.Context, app *application) error {
				versions, err := app.ruleSvc.History(ctx, ruleID)
				if err != nil {
					return err
				}
				return printJSON(cmd, versions)
			})
		},
	}

	for _, sub := range []*cobra.Command{update, activate, archive, show, history} {
		sub.Flags().StringVar(&id, "id", "", "Rule id")
		_ = sub.MarkFlagRequired("id")
	}
	for _, sub := range []*cobra.Command{activate, archive} {
		sub.Flags().StringVar(&actor, "actor", "cli", "Who performs the change")
	}

	cmd.AddCommand(create, update, activate, archive, show, history)
	return cmd
}

// ============================================================================
// READS
// ============================================================================

func logsCmd() *cobra.Command {
	var farmerID, district string
	var limit int

	cmd := &cobra.Command{
		Use:   "logs [log-id]",
		Short: "Show one delivery log, or list them newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(func(ctx context.Context, app *application) error {
				if len(args) == 1 {
					id, err := uuid.Parse(args[0])
					if err != nil {
						return fmt.Errorf("invalid log id %q: %w", args[0], err)
					}
					entry, err := app.deliveries.GetDeliveryLog(ctx, id)
					if err != nil {
						return err
					}
					return printJSON(cmd, entry)
				}

				filter := models.DeliveryLogFilter{Limit: limit}
				if farmerID != "" {
					filter.FarmerID = &farmerID
				}
				if district != "" {
					filter.District = &district
				}
				entries, err := app.deliveries.ListDeliveryLogs(ctx, filter)
				if err != nil {
					return err
				}
				return printJSON(cmd, entries)
			})
		},
	}

	cmd.Flags().StringVar(&farmerID, "farmer", "", "Only logs of this farmer")
	cmd.Flags().StringVar(&district, "district", "", "Only logs of this district")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows")
	return cmd
}

func bulletinsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bulletins <region>",
		Short: "List the active weather bulletins of a region",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(func(ctx context.Context, app *application) error {
				active, err := app.bulletin.ListActive(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, active)
			})
		},
	}
}

func contentCmd() *cobra.Command {
	var language string

	cmd := &cobra.Command{
		Use:   "content-put <key> <file>",
		Short: "Upload an advisory content template to the content bucket",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[1], err)
			}
			return withApplication(func(ctx context.Context, app *application) error {
				return app.minio.PutContent(ctx, args[0], language, data)
			})
		},
	}

	cmd.Flags().StringVar(&language, "lang", "", "Language code, empty for the fallback text")
	return cmd
}
