package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/hh-screener/internal/amocrm"
	"github.com/spigell/hh-screener/internal/batch"
	"github.com/spigell/hh-screener/internal/categorize"
	"github.com/spigell/hh-screener/internal/filtering"
	"github.com/spigell/hh-screener/internal/logger"
	"github.com/spigell/hh-screener/internal/pipeline"
	"github.com/spigell/hh-screener/internal/secrets"
	"github.com/spigell/hh-screener/internal/store"
)

const (
	PromptYes              = "Yes"
	PromptNo               = "No"
	PromptReportByCategory = "Report by category"
	PromptResultsToFile    = "Dump selected results to file"
)

var errExit = errors.New("exit requested")

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push candidates to amoCRM as contacts with deals",
	Long: `Push candidates to amoCRM. Candidates come either from a batch csv (--csv)
or from a stored session passed through the selection filters.`,
	Run: func(cmd *cobra.Command, _ []string) {
		runSync(cmd)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().String("csv", "", "batch csv to push instead of a stored session")
	syncCmd.Flags().StringP("session", "s", "", "session id (default is the latest session)")
	syncCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation")
	syncCmd.Flags().BoolP("force", "f", false, "do not exclude documents already pushed to the CRM")
}

// selection is the set of candidates a sync run works on.
type selection struct {
	records []amocrm.Record
	// results is nil for a csv batch; otherwise it is index-aligned with records.
	results []*pipeline.Result
	session *pipeline.Session
}

func runSync(cmd *cobra.Command) {
	e := prepare("sync")
	defer e.close()

	log, config := e.logger, e.config

	if config.AmoCRM == nil {
		log.Fatal("amocrm section is required in the config")
	}

	var (
		sel *selection
		s   *store.Store
		err error
	)

	if path, _ := cmd.Flags().GetString("csv"); path != "" {
		records, err := batch.Load(path, log)
		if err != nil {
			log.Fatal("loading the batch", zap.Error(err))
		}
		sel = &selection{records: records}
	} else {
		s = e.openStore()
		defer s.Close()

		force, _ := cmd.Flags().GetBool("force")
		id, _ := cmd.Flags().GetString("session")
		if sel, err = selectResults(e.ctx, s, id, config, force, log); err != nil {
			log.Fatal("selecting results", zap.Error(err))
		}
	}

	if len(sel.records) == 0 {
		log.Info("exiting", zap.String("reason", "no candidates left to sync"))
		return
	}

	creds, err := resolveCredentials(config.AmoCRM)
	if err != nil {
		log.Fatal("loading amocrm credentials", zap.Error(err),
			zap.String("hint", "set amocrm.credentials-file, amocrm.access-token-file or AMOCRM_ACCESS_TOKEN"))
	}
	crmConfig := config.AmoCRM.Config
	crmConfig.Credentials = creds

	prompt := promptui.Select{
		Label: fmt.Sprintf("Push %d candidates to amoCRM?", len(sel.records)),
		Items: []string{PromptYes, PromptNo},
	}
	if sel.session != nil {
		prompt.Items = []string{PromptYes, PromptNo, PromptReportByCategory, PromptResultsToFile}
	}

	autoApprove, _ := cmd.Flags().GetBool("auto-approve")

	action := PromptYes
	for {
		if !autoApprove {
			_, action, err = prompt.Run()
			if err != nil {
				log.Fatal("exiting", zap.Error(err))
			}
		}

		if err := handleAction(e, action, sel, crmConfig, s); err != nil {
			if errors.Is(err, errExit) {
				return
			}
			log.Fatal("exiting", zap.Error(err))
		}
	}
}

func handleAction(e *env, action string, sel *selection, crmConfig amocrm.Config, s *store.Store) error {
	log := e.logger

	switch action {
	case PromptYes:
		if err := push(e, sel, crmConfig, s); err != nil {
			return err
		}
		return errExit
	case PromptNo:
		log.Info("exiting", zap.String("reason", "got no from prompt"))
		return errExit
	case PromptReportByCategory:
		pretty, _ := json.MarshalIndent(sel.session.ReportByCategory(), "", "  ")
		log.Info(string(pretty), zap.Int("candidates count", sel.session.Len()))
		return nil
	case PromptResultsToFile:
		filename, err := sel.session.DumpToTmpFile()
		if err != nil {
			return fmt.Errorf("dump results to file: %w", err)
		}
		log.Info("dumping results to file", zap.String("filename", filename))
		return nil
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}

func push(e *env, sel *selection, crmConfig amocrm.Config, s *store.Store) error {
	log := e.logger

	client, err := amocrm.New(e.ctx, crmConfig, log, e.metrics)
	if err != nil {
		return fmt.Errorf("creating amocrm client: %w", err)
	}

	summary, syncErr := client.SyncBatch(e.ctx, sel.records)

	if sel.results != nil && s != nil {
		// Marks are written even after an interruption; those contacts exist.
		ctx := context.WithoutCancel(e.ctx)
		for i, o := range summary.Outcomes {
			if o.Status != amocrm.StatusCreated {
				continue
			}
			r := sel.results[i]
			if err := s.MarkSynced(ctx, sel.session.ID, r.Document, o.ContactID); err != nil {
				log.Warn("marking document synced", zap.String(logger.FieldDocument, r.Document), zap.Error(err))
			}
		}
	}

	fmt.Printf("Всего: %d, контактов создано: %d, сделок: %d, пропущено: %d, ошибок: %d\n",
		summary.Total, summary.Created, summary.Deals, summary.Skipped, summary.Failed)

	return syncErr
}

// selectResults loads a stored session and runs it through the selection filters.
func selectResults(ctx context.Context, s *store.Store, id string, config *Config, force bool, log *zap.Logger) (*selection, error) {
	session, err := s.LoadSession(ctx, id)
	if err != nil {
		return nil, err
	}

	log.Info("session loaded", zap.String(logger.FieldSession, session.ID), zap.Int("results", session.Len()))

	cfg := config.Sync
	if cfg == nil {
		cfg = &SyncConfig{}
	}

	var minScore float64
	if config.AI != nil {
		minScore = config.AI.MinimumFitScore
	}

	allowed, err := parseCategories(cfg.Categories)
	if err != nil {
		return nil, err
	}

	filters := filtering.New([]filtering.Filter{
		filtering.NewFailed(log),
		filtering.NewCategory(allowed, log),
		filtering.NewRedFlag(log),
		filtering.NewSynced(s, log),
		filtering.NewPhone(log),
		filtering.NewAIFit(minScore, log),
	}, log)

	if !cfg.SkipRedFlags {
		filters.DisableByName("red_flag", "red flags are advisory")
	}
	if force {
		filters.DisableByName("already_synced", "force flag is set")
	}
	if config.AI == nil || !config.AI.Enabled {
		filters.DisableByName("ai_fit", "ai review is disabled")
	}

	for _, status := range filters.Describe() {
		log.Debug("filter", zap.String("name", status.Name), zap.Bool("enabled", status.Enabled),
			zap.String("reason", status.Reason), zap.Any("details", status.Details))
	}

	results, err := filters.RunFilters(ctx, session.Results)
	if err != nil {
		return nil, err
	}

	selected := &pipeline.Session{ID: session.ID, CreatedAt: session.CreatedAt, Thresholds: session.Thresholds, Results: results}

	return &selection{
		records: batch.Records(results),
		results: results,
		session: selected,
	}, nil
}

func parseCategories(names []string) ([]categorize.Category, error) {
	if len(names) == 0 {
		return []categorize.Category{categorize.Yellow, categorize.Green}, nil
	}

	categories := make([]categorize.Category, 0, len(names))
	for _, name := range names {
		c, err := categorize.ParseCategory(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, nil
}

// resolveCredentials merges the credentials file with secrets given inline,
// in files or in the environment.
func resolveCredentials(cfg *AmoCRMConfig) (amocrm.Credentials, error) {
	creds := cfg.Credentials

	if cfg.CredentialsFile != "" {
		// The file may not exist yet; it is written after the first token refresh.
		fromFile, err := amocrm.LoadCredentials(cfg.CredentialsFile)
		switch {
		case err == nil:
			creds = mergeCredentials(fromFile, creds)
		case !errors.Is(err, os.ErrNotExist):
			return creds, err
		}
	}

	token, err := secrets.Load(secrets.Source{
		Name:  "amocrm access token",
		Value: creds.AccessToken,
		File:  cfg.AccessTokenFile,
		Env:   "AMOCRM_ACCESS_TOKEN",
	})
	if err != nil {
		return creds, err
	}
	creds.AccessToken = token

	secret, err := secrets.LoadOptional(secrets.Source{
		Name:  "amocrm client secret",
		Value: creds.ClientSecret,
		File:  cfg.ClientSecretFile,
		Env:   "AMOCRM_CLIENT_SECRET",
	})
	if err != nil {
		return creds, err
	}
	creds.ClientSecret = secret

	return creds, creds.Validate()
}

// mergeCredentials fills empty fields of base from override's non-empty ones.
func mergeCredentials(base, override amocrm.Credentials) amocrm.Credentials {
	pick := func(a, b string) string {
		if strings.TrimSpace(b) != "" {
			return b
		}
		return a
	}

	return amocrm.Credentials{
		Subdomain:    pick(base.Subdomain, override.Subdomain),
		AccessToken:  pick(base.AccessToken, override.AccessToken),
		RefreshToken: pick(base.RefreshToken, override.RefreshToken),
		ClientID:     pick(base.ClientID, override.ClientID),
		ClientSecret: pick(base.ClientSecret, override.ClientSecret),
		RedirectURI:  pick(base.RedirectURI, override.RedirectURI),
	}
}
