package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/hh-screener/internal/ai"
	"github.com/spigell/hh-screener/internal/ai/gemini"
	"github.com/spigell/hh-screener/internal/categorize"
	"github.com/spigell/hh-screener/internal/document"
	"github.com/spigell/hh-screener/internal/features"
	"github.com/spigell/hh-screener/internal/logger"
	"github.com/spigell/hh-screener/internal/model"
	"github.com/spigell/hh-screener/internal/normalize"
	"github.com/spigell/hh-screener/internal/pipeline"
	"github.com/spigell/hh-screener/internal/profile"
	"github.com/spigell/hh-screener/internal/report"
	"github.com/spigell/hh-screener/internal/secrets"
)

var scoreCmd = &cobra.Command{
	Use:   "score [files or directories...]",
	Short: "Score resumes (.pdf, .html, .txt) and store the session",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		score(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(scoreCmd)

	scoreCmd.Flags().String("csv", "", "also write the batch csv for the CRM sync to this file")
	scoreCmd.Flags().Bool("no-ai", false, "skip the AI review even when it is enabled in the config")
}

func score(cmd *cobra.Command, args []string) {
	e := prepare("score")
	defer e.close()

	log, config := e.logger, e.config

	if csv, _ := cmd.Flags().GetString("csv"); csv != "" {
		config.Report.CSV = csv
	}

	set := e.loadRules()

	artifacts, err := model.LoadArtifacts(artifactPaths(config))
	if err != nil {
		log.Fatal("loading model artifacts", zap.Error(err))
	}

	categorizer, err := categorize.New(set, config.Thresholds)
	if err != nil {
		log.Fatal("building the categorizer", zap.Error(err))
	}

	extractor := features.NewExtractor(set, artifacts.Vectorizer)
	if err := artifacts.CheckWidth(extractor); err != nil {
		log.Fatal("model artifacts do not match the rules", zap.Error(err))
	}

	var reviewer ai.Reviewer
	if noAI, _ := cmd.Flags().GetBool("no-ai"); !noAI && config.AI != nil && config.AI.Enabled {
		if reviewer, err = newAIReviewer(e.ctx, config.AI, log); err != nil {
			log.Warn("skipping the AI review", zap.Error(err))
		}
	}

	p, err := pipeline.New(pipeline.Deps{
		Normalizer:  normalize.New(set, artifacts.Lemmatizer()),
		Parser:      profile.NewParser(set.Cities),
		Extractor:   extractor,
		Classifier:  artifacts.Classifier,
		Categorizer: categorizer,
		Reviewer:    reviewer,
		Metrics:     e.metrics,
		Logger:      log,
	})
	if err != nil {
		log.Fatal("building the pipeline", zap.Error(err))
	}

	docs, err := document.LoadPaths(args)
	if err != nil {
		log.Fatal("loading documents", zap.Error(err))
	}
	if len(docs) == 0 {
		log.Info("exiting", zap.String("reason", "no supported documents found"))
		return
	}

	log.Info("scoring documents", zap.Int("count", len(docs)))

	session := pipeline.NewSession(categorizer.Thresholds())
	runErr := p.Run(e.ctx, session, docs)
	if runErr != nil && session.Len() == 0 {
		log.Fatal("scoring failed", zap.Error(runErr))
	}

	// Whatever was scored before an interruption is still worth keeping.
	s := e.openStore()
	defer s.Close()

	// Reports are written even when the store rejects the session.
	saveErr := s.SaveSession(context.WithoutCancel(e.ctx), session)
	if saveErr != nil {
		log.Error("saving the session", zap.String(logger.FieldSession, session.ID), zap.Error(saveErr))
	} else {
		log.Info("session saved", zap.String(logger.FieldSession, session.ID), zap.String("store", config.Store))
	}

	if err := report.Write(config.Report, session.Results, log); err != nil {
		log.Fatal("writing reports", zap.Error(err))
	}

	printCounts(cmd.OutOrStdout(), fmt.Sprintf("Сессия %s, документов: %d", session.ID, session.Len()), session.Counts(), session.Failures())

	if saveErr != nil {
		log.Fatal("session was not stored", zap.Error(saveErr))
	}
	if runErr != nil {
		log.Fatal("scoring interrupted", zap.Int("scored", session.Len()), zap.Int("total", len(docs)), zap.Error(runErr))
	}
}

func newAIReviewer(ctx context.Context, cfg *AIConfig, log *zap.Logger) (ai.Reviewer, error) {
	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	gcfg := cfg.Gemini
	if gcfg == nil {
		gcfg = &GeminiConfig{}
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: gcfg.APIKey,
		File:  gcfg.APIKeyFile,
		Env:   "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY)", err)
	}

	genLogger := logger.WithProvider(log, "gemini", gcfg.Model).With(zap.Int("ai_retry_attempts", gcfg.MaxRetries))

	generator, err := gemini.NewGenerator(ctx, apiKey, gcfg.Model, gcfg.MaxRetries, genLogger)
	if err != nil {
		return nil, err
	}

	minScore := cfg.MinimumFitScore
	if minScore < 0 {
		minScore = 0
	}

	reviewerLogger := logger.WithProvider(log, "gemini", generator.Model()).With(zap.Float64("minimum_fit_score", minScore))

	return gemini.NewReviewer(generator, cfg.Vacancy, minScore, gcfg.MaxLogLength, reviewerLogger), nil
}
