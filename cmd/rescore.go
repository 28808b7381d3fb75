package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/hh-screener/internal/categorize"
	"github.com/spigell/hh-screener/internal/logger"
	"github.com/spigell/hh-screener/internal/report"
)

var rescoreCmd = &cobra.Command{
	Use:   "rescore",
	Short: "Recompute categories and comments of a stored session with new thresholds",
	Run: func(cmd *cobra.Command, _ []string) {
		rescore(cmd)
	},
}

func init() {
	rootCmd.AddCommand(rescoreCmd)

	rescoreCmd.Flags().StringP("session", "s", "", "session id (default is the latest session)")
	rescoreCmd.Flags().Float64("reject", 0, "probability below which a candidate is red")
	rescoreCmd.Flags().Float64("accept", 0, "probability from which a candidate is green")
	rescoreCmd.Flags().Bool("list", false, "list stored sessions and exit")
}

func rescore(cmd *cobra.Command) {
	e := prepare("rescore")
	defer e.close()

	log, config := e.logger, e.config

	s := e.openStore()
	defer s.Close()

	if list, _ := cmd.Flags().GetBool("list"); list {
		sessions, err := s.Sessions(e.ctx)
		if err != nil {
			log.Fatal("listing sessions", zap.Error(err))
		}
		for _, info := range sessions {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  reject=%.2f accept=%.2f  documents=%d\n",
				info.ID, info.CreatedAt.Local().Format("2006-01-02 15:04"), info.Thresholds.Reject, info.Thresholds.Accept, info.Results)
		}
		return
	}

	id, _ := cmd.Flags().GetString("session")
	session, err := s.LoadSession(e.ctx, id)
	if err != nil {
		log.Fatal("loading the session", zap.Error(err))
	}

	// Flags win over the stored thresholds, which win over the config.
	thresholds := session.Thresholds
	if thresholds == (categorize.Thresholds{}) {
		thresholds = config.Thresholds
	}
	if cmd.Flags().Changed("reject") {
		thresholds.Reject, _ = cmd.Flags().GetFloat64("reject")
	}
	if cmd.Flags().Changed("accept") {
		thresholds.Accept, _ = cmd.Flags().GetFloat64("accept")
	}

	categorizer, err := categorize.New(e.loadRules(), thresholds)
	if err != nil {
		log.Fatal("building the categorizer", zap.Error(err))
	}

	before := session.Counts()
	session.Rescore(categorizer)

	if err := s.SaveSession(e.ctx, session); err != nil {
		log.Fatal("saving the session", zap.Error(err))
	}

	log.Info("session rescored",
		zap.String(logger.FieldSession, session.ID),
		zap.Float64("reject", thresholds.Reject),
		zap.Float64("accept", thresholds.Accept),
		zap.Int("green_before", before[categorize.Green]),
		zap.Int("green_after", session.Counts()[categorize.Green]),
	)

	if err := report.Write(config.Report, session.Results, log); err != nil {
		log.Fatal("writing reports", zap.Error(err))
	}

	printCounts(cmd.OutOrStdout(), fmt.Sprintf("Сессия %s, документов: %d", session.ID, session.Len()), session.Counts(), session.Failures())
}
