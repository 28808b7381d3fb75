package amocrm

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// Record is one row of the batch contract.
type Record struct {
	Name        string `mapstructure:"Файл"`
	Phone       string `mapstructure:"Телефон"`
	ContactData `mapstructure:",squash"`
}

type Status string

const (
	StatusCreated Status = "created"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

type Outcome struct {
	Name      string
	Status    Status
	ContactID int
	Deal      bool
	Err       error
}

type Summary struct {
	Total    int
	Created  int
	Deals    int
	Skipped  int
	Failed   int
	Outcomes []Outcome
}

func (s *Summary) add(o Outcome) {
	s.Outcomes = append(s.Outcomes, o)
	switch o.Status {
	case StatusCreated:
		s.Created++
		if o.Deal {
			s.Deals++
		}
	case StatusSkipped:
		s.Skipped++
	default:
		s.Failed++
	}
}

// SyncBatch pushes records in order, a contact and then its deal, waiting
// Throttle between records. Record failures are logged and counted; only a
// cancelled context stops the batch early.
func (c *Client) SyncBatch(ctx context.Context, records []Record) (Summary, error) {
	summary := Summary{Total: len(records)}

	for i, r := range records {
		if i > 0 {
			if err := c.wait(ctx, c.cfg.Throttle); err != nil {
				return summary, err
			}
		}

		o := c.syncRecord(ctx, r)
		summary.add(o)
		c.metrics.CRMRecord(string(o.Status))

		if err := ctx.Err(); err != nil {
			return summary, err
		}
	}

	c.logger.Info("batch synced",
		zap.Int("total", summary.Total),
		zap.Int("created", summary.Created),
		zap.Int("deals", summary.Deals),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
	)

	return summary, nil
}

func (c *Client) syncRecord(ctx context.Context, r Record) Outcome {
	name := strings.TrimSpace(r.Name)
	log := c.logger.With(zap.String("record", name))

	if name == "" {
		log.Warn("record skipped: no name")
		return Outcome{Name: name, Status: StatusSkipped}
	}

	id, err := c.CreateContact(ctx, name, r.Phone, r.ContactData)
	switch {
	case errors.Is(err, ErrMissingPhone):
		log.Warn("record skipped: no phone")
		return Outcome{Name: name, Status: StatusSkipped, Err: err}
	case err != nil:
		log.Error("contact not created", zap.Error(err))
		return Outcome{Name: name, Status: StatusFailed, Err: err}
	}

	o := Outcome{Name: name, Status: StatusCreated, ContactID: id}

	switch err := c.CreateDeal(ctx, id, name); {
	case errors.Is(err, ErrNoDealStatus):
		log.Warn("deal skipped: stage not resolved")
	case err != nil:
		log.Error("deal not created", zap.Error(err))
		o.Err = err
	default:
		o.Deal = true
	}

	return o
}
