package amocrm

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

const apiLeadsPath = "/api/v4/leads"

type leadPayload struct {
	Name     string `json:"name"`
	Price    int    `json:"price"`
	StatusID int    `json:"status_id"`
	Embedded struct {
		Contacts []struct {
			ID int `json:"id"`
		} `json:"contacts"`
	} `json:"_embedded"`
}

// CreateDeal opens a zero-priced deal in the resolved stage linked to the contact.
func (c *Client) CreateDeal(ctx context.Context, contactID int, name string) error {
	if c.dealStatus == 0 {
		return ErrNoDealStatus
	}

	lead := leadPayload{
		Name:     fmt.Sprintf(c.cfg.DealName, name),
		StatusID: c.dealStatus,
	}
	lead.Embedded.Contacts = append(lead.Embedded.Contacts, struct {
		ID int `json:"id"`
	}{ID: contactID})

	log := c.logger.With(zap.String("deal", lead.Name), zap.Int("contact_id", contactID))
	log.Info("creating deal")

	resp, err := c.request(ctx, http.MethodPost, apiLeadsPath, []leadPayload{lead})
	if err != nil {
		return err
	}

	if !resp.OK() {
		log.Error("deal creation rejected", zap.String("response", resp.String()))
		return fmt.Errorf("creating deal %q: bad status %d", lead.Name, resp.StatusCode)
	}

	log.Info("deal created")

	return nil
}
