package amocrm

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

const (
	apiCustomFieldsPath = "/api/v4/contacts/custom_fields"
	apiPipelinesPath    = "/api/v4/leads/pipelines"
)

// Field is a contact attribute the screener knows how to fill.
type Field string

const (
	FieldDesiredPosition Field = "desired_position"
	FieldCity            Field = "city"
	FieldAge             Field = "age"
	FieldSalary          Field = "salary"
	FieldComment         Field = "comment"
	FieldProbability     Field = "probability"
)

// Fields lists every Field in payload order.
var Fields = []Field{
	FieldDesiredPosition, FieldCity, FieldAge, FieldSalary, FieldComment, FieldProbability,
}

// DefaultFieldNames are the display names recruiters give the custom fields.
var DefaultFieldNames = map[Field]string{
	FieldDesiredPosition: "Желаемая должность",
	FieldCity:            "Город",
	FieldAge:             "Возраст",
	FieldSalary:          "Зарплата",
	FieldComment:         "Комментарий",
	FieldProbability:     "Вероятность класса 1",
}

// FieldMap resolves a Field to its CRM id. A missing key means unresolved.
type FieldMap map[Field]int

func (m FieldMap) Missing() []string {
	var missing []string
	for _, f := range Fields {
		if _, ok := m[f]; !ok {
			missing = append(missing, string(f))
		}
	}
	return missing
}

type CustomField struct {
	ID   int
	Name string
	Code string
	Type string
}

type pipelinesResponse struct {
	Embedded struct {
		Pipelines []struct {
			ID       int    `json:"id"`
			Name     string `json:"name"`
			Embedded struct {
				Statuses []struct {
					ID   int    `json:"id"`
					Name string `json:"name"`
				} `json:"statuses"`
			} `json:"_embedded"`
		} `json:"pipelines"`
	} `json:"_embedded"`
}

func (c *Client) resolve(ctx context.Context) {
	status, err := c.findDealStatus(ctx)
	switch {
	case err != nil:
		c.logger.Warn("failed to load pipelines, deals will not be created", zap.Error(err))
	case status == 0:
		c.logger.Warn("deal status not found in pipelines, deals will not be created", zap.String("stage", c.cfg.StageName))
	default:
		c.dealStatus = status
		c.logger.Info("deal status resolved", zap.String("stage", c.cfg.StageName), zap.Int("status_id", status))
	}

	fields, err := c.GetCustomFields(ctx)
	if err != nil {
		c.logger.Warn("failed to load custom fields, only name and phone will be sent", zap.Error(err))
		return
	}

	c.fields = c.matchFields(fields)

	if missing := c.fields.Missing(); len(missing) > 0 {
		c.logger.Warn("custom fields not found",
			zap.Strings("fields", missing),
			zap.String("hint", "create them in amoCRM: Settings -> Contacts -> Fields"),
		)
	}
}

func (c *Client) findDealStatus(ctx context.Context) (int, error) {
	var resp pipelinesResponse
	if err := c.getJSON(ctx, apiPipelinesPath, &resp); err != nil {
		return 0, err
	}

	for _, p := range resp.Embedded.Pipelines {
		for _, s := range p.Embedded.Statuses {
			if strings.EqualFold(strings.TrimSpace(s.Name), c.cfg.StageName) {
				return s.ID, nil
			}
		}
	}

	return 0, nil
}

func (c *Client) GetCustomFields(ctx context.Context) ([]CustomField, error) {
	items, err := c.GetItems(ctx, apiCustomFieldsPath, "custom_fields")
	if err != nil {
		return nil, err
	}

	var fields []CustomField
	if err := decodeItems(items, &fields); err != nil {
		return nil, err
	}

	for _, f := range fields {
		c.logger.Debug("custom field", zap.String("name", f.Name), zap.Int("id", f.ID))
	}

	return fields, nil
}

// matchFields compares display names case-insensitively; configured names win
// over the defaults.
func (c *Client) matchFields(fields []CustomField) FieldMap {
	names := make(map[string]Field, len(Fields))
	for _, f := range Fields {
		name := DefaultFieldNames[f]
		if custom, ok := c.cfg.FieldNames[string(f)]; ok && strings.TrimSpace(custom) != "" {
			name = custom
		}
		names[strings.ToLower(strings.TrimSpace(name))] = f
	}

	resolved := make(FieldMap)
	for _, cf := range fields {
		if f, ok := names[strings.ToLower(strings.TrimSpace(cf.Name))]; ok {
			if _, dup := resolved[f]; !dup {
				resolved[f] = cf.ID
			}
		}
	}

	return resolved
}
