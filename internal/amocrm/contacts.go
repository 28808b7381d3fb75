package amocrm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	apiContactsPath = "/api/v4/contacts"
	unknownValue    = "-"
)

// ContactData carries the optional contact attributes as exported strings.
type ContactData struct {
	DesiredPosition string `mapstructure:"Желаемая должность"`
	City            string `mapstructure:"Город"`
	Age             string `mapstructure:"Возраст"`
	Salary          string `mapstructure:"Зарплата"`
	Comment         string `mapstructure:"Комментарий"`
	Probability     string `mapstructure:"Вероятность класса 1"`
}

func (d ContactData) value(f Field) string {
	switch f {
	case FieldDesiredPosition:
		return d.DesiredPosition
	case FieldCity:
		return d.City
	case FieldAge:
		return d.Age
	case FieldSalary:
		return d.Salary
	case FieldComment:
		return d.Comment
	case FieldProbability:
		return d.Probability
	}
	return ""
}

type fieldValue struct {
	Value    any    `json:"value"`
	EnumCode string `json:"enum_code,omitempty"`
}

type customFieldValue struct {
	FieldID   int          `json:"field_id,omitempty"`
	FieldCode string       `json:"field_code,omitempty"`
	Values    []fieldValue `json:"values"`
}

type contactPayload struct {
	Name               string             `json:"name"`
	CustomFieldsValues []customFieldValue `json:"custom_fields_values"`
}

type contactsResponse struct {
	Embedded struct {
		Contacts []struct {
			ID int `json:"id"`
		} `json:"contacts"`
	} `json:"_embedded"`
}

// CreateContact returns the new contact id. A missing phone is rejected
// before any request; a malformed optional value drops only that field.
func (c *Client) CreateContact(ctx context.Context, name, phone string, data ContactData) (int, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" || phone == unknownValue {
		return 0, fmt.Errorf("%w: %s", ErrMissingPhone, name)
	}

	log := c.logger.With(zap.String("contact", name))

	values := []customFieldValue{{
		FieldCode: "PHONE",
		Values:    []fieldValue{{Value: phone, EnumCode: "WORK"}},
	}}
	values = append(values, c.optionalValues(log, data)...)

	payload := []contactPayload{{Name: name, CustomFieldsValues: values}}

	log.Info("creating contact")

	resp, err := c.request(ctx, http.MethodPost, apiContactsPath, payload)
	if err != nil {
		return 0, err
	}

	if !resp.OK() {
		log.Error("contact creation rejected", zap.String("response", resp.String()))
		return 0, fmt.Errorf("creating contact %s: bad status %d", name, resp.StatusCode)
	}

	var created contactsResponse
	if err := json.Unmarshal(resp.Body, &created); err != nil || len(created.Embedded.Contacts) == 0 {
		log.Error("unexpected contact response", zap.String("response", resp.String()))
		return 0, fmt.Errorf("creating contact %s: no id in response", name)
	}

	id := created.Embedded.Contacts[0].ID
	log.Info("contact created", zap.Int("contact_id", id))

	return id, nil
}

func (c *Client) optionalValues(log *zap.Logger, data ContactData) []customFieldValue {
	var values []customFieldValue

	for _, f := range Fields {
		id, ok := c.fields[f]
		if !ok {
			continue
		}

		raw := strings.TrimSpace(data.value(f))
		if raw == "" || raw == unknownValue {
			continue
		}

		var value any = raw
		switch f {
		case FieldAge:
			age, err := ParseAge(raw)
			if err != nil {
				log.Warn("invalid age, field skipped", zap.String("age", raw))
				continue
			}
			value = age
		case FieldProbability:
			p, err := ParseProbability(raw)
			if err != nil {
				log.Warn("invalid probability, field skipped", zap.String("probability", raw))
				continue
			}
			value = p
		}

		values = append(values, customFieldValue{FieldID: id, Values: []fieldValue{{Value: value}}})
	}

	return values
}

// ParseAge strips spaces, commas and dots before parsing the integer.
func ParseAge(s string) (int, error) {
	cleaned := strings.NewReplacer(" ", "", ",", "", ".", "").Replace(s)
	return strconv.Atoi(cleaned)
}

// ParseProbability accepts a comma as the decimal separator.
func ParseProbability(s string) (float64, error) {
	cleaned := strings.ReplaceAll(strings.ReplaceAll(s, " ", ""), ",", ".")
	return strconv.ParseFloat(cleaned, 64)
}
