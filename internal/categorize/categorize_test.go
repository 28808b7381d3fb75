package categorize

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/spigell/hh-screener/internal/rules"
)

func newTestCategorizer(t *testing.T) *Categorizer {
	t.Helper()

	set, err := rules.Default()
	if err != nil {
		t.Fatalf("loading rules: %v", err)
	}

	c, err := New(set, DefaultThresholds())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func TestCategoryBoundaries(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		p         float64
		wantCat   Category
		wantClass int
	}{
		{p: 0, wantCat: Red, wantClass: 0},
		{p: 0.18999, wantCat: Red, wantClass: 0},
		{p: 0.19, wantCat: Yellow, wantClass: 1},
		{p: 0.5, wantCat: Yellow, wantClass: 1},
		{p: 0.80999, wantCat: Yellow, wantClass: 1},
		{p: 0.81, wantCat: Green, wantClass: 1},
		{p: 1, wantCat: Green, wantClass: 1},
	}

	for _, tt := range tests {
		if got := th.Category(tt.p); got != tt.wantCat {
			t.Fatalf("p=%v: expected %s, got %s", tt.p, tt.wantCat, got)
		}
		if got := th.Class(tt.p); got != tt.wantClass {
			t.Fatalf("p=%v: expected class %d, got %d", tt.p, tt.wantClass, got)
		}
	}
}

func TestThresholdsValidate(t *testing.T) {
	for _, th := range []Thresholds{{Reject: 0.5, Accept: 0.5}, {Reject: -0.1, Accept: 0.5}, {Reject: 0.2, Accept: 1.1}} {
		if err := th.Validate(); !errors.Is(err, ErrInvalidThresholds) {
			t.Fatalf("expected invalid thresholds for %+v, got %v", th, err)
		}
	}

	set, _ := rules.Default()
	if _, err := New(set, Thresholds{Reject: 0.9, Accept: 0.1}); err == nil {
		t.Fatalf("expected New to reject inverted thresholds")
	}
}

func TestComment(t *testing.T) {
	c := newTestCategorizer(t)

	tests := []struct {
		name        string
		text        string
		class       int
		wantRedFlag bool
		want        string
	}{
		{
			name:        "phone sales only",
			text:        "Опыт: продажи по телефону, работа в CRM",
			class:       1,
			wantRedFlag: false,
			want:        "Кандидат имеет опыт телефонных продаж, что соответствует требованиям позиции. Обладает следующими навыками: CRM.",
		},
		{
			name:        "car dealer without phone sales",
			text:        "Менеджер в автосалоне, вел переговоры с клиентами",
			class:       1,
			wantRedFlag: true,
			want:        "RED FLAG: Имеет опыт работы в областях: авто, но отсутствует опыт телефонных продаж. Обладает следующими навыками: Ведение переговоров.",
		},
		{
			name:        "several domains with phone sales",
			text:        "Банк, затем фитнес клуб. Холодные звонки по холодной базе.",
			class:       1,
			wantRedFlag: false,
			want: "Имеет опыт работы в областях: фитнес, банки, но присутствует опыт телефонных продаж, что является положительным фактором." +
				" Обладает следующими навыками: Холодные звонки.",
		},
		{
			name:        "nothing found, rejected",
			text:        "Программист Go",
			class:       0,
			wantRedFlag: false,
			want:        "Недостаточное соответствие требованиям. В резюме не указаны ключевые навыки для телефонных продаж.",
		},
		{
			name:        "nothing found, accepted",
			text:        "Программист Go",
			class:       1,
			wantRedFlag: false,
			want:        "В резюме не указаны ключевые навыки для телефонных продаж.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, redFlag := c.Comment(tt.text, tt.class)
			if redFlag != tt.wantRedFlag {
				t.Fatalf("expected red flag %v, got %v", tt.wantRedFlag, redFlag)
			}
			if got != tt.want {
				t.Fatalf("unexpected comment:\n got: %s\nwant: %s", got, tt.want)
			}
		})
	}
}

func TestPredictRedFlagKeepsCategory(t *testing.T) {
	c := newTestCategorizer(t)

	p := c.Predict("Продавец-консультант, затем визажист", 0.9)

	if !p.RedFlag {
		t.Fatalf("expected a red flag")
	}
	if p.Category != Green || p.Probability != 0.9 || p.Class != 1 {
		t.Fatalf("red flag must not alter the score: %+v", p)
	}
	if !strings.Contains(p.Comment, "салоны красоты, продавец-консультант") {
		t.Fatalf("expected domains in table order, got %q", p.Comment)
	}
}

func TestCategoryText(t *testing.T) {
	data, err := json.Marshal(map[string]Category{"c": Yellow})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"c":"yellow"}` {
		t.Fatalf("unexpected json %s", data)
	}

	var back map[string]Category
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back["c"] != Yellow {
		t.Fatalf("expected yellow, got %s", back["c"])
	}

	if _, err := ParseCategory("purple"); err == nil {
		t.Fatalf("expected unknown category error")
	}
}
