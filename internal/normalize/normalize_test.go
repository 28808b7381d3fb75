package normalize

import (
	"reflect"
	"strings"
	"testing"

	"github.com/spigell/hh-screener/internal/rules"
)

const sampleResume = `Петров Иван
Мужчина, 29 лет, родился 3 марта 1995
+7 (916) 123-45-67
ivan.petrov@mail.ru
Желаемая должность и зарплата
Менеджер по продажам
Опыт работы — 5 лет
Январь 2019 — Декабрь 2023
ООО Ромашка, www.romashka.ru
Холодные звонки, работа с возражениями, выполнение плана продаж на 120%.
<b>Навыки</b>: CRM, переговоры
История общения с кандидатом
Приглашение на интервью`

func newTestNormalizer(t *testing.T) *Normalizer {
	t.Helper()

	set, err := rules.Default()
	if err != nil {
		t.Fatalf("loading rules: %v", err)
	}

	return New(set, nil)
}

func TestNormalizeIsDeterministic(t *testing.T) {
	n := newTestNormalizer(t)

	first := n.Normalize(sampleResume)
	second := n.Normalize(sampleResume)

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical output, got %v and %v", first, second)
	}

	if len(first) == 0 {
		t.Fatalf("expected tokens for a realistic resume")
	}
}

func TestNormalizeDropsContactsAndHistory(t *testing.T) {
	n := newTestNormalizer(t)
	joined := strings.Join(n.Normalize(sampleResume), " ")

	for _, unwanted := range []string{"ivan", "romashka", "916", "2019", "петров", "интервью", "приглашен"} {
		if strings.Contains(joined, unwanted) {
			t.Fatalf("expected %q to be removed, got %q", unwanted, joined)
		}
	}

	for _, tag := range []string{"position", "skills"} {
		if !strings.Contains(joined, tag) {
			t.Fatalf("expected section tag %q in %q", tag, joined)
		}
	}
}

func TestNormalizeTotal(t *testing.T) {
	n := newTestNormalizer(t)

	inputs := []string{"", "   ", "!!!", "<<<>>>", "12345 67890", "один два"}
	for _, in := range inputs {
		if got := n.Normalize(in); len(got) != 0 {
			t.Fatalf("expected no tokens for %q, got %v", in, got)
		}
	}

	for _, tok := range n.Normalize("\x00\xff продажи") {
		if tok == "" {
			t.Fatalf("expected no empty tokens")
		}
	}
}

func TestNormalizeDropsFooterTokens(t *testing.T) {
	n := newTestNormalizer(t)

	got := n.Normalize("продажи звонки клиенты переговоры")
	if len(got) != 2 {
		t.Fatalf("expected two tokens after dropping the footer, got %v", got)
	}

	short := n.Normalize("продажи звонки")
	if len(short) != 2 {
		t.Fatalf("expected short input to keep its tokens, got %v", short)
	}
}

func TestStripIsIdempotent(t *testing.T) {
	inputs := []string{
		sampleResume,
		"звоните +7 999 000-11-22 или пишите a@b.c, сайт http://x.com/y",
		"март 2020 - май 2021, 01.02.2020, 1С и Excel, <p>текст</p>",
		"",
	}

	for _, in := range inputs {
		once := Strip(in)
		twice := Strip(once)
		if once != twice {
			t.Fatalf("strip is not idempotent:\n once: %q\ntwice: %q", once, twice)
		}
	}
}

func TestFilterStopwordsIsIdempotent(t *testing.T) {
	n := newTestNormalizer(t)

	tokens := n.Tokenize("Я работал без выходных для клиентов и по плану, резюме обновлено")
	once := n.FilterStopwords(tokens)
	twice := n.FilterStopwords(once)

	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("expected idempotent filtering, got %v then %v", once, twice)
	}

	want := []string{"работал", "без", "выходных", "для", "клиентов", "по", "плану"}
	if !reflect.DeepEqual(once, want) {
		t.Fatalf("expected %v, got %v", want, once)
	}
}

func TestTruncate(t *testing.T) {
	text := "шапка\nСопроводительное письмо\nтекст\nИстория общения с кандидатом\nхвост"
	got := Truncate(text)

	if !strings.HasPrefix(got, "Сопроводительное письмо") {
		t.Fatalf("expected text to start at the cover letter, got %q", got)
	}
	if strings.Contains(got, "хвост") {
		t.Fatalf("expected recruiter history to be cut, got %q", got)
	}
}

func TestDictionaryLemmatizer(t *testing.T) {
	dict, err := ReadDictionary(strings.NewReader("# form\tlemma\nзвонки\tзвонок\nПродажи\tпродажа\n"))
	if err != nil {
		t.Fatalf("reading dictionary: %v", err)
	}

	if dict.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", dict.Len())
	}
	if got := dict.Lemma("продажи"); got != "продажа" {
		t.Fatalf("expected lowercased lookup, got %q", got)
	}
	if got := dict.Lemma("клиенты"); got != "клиенты" {
		t.Fatalf("expected unknown form unchanged, got %q", got)
	}

	if _, err := ReadDictionary(strings.NewReader("no-tab-here\n")); err == nil {
		t.Fatalf("expected malformed line error")
	}
}
