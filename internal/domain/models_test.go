package domain

import (
	"errors"
	"math/rand"
	"testing"
)

func TestParseAction(t *testing.T) {
	cases := []struct {
		data string
		want Action
	}{
		{"ready", Ready{}},
		{"forward", Forward{}},
		{"back", Back{}},
		{"ok_cool", Acknowledge{}},
		{"answer:2:1", Answer{Position: 2, Choice: 1}},
	}
	for _, tc := range cases {
		got, err := ParseAction(tc.data)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.data, err)
		}
		if got != tc.want {
			t.Fatalf("parse %q: got %#v, want %#v", tc.data, got, tc.want)
		}
	}
}

func TestParseActionRejectsMalformed(t *testing.T) {
	for _, data := range []string{"", "nope", "answer", "answer:1", "answer:x:1", "answer:1:y", "answer:1:2:3"} {
		if _, err := ParseAction(data); !errors.Is(err, ErrInvalidAction) {
			t.Fatalf("parse %q: expected ErrInvalidAction, got %v", data, err)
		}
	}
}

func TestAnswerDataRoundTrip(t *testing.T) {
	action, err := ParseAction(AnswerData(3, 0))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if action != (Answer{Position: 3, Choice: 0}) {
		t.Fatalf("got %#v", action)
	}
}

func TestNewCatalogValidation(t *testing.T) {
	if _, err := NewCatalog(nil); err == nil {
		t.Fatalf("expected error for empty catalog")
	}
	if _, err := NewCatalog([]Question{{Prompt: "p", Options: []string{"only"}, Answer: 0}}); err == nil {
		t.Fatalf("expected error for single-option question")
	}
	if _, err := NewCatalog([]Question{{Prompt: "p", Options: []string{"a", "b"}, Answer: 2}}); err == nil {
		t.Fatalf("expected error for out-of-range answer")
	}

	catalog, err := NewCatalog([]Question{
		{Prompt: "p0", Options: []string{"a", "b"}, Answer: 0},
		{Prompt: "p1", Options: []string{"a", "b"}, Answer: 1},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	q, err := catalog.Question(1)
	if err != nil || q.ID != 1 || q.Prompt != "p1" {
		t.Fatalf("got %+v (%v)", q, err)
	}
	if _, err := catalog.Question(5); !errors.Is(err, ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}
}

func TestSampleWithoutReplacement(t *testing.T) {
	questions := make([]Question, 10)
	for i := range questions {
		questions[i] = Question{Prompt: "p", Options: []string{"a", "b"}, Answer: 0}
	}
	catalog, err := NewCatalog(questions)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	ids := catalog.Sample(rand.New(rand.NewSource(42)), 5)
	if len(ids) != 5 {
		t.Fatalf("expected 5 ids, got %d", len(ids))
	}
	seen := make(map[int]bool)
	for _, id := range ids {
		if id < 0 || id >= 10 {
			t.Fatalf("id %d out of range", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %d in sample", id)
		}
		seen[id] = true
	}
}

func TestTallyPositions(t *testing.T) {
	answers := map[string]string{"0": "c", "1": "w", "2": "c"}
	tally := TallyPositions(answers, 5)
	if tally.Correct != 2 || tally.Wrong != 1 || tally.Unanswered != 2 {
		t.Fatalf("got %+v", tally)
	}

	tally = TallyPositions(nil, 3)
	if tally.Unanswered != 3 {
		t.Fatalf("missing fields must count as unanswered, got %+v", tally)
	}
}

func TestAnswerStateResolved(t *testing.T) {
	if Unanswered.Resolved() {
		t.Fatalf("unanswered must not be resolved")
	}
	if !Correct.Resolved() || !Wrong.Resolved() {
		t.Fatalf("correct and wrong must be resolved")
	}
}
