package domain

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
)

// AnswerState is the per-position state of a quiz answer. The single-letter
// values are the wire form stored in the state store.
type AnswerState string

const (
	Unanswered AnswerState = "u"
	Correct    AnswerState = "c"
	Wrong      AnswerState = "w"
)

// Resolved reports whether the position has been answered.
func (s AnswerState) Resolved() bool {
	return s == Correct || s == Wrong
}

// Question models an MCQ question. Answer indexes Options.
type Question struct {
	ID      int      `json:"id"`
	Prompt  string   `json:"question"`
	Options []string `json:"options"`
	Answer  int      `json:"answer"`
}

// Catalog is the immutable, process-wide question set, loaded once at startup.
type Catalog struct {
	questions []Question
}

// NewCatalog validates the loaded questions and assigns stable ids by index.
func NewCatalog(questions []Question) (*Catalog, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("catalog: no questions loaded")
	}
	for i := range questions {
		questions[i].ID = i
		if len(questions[i].Options) < 2 {
			return nil, fmt.Errorf("catalog: question %d has %d options, need at least 2", i, len(questions[i].Options))
		}
		if questions[i].Answer < 0 || questions[i].Answer >= len(questions[i].Options) {
			return nil, fmt.Errorf("catalog: question %d answer index %d out of range", i, questions[i].Answer)
		}
	}
	return &Catalog{questions: questions}, nil
}

func (c *Catalog) Len() int {
	return len(c.questions)
}

// Question returns the record for a catalog id.
func (c *Catalog) Question(id int) (Question, error) {
	if id < 0 || id >= len(c.questions) {
		return Question{}, ErrQuestionNotFound
	}
	return c.questions[id], nil
}

// Sample draws n question ids without replacement.
func (c *Catalog) Sample(rnd *rand.Rand, n int) []int {
	return rnd.Perm(len(c.questions))[:n]
}

// Tally counts answer states across all positions of a session.
type Tally struct {
	Unanswered int
	Correct    int
	Wrong      int
}

// TallyPositions aggregates a position → state hash as read from the
// store. Positions never rendered have no hash field yet and count as
// unanswered.
func TallyPositions(answers map[string]string, positions int) Tally {
	var t Tally
	for i := 0; i < positions; i++ {
		switch AnswerState(answers[strconv.Itoa(i)]) {
		case Correct:
			t.Correct++
		case Wrong:
			t.Wrong++
		default:
			t.Unanswered++
		}
	}
	return t
}

// Action is the tagged variant carried by an interactive button press,
// parsed once at the transport boundary.
type Action interface {
	isAction()
}

// Ready starts (or resumes) the quiz for a user.
type Ready struct{}

// Forward advances the cursor, or completes the quiz at the last position.
type Forward struct{}

// Back moves the cursor toward position 0.
type Back struct{}

// Answer submits the chosen option for a sample position.
type Answer struct {
	Position int
	Choice   int
}

// Acknowledge is the position-counter button; pressing it does nothing
// beyond the callback ack.
type Acknowledge struct{}

func (Ready) isAction()       {}
func (Forward) isAction()     {}
func (Back) isAction()        {}
func (Answer) isAction()      {}
func (Acknowledge) isAction() {}

const (
	dataReady       = "ready"
	dataForward     = "forward"
	dataBack        = "back"
	dataAcknowledge = "ok_cool"
	dataAnswer      = "answer"
)

// ParseAction decodes button callback data into an Action.
// Answer buttons carry answer:<position>:<choice>.
func ParseAction(data string) (Action, error) {
	switch data {
	case dataReady:
		return Ready{}, nil
	case dataForward:
		return Forward{}, nil
	case dataBack:
		return Back{}, nil
	case dataAcknowledge:
		return Acknowledge{}, nil
	}
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != dataAnswer {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, data)
	}
	position, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: position %q", ErrInvalidAction, parts[1])
	}
	choice, err := strconv.Atoi(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: choice %q", ErrInvalidAction, parts[2])
	}
	return Answer{Position: position, Choice: choice}, nil
}

// AnswerData encodes the callback payload for an answer button.
func AnswerData(position, choice int) string {
	return fmt.Sprintf("%s:%d:%d", dataAnswer, position, choice)
}

// ReadyData is the callback payload of the intro "Ready" button.
func ReadyData() string { return dataReady }

// ForwardData, BackData and AcknowledgeData encode the navigation row.
func ForwardData() string     { return dataForward }
func BackData() string        { return dataBack }
func AcknowledgeData() string { return dataAcknowledge }
