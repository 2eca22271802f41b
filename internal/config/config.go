package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Bot struct {
		Token       string `yaml:"token"`
		WebhookPath string `yaml:"webhook_path"`
	} `yaml:"bot"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Catalog struct {
		Path string `yaml:"path"`
	} `yaml:"catalog"`
	Gate    Gate    `yaml:"gate"`
	Strings Strings `yaml:"strings"`
}

// Gate is the admission-gate tuning surface.
type Gate struct {
	QuestionsCount int     `yaml:"questions_count"`
	CorrectAnswers int     `yaml:"correct_answers"`
	Chats          []int64 `yaml:"chats"`
	Sweep          struct {
		Enabled  bool   `yaml:"enabled"`
		Interval string `yaml:"interval"`
		Grace    string `yaml:"grace"`
	} `yaml:"sweep"`
	AnnounceEvictions   bool `yaml:"announce_evictions"`
	DeleteLeaveMessages bool `yaml:"delete_leave_messages"`
}

// Strings holds the user-facing copy; every field has a default so the
// section may be omitted entirely.
type Strings struct {
	Intro           string `yaml:"intro"`
	Ready           string `yaml:"ready"`
	FinishRemaining string `yaml:"finish_remaining"`
	AlreadyAnswered string `yaml:"already_answered"`
	Passed          string `yaml:"passed"`
	Failed          string `yaml:"failed"`
	CorrectChoice   string `yaml:"correct_choice"`
	WrongChoice     string `yaml:"wrong_choice"`
	Evicted         string `yaml:"evicted"`
}

// Load reads YAML config from path, applies string defaults, and validates.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.Strings = cfg.Strings.withDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate enforces the startup invariants; failures are fatal before the
// bot serves any event.
func (c Config) Validate() error {
	if c.Gate.QuestionsCount <= 0 {
		return fmt.Errorf("config: questions_count must be positive, got %d", c.Gate.QuestionsCount)
	}
	if c.Gate.CorrectAnswers <= 0 {
		return fmt.Errorf("config: correct_answers must be positive, got %d", c.Gate.CorrectAnswers)
	}
	if c.Gate.CorrectAnswers > c.Gate.QuestionsCount {
		return fmt.Errorf("config: correct_answers %d exceeds questions_count %d",
			c.Gate.CorrectAnswers, c.Gate.QuestionsCount)
	}
	if len(c.Gate.Chats) == 0 {
		return fmt.Errorf("config: no monitored chats configured")
	}
	return nil
}

func (s Strings) withDefaults() Strings {
	def := func(v *string, fallback string) {
		if *v == "" {
			*v = fallback
		}
	}
	def(&s.Intro, "Welcome! You are muted until you pass a short quiz: answer at least %d of %d questions correctly (%d%%). Press the button when you are ready.")
	def(&s.Ready, "Ready")
	def(&s.FinishRemaining, "Finish the remaining questions first.")
	def(&s.AlreadyAnswered, "You already answered this question.")
	def(&s.Passed, "Enough correct answers, welcome aboard!")
	def(&s.Failed, "Not enough correct answers, you stay on the wait list.")
	def(&s.CorrectChoice, "Correct choice.")
	def(&s.WrongChoice, "Wrong choice.")
	def(&s.Evicted, "%s was removed: never started the quiz.")
	return s
}

// Duration parses a duration string or returns the fallback if empty or invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
