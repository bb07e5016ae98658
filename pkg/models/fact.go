package models

import (
	"strings"
	"time"
)

// FactCategory is the closed set of fact categories.
type FactCategory string

const (
	FactPersonal    FactCategory = "personal"
	FactPreferences FactCategory = "preferences"
	FactHealth      FactCategory = "health"
	FactWork        FactCategory = "work"
	FactFamily      FactCategory = "family"
	FactGoals       FactCategory = "goals"
	FactContext     FactCategory = "context"
	FactOther       FactCategory = "other"
)

var factCategories = map[FactCategory]bool{
	FactPersonal:    true,
	FactPreferences: true,
	FactHealth:      true,
	FactWork:        true,
	FactFamily:      true,
	FactGoals:       true,
	FactContext:     true,
	FactOther:       true,
}

// NormalizeFactCategory folds unknown categories to "other".
func NormalizeFactCategory(c string) FactCategory {
	cat := FactCategory(strings.ToLower(strings.TrimSpace(c)))
	if factCategories[cat] {
		return cat
	}
	return FactOther
}

// Fact is one persisted per-user fact.
type Fact struct {
	Key         string       `json:"key"`
	Value       string       `json:"value"`
	Category    FactCategory `json:"category"`
	CreatedAt   time.Time    `json:"created_at"`
	LastUpdated time.Time    `json:"last_updated"`
}
