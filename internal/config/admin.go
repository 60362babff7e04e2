package config

import (
	"fmt"
	"os"

	"github.com/nhle/incident-reporter/internal/model"
)

// Admin operations used by the admin CLI mode. Each helper reads the
// current table, applies the mutation, and saves through the validating
// atomic-replace path, so a bad mutation never lands on disk.

// EnsureDefaults writes a default document for every table whose file is
// missing, so a fresh install starts with loadable configuration.
func (s *Store) EnsureDefaults() error {
	defaults := map[Table]any{
		TableCompanies:     companiesDoc{Companies: model.AliasTable{}},
		TableIncidentCodes: incidentCodesDoc{IncidentCodes: model.AliasTable{}},
		TableKeywordRules: keywordRulesDoc{Rules: []model.KeywordRule{
			{Category: "incident", Patterns: []string{"incident", "outage", "breach", "failure"}},
			{Category: "priority", Patterns: []string{"critical", "urgent", "high priority"}},
			{Category: "status", Patterns: []string{"resolved", "ongoing", "investigating", "mitigated"}},
		}},
		TableFieldMapping: model.FieldMapping{
			Sheet: "Incidents",
			Columns: map[model.Field]string{
				model.FieldSender:       "Sender",
				model.FieldReceivedAt:   "Received",
				model.FieldCompany:      "Company",
				model.FieldIncidentCode: "Reference",
			},
		},
	}

	for table, doc := range defaults {
		if _, err := os.Stat(s.Path(table)); err == nil {
			continue
		}
		if err := s.SaveValue(table, doc); err != nil {
			return err
		}
	}
	return nil
}

// AddCompany adds or replaces a company entry.
func (s *Store) AddCompany(entry model.AliasEntry) error {
	return s.upsertAliasEntry(TableCompanies, entry)
}

// RemoveCompany deletes a company entry by key.
func (s *Store) RemoveCompany(key string) error {
	return s.removeAliasEntry(TableCompanies, key)
}

// AddIncidentCode adds or replaces an incident-code entry.
func (s *Store) AddIncidentCode(entry model.AliasEntry) error {
	return s.upsertAliasEntry(TableIncidentCodes, entry)
}

// RemoveIncidentCode deletes an incident-code entry by key.
func (s *Store) RemoveIncidentCode(key string) error {
	return s.removeAliasEntry(TableIncidentCodes, key)
}

// AddKeyword appends a pattern to a rule category, creating the category
// at the end of the rule set if it does not exist yet.
func (s *Store) AddKeyword(category, pattern string) error {
	current, err := s.KeywordRules()
	if err != nil {
		return err
	}
	rules := cloneRules(current)

	found := false
	for i := range rules {
		if rules[i].Category != category {
			continue
		}
		found = true
		for _, p := range rules[i].Patterns {
			if p == pattern {
				return nil
			}
		}
		rules[i].Patterns = append(rules[i].Patterns, pattern)
	}
	if !found {
		rules = append(rules, model.KeywordRule{
			Category: category,
			Patterns: []string{pattern},
		})
	}

	return s.SaveValue(TableKeywordRules, keywordRulesDoc{Rules: rules})
}

// RemoveKeyword deletes a pattern from a rule category. Removing the last
// pattern removes the category, since rules must keep a non-empty
// pattern list.
func (s *Store) RemoveKeyword(category, pattern string) error {
	rules, err := s.KeywordRules()
	if err != nil {
		return err
	}

	out := make([]model.KeywordRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Category == category {
			patterns := make([]string, 0, len(rule.Patterns))
			for _, p := range rule.Patterns {
				if p != pattern {
					patterns = append(patterns, p)
				}
			}
			if len(patterns) == 0 {
				continue
			}
			rule.Patterns = patterns
		}
		out = append(out, rule)
	}

	return s.SaveValue(TableKeywordRules, keywordRulesDoc{Rules: out})
}

// RemoveCategory deletes a whole rule category.
func (s *Store) RemoveCategory(category string) error {
	rules, err := s.KeywordRules()
	if err != nil {
		return err
	}

	out := make([]model.KeywordRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Category != category {
			out = append(out, rule)
		}
	}

	return s.SaveValue(TableKeywordRules, keywordRulesDoc{Rules: out})
}

// SetFieldMapping replaces the field-to-column mapping document.
func (s *Store) SetFieldMapping(mapping model.FieldMapping) error {
	return s.SaveValue(TableFieldMapping, mapping)
}

func (s *Store) upsertAliasEntry(table Table, entry model.AliasEntry) error {
	current, err := s.aliasTable(table)
	if err != nil {
		return err
	}
	entries := append(model.AliasTable(nil), current...)

	replaced := false
	for i := range entries {
		if entries[i].Key == entry.Key {
			entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, entry)
	}

	return s.saveAliasTable(table, entries)
}

func (s *Store) removeAliasEntry(table Table, key string) error {
	entries, err := s.aliasTable(table)
	if err != nil {
		return err
	}

	out := make(model.AliasTable, 0, len(entries))
	removed := false
	for _, entry := range entries {
		if entry.Key == key {
			removed = true
			continue
		}
		out = append(out, entry)
	}
	if !removed {
		return &ConfigError{Table: table, Reason: fmt.Sprintf("no entry with key %q", key)}
	}

	return s.saveAliasTable(table, out)
}

// cloneRules deep-copies a rule set. Mutation helpers must never write
// through the cached slices: a rejected save would leave the cache
// holding a table Validate refuses.
func cloneRules(rules []model.KeywordRule) []model.KeywordRule {
	out := append([]model.KeywordRule(nil), rules...)
	for i := range out {
		out[i].Patterns = append([]string(nil), out[i].Patterns...)
	}
	return out
}

func (s *Store) aliasTable(table Table) (model.AliasTable, error) {
	if table == TableCompanies {
		return s.Companies()
	}
	return s.IncidentCodes()
}

func (s *Store) saveAliasTable(table Table, entries model.AliasTable) error {
	if table == TableCompanies {
		return s.SaveValue(table, companiesDoc{Companies: entries})
	}
	return s.SaveValue(table, incidentCodesDoc{IncidentCodes: entries})
}
