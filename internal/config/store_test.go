package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nhle/incident-reporter/internal/model"
)

func writeTable(t *testing.T, dir string, table Table, content string) {
	t.Helper()
	path := filepath.Join(dir, tableFiles[table])
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", table, err)
	}
}

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	return NewStore(dir), dir
}

func TestLoadCompanies(t *testing.T) {
	s, dir := newTestStore(t)
	writeTable(t, dir, TableCompanies, `{
		"companies": [
			{"key": "acme", "display_name": "Acme Inc.", "aliases": ["Acme Corp"]}
		]
	}`)

	companies, err := s.Companies()
	if err != nil {
		t.Fatalf("Companies: %v", err)
	}
	if len(companies) != 1 || companies[0].DisplayName != "Acme Inc." {
		t.Errorf("unexpected table: %+v", companies)
	}
}

func TestLoadMissingDocument(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Companies()
	if err == nil {
		t.Fatal("expected an error for a missing document")
	}
	if !IsConfigError(err) {
		t.Errorf("error %v should be a ConfigError", err)
	}
}

func TestLoadDuplicateCategory(t *testing.T) {
	s, dir := newTestStore(t)
	writeTable(t, dir, TableKeywordRules, `{
		"rules": [
			{"category": "incident", "patterns": ["outage"]},
			{"category": "incident", "patterns": ["breach"]}
		]
	}`)

	rules, err := s.KeywordRules()
	if err == nil {
		t.Fatalf("expected ConfigError for duplicate category, got table %+v", rules)
	}
	if !IsConfigError(err) {
		t.Errorf("error %v should be a ConfigError", err)
	}
	if !strings.Contains(err.Error(), "duplicate category") {
		t.Errorf("error %v should name the duplicate category", err)
	}
}

func TestLoadEmptyPatternList(t *testing.T) {
	s, dir := newTestStore(t)
	writeTable(t, dir, TableKeywordRules, `{
		"rules": [{"category": "incident", "patterns": []}]
	}`)

	if _, err := s.KeywordRules(); !IsConfigError(err) {
		t.Errorf("error %v should be a ConfigError (empty pattern list)", err)
	}
}

func TestLoadAliasCollision(t *testing.T) {
	s, dir := newTestStore(t)
	writeTable(t, dir, TableCompanies, `{
		"companies": [
			{"key": "acme", "display_name": "Acme Inc.", "aliases": ["ACME"]},
			{"key": "other", "display_name": "Other Co", "aliases": ["acme"]}
		]
	}`)

	if _, err := s.Companies(); !IsConfigError(err) {
		t.Errorf("error %v should be a ConfigError (alias collision)", err)
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	s, dir := newTestStore(t)
	writeTable(t, dir, TableFieldMapping, `{"sheet": "Incidents",`)

	if _, err := s.FieldMapping(); !IsConfigError(err) {
		t.Errorf("error %v should be a ConfigError (malformed JSON)", err)
	}
}

func TestFieldMappingRequiresAllFields(t *testing.T) {
	s, dir := newTestStore(t)
	writeTable(t, dir, TableFieldMapping, `{
		"sheet": "Incidents",
		"columns": {"sender": "Sender"}
	}`)

	if _, err := s.FieldMapping(); !IsConfigError(err) {
		t.Errorf("error %v should be a ConfigError (incomplete mapping)", err)
	}
}

func TestSaveRejectsInvalidDocument(t *testing.T) {
	s, dir := newTestStore(t)

	err := s.Save(TableKeywordRules, []byte(`{"rules": [{"category": "", "patterns": ["x"]}]}`))
	if !IsConfigError(err) {
		t.Fatalf("error %v should be a ConfigError", err)
	}

	// Nothing may land on disk for a rejected save.
	if _, statErr := os.Stat(filepath.Join(dir, tableFiles[TableKeywordRules])); !os.IsNotExist(statErr) {
		t.Error("rejected save must not write the document")
	}
}

func TestSaveRoundTripAndCacheInvalidation(t *testing.T) {
	s, dir := newTestStore(t)
	writeTable(t, dir, TableCompanies, `{"companies": []}`)

	if _, err := s.Companies(); err != nil {
		t.Fatalf("initial load: %v", err)
	}

	err := s.SaveValue(TableCompanies, companiesDoc{Companies: model.AliasTable{
		{Key: "acme", DisplayName: "Acme Inc.", Aliases: []string{"Acme"}},
	}})
	if err != nil {
		t.Fatalf("SaveValue: %v", err)
	}

	companies, err := s.Companies()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(companies) != 1 || companies[0].Key != "acme" {
		t.Errorf("save must invalidate the cache; got %+v", companies)
	}
}

func TestSaveBacksUpPreviousDocument(t *testing.T) {
	s, dir := newTestStore(t)
	writeTable(t, dir, TableCompanies, `{"companies": []}`)

	err := s.SaveValue(TableCompanies, companiesDoc{Companies: model.AliasTable{}})
	if err != nil {
		t.Fatalf("SaveValue: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, tableFiles[TableCompanies]+".bak-*"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) == 0 {
		t.Error("saving over an existing document should leave a backup")
	}
}

func TestEnsureDefaults(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.EnsureDefaults(); err != nil {
		t.Fatalf("EnsureDefaults: %v", err)
	}

	if _, err := s.Companies(); err != nil {
		t.Errorf("default companies table should load: %v", err)
	}
	rules, err := s.KeywordRules()
	if err != nil {
		t.Fatalf("default rules should load: %v", err)
	}
	if len(rules) == 0 {
		t.Error("default rule set should not be empty")
	}
	mapping, err := s.FieldMapping()
	if err != nil {
		t.Fatalf("default mapping should load: %v", err)
	}
	for _, field := range model.Fields {
		if _, ok := mapping.Column(field); !ok {
			t.Errorf("default mapping missing field %q", field)
		}
	}
}

func TestAdminAddRemoveKeyword(t *testing.T) {
	s, dir := newTestStore(t)
	writeTable(t, dir, TableKeywordRules, `{
		"rules": [{"category": "incident", "patterns": ["outage"]}]
	}`)

	if err := s.AddKeyword("incident", "breach"); err != nil {
		t.Fatalf("AddKeyword existing category: %v", err)
	}
	if err := s.AddKeyword("status", "resolved"); err != nil {
		t.Fatalf("AddKeyword new category: %v", err)
	}

	rules, err := s.KeywordRules()
	if err != nil {
		t.Fatalf("KeywordRules: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("rule count = %d, want 2", len(rules))
	}
	if len(rules[0].Patterns) != 2 {
		t.Errorf("incident patterns = %v, want outage+breach", rules[0].Patterns)
	}

	// Removing the last pattern removes the category.
	if err := s.RemoveKeyword("status", "resolved"); err != nil {
		t.Fatalf("RemoveKeyword: %v", err)
	}
	rules, err = s.KeywordRules()
	if err != nil {
		t.Fatalf("KeywordRules after remove: %v", err)
	}
	if len(rules) != 1 || rules[0].Category != "incident" {
		t.Errorf("rules after remove = %+v", rules)
	}
}

func TestAdminFailedMutationLeavesCacheIntact(t *testing.T) {
	s, dir := newTestStore(t)
	writeTable(t, dir, TableCompanies, `{
		"companies": [
			{"key": "acme", "display_name": "Acme Inc.", "aliases": ["Acme"]},
			{"key": "globex", "display_name": "Globex Corporation", "aliases": ["Globex"]}
		]
	}`)

	// Prime the cache.
	if _, err := s.Companies(); err != nil {
		t.Fatalf("initial load: %v", err)
	}

	// Colliding alias: validation rejects the save.
	err := s.AddCompany(model.AliasEntry{
		Key:         "acme",
		DisplayName: "Evil Acme",
		Aliases:     []string{"Globex"},
	})
	if !IsConfigError(err) {
		t.Fatalf("error %v should be a ConfigError (alias collision)", err)
	}

	companies, err := s.Companies()
	if err != nil {
		t.Fatalf("Companies after rejected save: %v", err)
	}
	if len(companies) != 2 || companies[0].DisplayName != "Acme Inc." {
		t.Errorf("rejected mutation leaked into the cache: %+v", companies)
	}

	// Removing an entry that fails later must not leave a half-filtered
	// table behind either.
	if err := s.RemoveCompany("nope"); !IsConfigError(err) {
		t.Fatalf("error %v should be a ConfigError", err)
	}
	companies, err = s.Companies()
	if err != nil {
		t.Fatalf("Companies after failed remove: %v", err)
	}
	if len(companies) != 2 {
		t.Errorf("failed remove altered the cached table: %+v", companies)
	}
}

func TestAdminFailedKeywordMutationLeavesCacheIntact(t *testing.T) {
	s, dir := newTestStore(t)
	writeTable(t, dir, TableKeywordRules, `{
		"rules": [{"category": "incident", "patterns": ["outage"]}]
	}`)

	if _, err := s.KeywordRules(); err != nil {
		t.Fatalf("initial load: %v", err)
	}

	// Empty pattern fails schema validation on save.
	if err := s.AddKeyword("incident", ""); !IsConfigError(err) {
		t.Fatalf("error %v should be a ConfigError (empty pattern)", err)
	}

	rules, err := s.KeywordRules()
	if err != nil {
		t.Fatalf("KeywordRules after rejected save: %v", err)
	}
	if len(rules) != 1 || len(rules[0].Patterns) != 1 || rules[0].Patterns[0] != "outage" {
		t.Errorf("rejected mutation leaked into the cached rules: %+v", rules)
	}
}

func TestAdminRemoveMissingCompany(t *testing.T) {
	s, dir := newTestStore(t)
	writeTable(t, dir, TableCompanies, `{"companies": []}`)

	if err := s.RemoveCompany("nope"); !IsConfigError(err) {
		t.Errorf("error %v should be a ConfigError", err)
	}
}
