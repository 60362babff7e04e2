package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/nhle/incident-reporter/internal/model"
)

// Table names one of the four persisted mapping documents.
type Table string

const (
	TableCompanies     Table = "companies"
	TableIncidentCodes Table = "incident_codes"
	TableKeywordRules  Table = "keyword_rules"
	TableFieldMapping  Table = "field_mapping"
)

// tableFiles maps each table to its document file name.
var tableFiles = map[Table]string{
	TableCompanies:     "companies.json",
	TableIncidentCodes: "incident_codes.json",
	TableKeywordRules:  "keyword_rules.json",
	TableFieldMapping:  "field_mapping.json",
}

// document wrappers matching the persisted JSON shapes.
type companiesDoc struct {
	Companies model.AliasTable `json:"companies"`
}

type incidentCodesDoc struct {
	IncidentCodes model.AliasTable `json:"incident_codes"`
}

type keywordRulesDoc struct {
	Rules []model.KeywordRule `json:"rules"`
}

// Store loads, validates, and saves the four mapping documents from a
// directory of JSON files. Tables are read-mostly; loads are cached in
// memory and the cache is invalidated on save.
type Store struct {
	dir string

	mu    sync.RWMutex
	cache map[Table]any
}

// NewStore creates a Store over the given document directory.
func NewStore(dir string) *Store {
	return &Store{
		dir:   dir,
		cache: make(map[Table]any),
	}
}

// Path returns the document path for a table.
func (s *Store) Path(table Table) string {
	return filepath.Join(s.dir, tableFiles[table])
}

// Companies returns the company alias table.
func (s *Store) Companies() (model.AliasTable, error) {
	v, err := s.load(TableCompanies)
	if err != nil {
		return nil, err
	}
	return v.(model.AliasTable), nil
}

// IncidentCodes returns the incident-code alias table.
func (s *Store) IncidentCodes() (model.AliasTable, error) {
	v, err := s.load(TableIncidentCodes)
	if err != nil {
		return nil, err
	}
	return v.(model.AliasTable), nil
}

// KeywordRules returns the ordered keyword rule set.
func (s *Store) KeywordRules() ([]model.KeywordRule, error) {
	v, err := s.load(TableKeywordRules)
	if err != nil {
		return nil, err
	}
	return v.([]model.KeywordRule), nil
}

// FieldMapping returns the field-to-column mapping.
func (s *Store) FieldMapping() (model.FieldMapping, error) {
	v, err := s.load(TableFieldMapping)
	if err != nil {
		return model.FieldMapping{}, err
	}
	return v.(model.FieldMapping), nil
}

// load returns the cached table value, reading and validating the backing
// document on first access.
func (s *Store) load(table Table) (any, error) {
	s.mu.RLock()
	if v, ok := s.cache[table]; ok {
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()

	data, err := os.ReadFile(s.Path(table))
	if err != nil {
		return nil, &ConfigError{Table: table, Reason: "reading document", Err: err}
	}

	v, err := decode(table, data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[table] = v
	s.mu.Unlock()
	return v, nil
}

// Validate checks raw document bytes for a table without touching the
// filesystem or the cache. It is used by both the load and save paths and
// by the admin collaborator.
func Validate(table Table, data []byte) error {
	_, err := decode(table, data)
	return err
}

// decode validates raw bytes against the table schema and the semantic
// invariants, returning the typed table value.
func decode(table Table, data []byte) (any, error) {
	if err := validateSchema(table, data); err != nil {
		return nil, err
	}

	switch table {
	case TableCompanies:
		var doc companiesDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, &ConfigError{Table: table, Reason: "parsing document", Err: err}
		}
		if err := validateAliasTable(table, doc.Companies); err != nil {
			return nil, err
		}
		return doc.Companies, nil

	case TableIncidentCodes:
		var doc incidentCodesDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, &ConfigError{Table: table, Reason: "parsing document", Err: err}
		}
		if err := validateAliasTable(table, doc.IncidentCodes); err != nil {
			return nil, err
		}
		return doc.IncidentCodes, nil

	case TableKeywordRules:
		var doc keywordRulesDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, &ConfigError{Table: table, Reason: "parsing document", Err: err}
		}
		if err := validateRules(doc.Rules); err != nil {
			return nil, err
		}
		return doc.Rules, nil

	case TableFieldMapping:
		var mapping model.FieldMapping
		if err := json.Unmarshal(data, &mapping); err != nil {
			return nil, &ConfigError{Table: table, Reason: "parsing document", Err: err}
		}
		return mapping, nil

	default:
		return nil, &ConfigError{Table: table, Reason: "unknown table"}
	}
}

// validateAliasTable enforces unique keys and no alias collision across
// entries of the same table. Alias comparison is case-insensitive, the
// same folding used at extraction time.
func validateAliasTable(table Table, entries model.AliasTable) error {
	keys := make(map[string]bool, len(entries))
	aliases := make(map[string]string)

	for _, entry := range entries {
		if keys[entry.Key] {
			return &ConfigError{
				Table:  table,
				Reason: fmt.Sprintf("duplicate key %q", entry.Key),
			}
		}
		keys[entry.Key] = true

		for _, alias := range entry.Aliases {
			folded := foldAlias(alias)
			if owner, ok := aliases[folded]; ok && owner != entry.Key {
				return &ConfigError{
					Table: table,
					Reason: fmt.Sprintf(
						"alias %q collides between entries %q and %q",
						alias, owner, entry.Key,
					),
				}
			}
			aliases[folded] = entry.Key
		}
	}

	return nil
}

// validateRules enforces unique categories over the rule set. Non-empty
// pattern lists are already guaranteed by the schema.
func validateRules(rules []model.KeywordRule) error {
	seen := make(map[string]bool, len(rules))
	for _, rule := range rules {
		if seen[rule.Category] {
			return &ConfigError{
				Table:  TableKeywordRules,
				Reason: fmt.Sprintf("duplicate category %q", rule.Category),
			}
		}
		seen[rule.Category] = true
	}
	return nil
}

// Save validates the document and atomically replaces the table file
// (write temp, fsync, rename), taking a timestamped backup of the
// previous document first. The cache entry is invalidated on success.
func (s *Store) Save(table Table, data []byte) error {
	if err := Validate(table, data); err != nil {
		return err
	}

	// Canonical form keeps saved documents byte-stable for diffs and
	// backups regardless of the caller's key order.
	canonical, err := jcs.Transform(data)
	if err != nil {
		return &ConfigError{Table: table, Reason: "canonicalizing document", Err: err}
	}

	path := s.Path(table)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &ConfigError{Table: table, Reason: "creating config directory", Err: err}
	}

	if err := backup(path); err != nil {
		return &ConfigError{Table: table, Reason: "backing up document", Err: err}
	}

	if err := writeAtomic(path, canonical); err != nil {
		return &ConfigError{Table: table, Reason: "writing document", Err: err}
	}

	s.mu.Lock()
	delete(s.cache, table)
	s.mu.Unlock()
	return nil
}

// SaveValue marshals a typed table document and saves it.
func (s *Store) SaveValue(table Table, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &ConfigError{Table: table, Reason: "encoding document", Err: err}
	}
	return s.Save(table, data)
}

// Invalidate drops all cached tables, forcing reloads from disk.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[Table]any)
}

// foldAlias lowercases an alias for collision checks, the same folding
// applied when scanning message bodies.
func foldAlias(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// backup copies the existing document to <name>.bak-<timestamp>. A
// missing document is not an error; there is nothing to back up.
func backup(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	stamp := time.Now().Format("20060102-150405")
	return os.WriteFile(fmt.Sprintf("%s.bak-%s", path, stamp), data, 0o644)
}

// writeAtomic writes data to a temp file in the target directory, fsyncs,
// and renames over the destination so a crash mid-write never leaves a
// half-written document.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}
