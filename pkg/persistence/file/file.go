// Package file provides file-based persistence for development and tests. Every
// entity is a JSON document under root; a single mutex serialises writers so the
// guarded updates (CompareAndSwap, ClaimNext) are atomic within one process.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dukex/claimflow/pkg/persistence"
)

// Persistence implements persistence.Persistence using the file system.
type Persistence struct {
	root string
	mu   sync.Mutex

	workflowRepo   *WorkflowRepository
	executionRepo  *ExecutionRepository
	submissionRepo *SubmissionRepository
	credentialRepo *CredentialRepository
	portalRepo     *PortalConfigRepository
	caseRepo       *CaseRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.workflowRepo = &WorkflowRepository{p: p, docs: p.collection("workflows")}
	p.executionRepo = &ExecutionRepository{p: p, docs: p.collection("executions")}
	p.submissionRepo = &SubmissionRepository{p: p, docs: p.collection("submissions")}
	p.credentialRepo = &CredentialRepository{p: p, docs: p.collection("credentials")}
	p.portalRepo = &PortalConfigRepository{p: p, docs: p.collection("portals")}
	p.caseRepo = &CaseRepository{p: p, docs: p.collection("cases")}

	return p
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists and is writable.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if err := os.MkdirAll(p.root, 0o750); err != nil {
		return fmt.Errorf("file persistence root unavailable: %w", err)
	}

	return nil
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository { return p.workflowRepo }

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository { return p.executionRepo }

func (p *Persistence) SubmissionRepository() persistence.SubmissionRepository {
	return p.submissionRepo
}

func (p *Persistence) CredentialRepository() persistence.CredentialRepository {
	return p.credentialRepo
}

func (p *Persistence) PortalConfigRepository() persistence.PortalConfigRepository {
	return p.portalRepo
}

func (p *Persistence) CaseRepository() persistence.CaseRepository { return p.caseRepo }

func (p *Persistence) collection(name string) collection {
	return collection{dir: filepath.Join(p.root, name)}
}

var errDocumentNotFound = errors.New("document not found")

// collection is a directory of JSON documents keyed by id.
type collection struct {
	dir string
}

func (c collection) sub(name string) collection {
	return collection{dir: filepath.Join(c.dir, name)}
}

func validateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("id %q contains invalid characters", id)
	}

	return nil
}

func (c collection) path(id string) string {
	return filepath.Join(c.dir, id+".json")
}

func (c collection) load(id string, v any) error {
	if err := validateID(id); err != nil {
		return err
	}

	body, err := os.ReadFile(c.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return errDocumentNotFound
		}

		return fmt.Errorf("failed to read %s: %w", c.path(id), err)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", c.path(id), err)
	}

	return nil
}

// store writes atomically via a temp file and rename.
func (c collection) store(id string, v any) error {
	if err := validateID(id); err != nil {
		return err
	}

	if err := os.MkdirAll(c.dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}

	tmp, err := os.CreateTemp(c.dir, id+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s: %w", id, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to close %s: %w", id, err)
	}

	return os.Rename(tmp.Name(), c.path(id))
}

func (c collection) remove(id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	err := os.Remove(c.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", id, err)
	}

	return nil
}

// ids lists document ids in lexical order.
func (c collection) ids() ([]string, error) {
	matches, err := fs.Glob(os.DirFS(c.dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", c.dir, err)
	}

	ids := make([]string, 0, len(matches))
	for _, match := range matches {
		ids = append(ids, strings.TrimSuffix(match, ".json"))
	}

	sort.Strings(ids)

	return ids, nil
}

// loadAll decodes every document in the collection.
func loadAll[T any](c collection) ([]*T, error) {
	ids, err := c.ids()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	items := make([]*T, 0, len(ids))
	for _, id := range ids {
		item := new(T)
		if err := c.load(id, item); err != nil {
			if errors.Is(err, errDocumentNotFound) {
				continue
			}

			return nil, err
		}

		items = append(items, item)
	}

	return items, nil
}
